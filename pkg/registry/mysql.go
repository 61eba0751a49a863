package registry

import (
	"context"
	"encoding/json"

	"senseflow/internal/model"
	"senseflow/pkg/interfaces"
	"senseflow/pkg/logger"
	mysqlstore "senseflow/pkg/store/mysql"
)

// MySQLRegistry reads descriptors from the model_registry table on every call
type MySQLRegistry struct {
	repo *mysqlstore.ModelRepository
}

var _ interfaces.ModelRegistry = (*MySQLRegistry)(nil)

// NewMySQLRegistry creates a registry over the model repository
func NewMySQLRegistry(repo *mysqlstore.ModelRepository) *MySQLRegistry {
	return &MySQLRegistry{repo: repo}
}

// ListModels returns all rows as descriptors; rows whose features cannot be decoded keep an
// empty feature list so the resolver reports them as malformed
func (r *MySQLRegistry) ListModels(ctx context.Context) ([]model.ModelDescriptor, error) {
	entries, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.ModelDescriptor, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryToDescriptor(ctx, e))
	}
	return out, nil
}

func entryToDescriptor(ctx context.Context, e *mysqlstore.ModelRegistryEntry) model.ModelDescriptor {
	d := model.ModelDescriptor{
		ModelName:    e.ModelName,
		Sensors:      []string(e.Sensors),
		InputShape:   []int(e.InputShape),
		URL:          e.URL,
		Priority:     e.Priority,
		Description:  e.Description,
		Requirements: e.ExecutionRequirements,
	}
	if len(e.Features) > 0 {
		if err := json.Unmarshal(e.Features, &d.Features); err != nil {
			logger.WarnCtx(ctx, "registry: model %s has undecodable features: %v", e.ModelName, err)
			d.Features = model.FeatureSpec{}
		}
	}
	return d
}
