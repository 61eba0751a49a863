package mysql

import (
	"context"
	"fmt"
)

// ModelRepository reads the model registry table
type ModelRepository struct {
	ds *Datastore
}

// NewModelRepository creates a new model repository
func NewModelRepository(ds *Datastore) *ModelRepository {
	return &ModelRepository{ds: ds}
}

// List returns every registry row ordered by name
func (r *ModelRepository) List(ctx context.Context) ([]*ModelRegistryEntry, error) {
	var entries []*ModelRegistryEntry
	if err := r.ds.DB(ctx).Order("model_name ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return entries, nil
}

// Upsert creates or replaces a registry row by model name (provisioning and tests)
func (r *ModelRepository) Upsert(ctx context.Context, entry *ModelRegistryEntry) error {
	var existing ModelRegistryEntry
	err := r.ds.DB(ctx).Where("model_name = ?", entry.ModelName).Limit(1).Find(&existing).Error
	if err != nil {
		return fmt.Errorf("failed to look up model %s: %w", entry.ModelName, err)
	}
	if existing.ID != 0 {
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
	}
	if err := r.ds.DB(ctx).Save(entry).Error; err != nil {
		return fmt.Errorf("failed to save model %s: %w", entry.ModelName, err)
	}
	return nil
}
