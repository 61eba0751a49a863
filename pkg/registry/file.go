package registry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"senseflow/internal/model"
	"senseflow/pkg/interfaces"
	"senseflow/pkg/logger"

	"gopkg.in/yaml.v3"
)

// fileDocument registry YAML layout
type fileDocument struct {
	Models []model.ModelDescriptor `yaml:"models"`
}

// FileRegistry reads descriptors from a YAML file, re-reading it when its mtime changes
type FileRegistry struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	models  []model.ModelDescriptor
}

var _ interfaces.ModelRegistry = (*FileRegistry)(nil)

// NewFileRegistry creates a file registry and loads it once
func NewFileRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{path: path}
	if _, err := r.ListModels(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

// ListModels returns a copy of the current descriptors
func (r *FileRegistry) ListModels(ctx context.Context) ([]model.ModelDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat registry file: %w", err)
	}
	if r.models == nil || !info.ModTime().Equal(r.modTime) {
		data, err := os.ReadFile(r.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read registry file: %w", err)
		}
		var doc fileDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse registry file %s: %w", r.path, err)
		}
		if doc.Models == nil {
			doc.Models = []model.ModelDescriptor{}
		}
		r.models = doc.Models
		r.modTime = info.ModTime()
		logger.InfoCtx(ctx, "registry: loaded %d models from %s", len(r.models), r.path)
	}

	out := make([]model.ModelDescriptor, len(r.models))
	copy(out, r.models)
	return out, nil
}
