package interfaces

import (
	"context"

	"senseflow/internal/model"
)

// ModelRegistry read-only model registry client
type ModelRegistry interface {
	// ListModels returns every registered descriptor, malformed ones included
	ListModels(ctx context.Context) ([]model.ModelDescriptor, error)
}
