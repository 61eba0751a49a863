package interfaces

import (
	"context"
)

// Tensor dense float32 tensor in row-major order
type Tensor struct {
	Shape []int
	Data  []float32
}

// Size returns the element count implied by Shape
func (t *Tensor) Size() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// ModelHandle loaded executable
type ModelHandle interface {
	// InputShape returns the shape the executable expects, nil when it does not declare one
	InputShape() []int

	// Run invokes inference; the input shape is checked before invocation
	Run(ctx context.Context, input *Tensor) (*Tensor, error)

	// Close releases the executable
	Close(ctx context.Context) error
}

// InferenceRuntime loads executables from local paths
type InferenceRuntime interface {
	Load(ctx context.Context, path string) (ModelHandle, error)
}

// ArtifactFetcher materializes an executable reference as a local file path
type ArtifactFetcher interface {
	Fetch(ctx context.Context, name, ref string) (string, error)
}
