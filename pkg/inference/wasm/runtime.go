// Package wasm runs model executables compiled to WebAssembly with wazero.
//
// A model module exports:
//
//	memory                                  linear memory
//	alloc(size i32) -> ptr i32              reserve size bytes
//	infer(in_ptr, in_len, out_ptr, out_cap i32) -> n i32
//	                                        read in_len float32 values, write n <= out_cap float32 values
//	input_rank() -> i32, input_dim(i) -> i32   optional declared input shape
//	output_rank() -> i32, output_dim(i) -> i32 optional declared output shape
//
// Values are little-endian float32. Each Run instantiates a fresh module instance, so a handle
// may be used concurrently.
package wasm

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"slices"

	"senseflow/pkg/apperr"
	"senseflow/pkg/interfaces"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

const (
	exportMemory     = "memory"
	exportAlloc      = "alloc"
	exportInfer      = "infer"
	exportInputRank  = "input_rank"
	exportInputDim   = "input_dim"
	exportOutputRank = "output_rank"
	exportOutputDim  = "output_dim"
)

// Runtime wazero-backed inference runtime
type Runtime struct {
	runtime wazero.Runtime
}

var _ interfaces.InferenceRuntime = (*Runtime)(nil)

// NewRuntime creates a runtime with WASI preview1 host functions and an in-memory compilation cache
func NewRuntime(ctx context.Context) (*Runtime, error) {
	cfg := wazero.NewRuntimeConfig().WithCompilationCache(wazero.NewCompilationCache())
	r := wazero.NewRuntimeWithConfig(ctx, cfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}
	return &Runtime{runtime: r}, nil
}

// Load compiles the module at path and checks its exports
func (r *Runtime) Load(ctx context.Context, path string) (interfaces.ModelHandle, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}
	return r.LoadBytes(ctx, wasmBytes)
}

// LoadBytes compiles a module from memory
func (r *Runtime) LoadBytes(ctx context.Context, wasmBytes []byte) (interfaces.ModelHandle, error) {
	compiled, err := r.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}

	exports := compiled.ExportedFunctions()
	for _, name := range []string{exportAlloc, exportInfer} {
		if _, ok := exports[name]; !ok {
			_ = compiled.Close(ctx)
			return nil, fmt.Errorf("WASM module does not export %q", name)
		}
	}
	if _, ok := compiled.ExportedMemories()[exportMemory]; !ok {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("WASM module does not export %q", exportMemory)
	}

	h := &handle{runtime: r.runtime, compiled: compiled}

	// read declared shapes once from a probe instance
	mod, err := h.instantiate(ctx)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}
	defer mod.Close(ctx)

	if h.inputShape, err = declaredShape(ctx, mod, exportInputRank, exportInputDim); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}
	if h.outputShape, err = declaredShape(ctx, mod, exportOutputRank, exportOutputDim); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}
	return h, nil
}

// Close releases the runtime and every compiled module
func (r *Runtime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

type handle struct {
	runtime     wazero.Runtime
	compiled    wazero.CompiledModule
	inputShape  []int
	outputShape []int
}

func (h *handle) InputShape() []int {
	return h.inputShape
}

func (h *handle) instantiate(ctx context.Context) (api.Module, error) {
	// anonymous instances may coexist; reactor modules initialize through _initialize
	cfg := wazero.NewModuleConfig().WithName("").WithStartFunctions("_initialize")
	mod, err := h.runtime.InstantiateModule(ctx, h.compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}
	return mod, nil
}

func (h *handle) Run(ctx context.Context, input *interfaces.Tensor) (*interfaces.Tensor, error) {
	if err := CheckShape(h.inputShape, input); err != nil {
		return nil, err
	}

	mod, err := h.instantiate(ctx)
	if err != nil {
		return nil, err
	}
	defer mod.Close(ctx)

	outCap := product(h.outputShape)
	if outCap == 0 {
		outCap = len(input.Data)
	}

	inPtr, err := alloc(ctx, mod, len(input.Data)*4)
	if err != nil {
		return nil, err
	}
	outPtr, err := alloc(ctx, mod, outCap*4)
	if err != nil {
		return nil, err
	}

	if !mod.Memory().Write(inPtr, encodeFloat32s(input.Data)) {
		return nil, fmt.Errorf("input of %d values does not fit module memory", len(input.Data))
	}

	res, err := mod.ExportedFunction(exportInfer).Call(ctx,
		uint64(inPtr), uint64(len(input.Data)), uint64(outPtr), uint64(outCap))
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	n := int(int32(res[0]))
	if n < 0 || n > outCap {
		return nil, fmt.Errorf("inference returned invalid output length %d (capacity %d)", n, outCap)
	}

	raw, ok := mod.Memory().Read(outPtr, uint32(n*4))
	if !ok {
		return nil, fmt.Errorf("output of %d values is outside module memory", n)
	}

	shape := []int{n}
	if len(h.outputShape) > 0 && product(h.outputShape) == n {
		shape = slices.Clone(h.outputShape)
	}
	return &interfaces.Tensor{Shape: shape, Data: decodeFloat32s(raw)}, nil
}

func (h *handle) Close(ctx context.Context) error {
	return h.compiled.Close(ctx)
}

// CheckShape verifies the tensor is consistent and matches the declared shape, when there is one
func CheckShape(declared []int, t *interfaces.Tensor) error {
	if t == nil {
		return apperr.ShapeMismatch("nil input tensor")
	}
	if t.Size() != len(t.Data) {
		return apperr.ShapeMismatch("tensor shape %v implies %d values, got %d", t.Shape, t.Size(), len(t.Data))
	}
	if len(declared) > 0 && !slices.Equal(declared, t.Shape) {
		return apperr.ShapeMismatch("model expects input shape %v, got %v", declared, t.Shape)
	}
	return nil
}

func alloc(ctx context.Context, mod api.Module, size int) (uint32, error) {
	res, err := mod.ExportedFunction(exportAlloc).Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("alloc(%d) failed: %w", size, err)
	}
	return uint32(res[0]), nil
}

func declaredShape(ctx context.Context, mod api.Module, rankName, dimName string) ([]int, error) {
	rankFn := mod.ExportedFunction(rankName)
	dimFn := mod.ExportedFunction(dimName)
	if rankFn == nil || dimFn == nil {
		return nil, nil
	}
	res, err := rankFn.Call(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s() failed: %w", rankName, err)
	}
	rank := int(int32(res[0]))
	if rank <= 0 {
		return nil, nil
	}
	shape := make([]int, rank)
	for i := range shape {
		res, err := dimFn.Call(ctx, uint64(i))
		if err != nil {
			return nil, fmt.Errorf("%s(%d) failed: %w", dimName, i, err)
		}
		shape[i] = int(int32(res[0]))
	}
	return shape, nil
}

func product(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func encodeFloat32s(values []float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeFloat32s(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
