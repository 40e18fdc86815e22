// Package pipeline is the small runtime that code generated by aptstep
// targets. Steps receive a *PipelineContext and are invoked from inside a
// StepsBlock, usually through the generated Steps type of the package that
// declares them:
//
//    results, err := pipeline.Run(ctx, "release", func(b *pipeline.StepsBlock) {
//        deploy.StepsOf(b).Publish("v1.2.3")
//    })
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// PipelineContext is the execution handle that every step receives as its
// first parameter.
type PipelineContext struct {
	context.Context

	// Name of the running pipeline.
	Name string
	// Workspace is the directory in which steps operate.
	Workspace string
	// Env holds environment values visible to steps.
	Env map[string]string
	// Logger is the pipeline's logger. Never nil for contexts created by
	// NewContext.
	Logger *slog.Logger

	mu     sync.Mutex
	values map[string]any
}

// NewContext returns a context for the named pipeline.
func NewContext(ctx context.Context, name string) *PipelineContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &PipelineContext{
		Context: ctx,
		Name:    name,
		Env:     map[string]string{},
		Logger:  slog.Default().With(slog.String("pipeline", name)),
		values:  map[string]any{},
	}
}

// Set stores a value shared between steps.
func (c *PipelineContext) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = map[string]any{}
	}
	c.values[key] = v
}

// Get returns a value stored with Set.
func (c *PipelineContext) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// StepResult is the outcome of a step that reports one.
type StepResult struct {
	Name    string
	Success bool
	Output  string
	Err     error
}

// Succeeded returns a successful result with the given output.
func Succeeded(name, output string) StepResult {
	return StepResult{Name: name, Success: true, Output: output}
}

// Failed returns a failed result.
func Failed(name string, err error) StepResult {
	return StepResult{Name: name, Err: err}
}

func (r StepResult) String() string {
	if r.Success {
		return fmt.Sprintf("%s: ok", r.Name)
	}
	return fmt.Sprintf("%s: failed: %v", r.Name, r.Err)
}

// PipelineData wraps a typed value passed between steps.
type PipelineData[T any] struct {
	Value    T
	Metadata map[string]string
}

// DataOf wraps v.
func DataOf[T any](v T) PipelineData[T] {
	return PipelineData[T]{Value: v, Metadata: map[string]string{}}
}

// StepsBlock is the receiver of a pipeline's steps block. Generated Steps
// types are defined over it.
type StepsBlock struct {
	ctx     *PipelineContext
	results []StepResult
}

// NewStepsBlock returns a block bound to the given context.
func NewStepsBlock(ctx *PipelineContext) *StepsBlock {
	return &StepsBlock{ctx: ctx}
}

// Context returns the context supplied to steps called from this block.
func (b *StepsBlock) Context() *PipelineContext {
	return b.ctx
}

// Record adds a result to the block.
func (b *StepsBlock) Record(r StepResult) {
	b.results = append(b.results, r)
}

// Results returns the results recorded so far.
func (b *StepsBlock) Results() []StepResult {
	res := make([]StepResult, len(b.results))
	copy(res, b.results)
	return res
}

// Run executes body with a fresh block and returns the recorded results. The
// first failed result, if any, is returned as the error.
func Run(ctx context.Context, name string, body func(*StepsBlock)) ([]StepResult, error) {
	b := NewStepsBlock(NewContext(ctx, name))
	body(b)
	res := b.Results()
	for _, r := range res {
		if !r.Success {
			return res, fmt.Errorf("pipeline %s: step %s", name, r)
		}
	}
	return res, nil
}
