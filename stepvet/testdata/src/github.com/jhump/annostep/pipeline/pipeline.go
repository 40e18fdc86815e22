package pipeline

type PipelineContext struct{}

type StepsBlock struct{}

func (b *StepsBlock) Context() *PipelineContext { return nil }

type StepResult struct{}

type PipelineData[T any] struct{ Value T }
