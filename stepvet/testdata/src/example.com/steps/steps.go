package steps

import (
	"example.com/tools"

	_ "github.com/jhump/annostep"
	"github.com/jhump/annostep/pipeline"
)

// @annostep.Step{SecurityLevel: annostep.Trusted}
func Release(version string) { // want Release:"step Release TRUSTED"
	tools.RotateKeys(version)
	Publish(version)
}

// @annostep.Step{Name: "publish", Category: annostep.CategoryDeploy}
func Publish(version string) { // want Publish:"step publish RESTRICTED"
	tools.Lint(version)
	tools.RotateKeys(version) // want "restricted step publish cannot call trusted step rotate-keys"
	Release(version)          // want "restricted step publish cannot call trusted step Release"
	tools.Helper()
}

// @annostep.Step{}
func Migrated(pctx *pipeline.PipelineContext, message string) (pipeline.StepResult, error) { // want Migrated:"step Migrated RESTRICTED"
	return pipeline.StepResult{}, nil
}

// @annostep.Step{}
func Legacy(message string, ctx *pipeline.PipelineContext) { // want Legacy:"step Legacy RESTRICTED" "parameter ctx has type \\*pipeline.PipelineContext; the pipeline context is supplied automatically"
}

// @annostep.Step{}
func hidden() {} // want hidden:"step hidden RESTRICTED" "step hidden is unexported"

// @annostep.Step{}
func Watch(path string) <-chan int { // want Watch:"step Watch RESTRICTED" "step Watch has unsupported return type <-chan int"
	return nil
}

type Runner struct{}

// @annostep.Step{}
func (Runner) Go() {} // want "not allowed on method Go; steps must be package-level functions"

func Caller() {
	tools.RotateKeys("prod")
}
