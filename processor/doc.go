// Package processor finds pipeline steps in Go source and prepares them to be
// used from the pipeline runtime.
//
// A step is a top-level function annotated with @annostep.Step in its doc
// comment:
//
//	// @annostep.Step{Name: "Fetch", Category: annostep.CategoryUtil}
//	func Fetch(url string) (pipeline.StepResult, error) {
//		...
//	}
//
// The package defines an interface, Processor, which is implemented by things
// that act on the steps of a program once the built-in processing is done.
//
//	func(s *Session, output processor.OutputFactory) error
//
// # Sessions
//
// All work happens in a Session, which holds the registry of steps found and
// the diagnostics reported. A session runs in two stages.
//
// The frontend reads annotations, checks every step's signature against the
// rules of the pipeline runtime, registers valid steps and checks calls made
// from restricted steps. It reports problems as diagnostics and never changes
// source. If it reports any errors, processing stops with a *DiagnosticsError.
//
// The backend rewrites each step that has no context parameter so that it
// takes a *pipeline.PipelineContext first. It then visits every call to such a
// step. Calls that already pass a context are kept; others are kept too and
// reported, since the generated Steps type is the way to call a step from a
// pipeline. Finally it generates two files per package: <pkg>.steps.go, with
// the Steps type whose methods forward to the steps, and <pkg>.stepinfo.go,
// whose init function registers the steps with the runtime.
//
// # Processor Registration
//
// Processor implementations can be registered with this package using the
// RegisterProcessor function. All registered processors can later be queried
// with the AllRegisteredProcessors function. The aptstep program (included in
// this repo) runs all registered processors after its own processing.
//
// # Processor Invocation
//
// The main entry point is Config. It names the packages to process, the
// options of the session, the processors to run and the output factory, which
// controls where rewritten sources and generated files are written. Its
// Execute method loads and type-checks the packages and runs a session.
//
// Process and ProcessAll are shortcuts that build a Config with typical
// values. ProcessAll invokes every registered processor.
package processor
