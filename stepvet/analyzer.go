// Package stepvet exposes the checks that aptstep runs before rewriting
// anything as an analysis.Analyzer, so they can run under go vet or gopls
// without generating code.
//
// Steps are exported as facts, which lets a restricted step in one package be
// checked against the security level of a trusted step declared in another.
package stepvet

import (
	"context"
	"fmt"
	"go/token"
	"go/types"
	"reflect"

	"golang.org/x/tools/go/analysis"

	"github.com/jhump/annostep"
	"github.com/jhump/annostep/processor"
)

// StepFact is exported for each package-level function annotated with
// @annostep.Step.
type StepFact struct {
	Name  string
	Level annostep.SecurityLevel
}

func (*StepFact) AFact() {}

func (f *StepFact) String() string {
	return fmt.Sprintf("step %s %v", f.Name, f.Level)
}

var Analyzer = &analysis.Analyzer{
	Name:       "stepvet",
	Doc:        "check functions annotated with @annostep.Step",
	Run:        run,
	FactTypes:  []analysis.Fact{(*StepFact)(nil)},
	ResultType: reflect.TypeOf((*processor.Registry)(nil)),
}

var (
	annotationPackage  string
	runtimePackage     string
	allowLegacyContext bool
)

func init() {
	def := processor.DefaultWellKnown()
	Analyzer.Flags.StringVar(&annotationPackage, "annotation_package", def.AnnotationPackage,
		"import path of the package that declares the Step annotation")
	Analyzer.Flags.StringVar(&runtimePackage, "runtime_package", def.RuntimePackage,
		"import path of the pipeline runtime package")
	Analyzer.Flags.BoolVar(&allowLegacyContext, "allow_legacy_context", false,
		"report context parameters declared by hand as warnings instead of errors")
}

func options() processor.Options {
	opts := processor.DefaultOptions()
	opts.WellKnown.AnnotationPackage = annotationPackage
	opts.WellKnown.RuntimePackage = runtimePackage
	opts.AllowLegacyContext = allowLegacyContext
	// vet never writes anything
	opts.EnableContextInjection = false
	opts.EnableDSLGeneration = false
	opts.EmitStepInfo = false
	return opts
}

func run(pass *analysis.Pass) (interface{}, error) {
	pkg := &processor.Package{
		Path:  pass.Pkg.Path(),
		Name:  pass.Pkg.Name(),
		Fset:  pass.Fset,
		Files: pass.Files,
		Types: pass.Pkg,
		Info:  pass.TypesInfo,
	}
	s := processor.NewSession(processor.NewProgram(pass.Fset, pkg), options(), nil)
	s.ExternalStep = func(fn *types.Func) (string, annostep.SecurityLevel, bool) {
		var fact StepFact
		if !pass.ImportObjectFact(fn, &fact) {
			return "", 0, false
		}
		return fact.Name, fact.Level, true
	}
	if err := s.RunFrontend(context.Background()); err != nil {
		return nil, err
	}

	for _, d := range s.Diagnostics.All() {
		pass.Report(analysis.Diagnostic{
			Pos:      tokenPos(pass, d.Pos),
			Category: string(d.Code),
			Message:  d.Message,
		})
	}
	for m := range s.Registry.Entries() {
		if m.IsTopLevel && m.Func != nil && m.Func.Pkg() == pass.Pkg {
			pass.ExportObjectFact(m.Func, &StepFact{Name: m.Name, Level: m.SecurityLevel})
		}
	}
	return s.Registry, nil
}

// tokenPos maps a diagnostic's position back into the pass's file set.
func tokenPos(pass *analysis.Pass, pos token.Position) token.Pos {
	for _, f := range pass.Files {
		tf := pass.Fset.File(f.Pos())
		if tf == nil || tf.Name() != pos.Filename {
			continue
		}
		if pos.Offset >= 0 && pos.Offset <= tf.Size() {
			return tf.Pos(pos.Offset)
		}
		if pos.Line > 0 && pos.Line <= tf.LineCount() {
			return tf.LineStart(pos.Line) + token.Pos(pos.Column-1)
		}
	}
	return token.NoPos
}
