package processor

import (
	"context"
	"go/ast"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ast/astutil"
)

func checked(t *testing.T, fx *fixture, opts Options) *Session {
	t.Helper()
	s := fx.session(opts)
	require.NoError(t, s.RunFrontend(context.Background()))
	require.False(t, s.Diagnostics.HasErrors(), "%v", s.Diagnostics.All())
	return s
}

func TestTransform_InjectsContext(t *testing.T) {
	fx := newFixture(t)
	pkg := fx.add("example.com/echo", `package echo

import _ "github.com/jhump/annostep"

// @annostep.Step{}
func Echo(message string) {
	println(message)
}

// @annostep.Step{}
func Watch() <-chan string {
	return nil
}

func Helper(a, b int) int { return a + b }
`)
	s := checked(t, fx, DefaultOptions())

	file, echo := funcDecl(t, pkg, "Echo")
	assert.Equal(t, StateTransformed, s.TransformDecl(pkg, file, echo))
	// visiting again consults the parameter list and does nothing
	assert.Equal(t, StateAlreadyContextual, s.TransformDecl(pkg, file, echo))
	assert.Equal(t, 2, countParams(echo.Type.Params))

	_, helper := funcDecl(t, pkg, "Helper")
	assert.Equal(t, StateIgnored, s.TransformDecl(pkg, file, helper))
	_, ok := s.RecordOf(helper)
	assert.False(t, ok)

	s.TransformPackage(pkg)
	rec, ok := s.RecordOf(echo)
	require.True(t, ok)
	assert.Equal(t, TransformationRecord{
		Func:              "example.com/echo.Echo",
		Step:              "Echo",
		OriginalParams:    1,
		TransformedParams: 2,
		Injected:          true,
		State:             StateTransformed,
	}, rec)

	_, watch := funcDecl(t, pkg, "Watch")
	rec, ok = s.RecordOf(watch)
	require.True(t, ok)
	assert.True(t, rec.Async)
	assert.Equal(t, 1, rec.TransformedParams)
	assert.Len(t, s.Records(), 2)

	src := formatted(t, pkg, file)
	assert.Equal(t, "func Echo(pctx *pipeline.PipelineContext, message string) {", signature(t, src, "Echo"))
	assert.Equal(t, "func Watch(pctx *pipeline.PipelineContext) <-chan string {", signature(t, src, "Watch"))
	assert.Equal(t, "func Helper(a, b int) int { return a + b }", signature(t, src, "Helper"))
	assert.Contains(t, src, "\t\"github.com/jhump/annostep/pipeline\"\n")
	assert.Equal(t, []*ast.File{file}, s.ModifiedFiles())

	// processing the rewritten source again changes nothing
	fx2 := newFixture(t)
	pkg2 := fx2.add("example.com/echo", src)
	s2 := checked(t, fx2, DefaultOptions())
	assert.Empty(t, s2.Diagnostics.All())
	s2.TransformPackage(pkg2)
	for _, r := range s2.Records() {
		assert.Equal(t, StateAlreadyContextual, r.State, r.Func)
		assert.Equal(t, r.OriginalParams, r.TransformedParams)
	}
	assert.Empty(t, s2.ModifiedFiles())
	assert.Equal(t, src, formatted(t, pkg2, pkg2.Files[0]))
}

func TestTransform_ExistingContext(t *testing.T) {
	fx := newFixture(t)
	pkg := fx.add("example.com/legacy", `package legacy

import (
	_ "github.com/jhump/annostep"
	"github.com/jhump/annostep/pipeline"
)

// @annostep.Step{}
func LegacyStep(context *pipeline.PipelineContext, message string) {}

// @annostep.Step{}
func ByValue(message string, context pipeline.PipelineContext) {}
`)
	opts := DefaultOptions()
	opts.AllowLegacyContext = true
	s := checked(t, fx, opts)
	s.TransformPackage(pkg)

	assert.Equal(t, 2, s.Registry.Len())
	for _, r := range s.Records() {
		assert.Equal(t, StateAlreadyContextual, r.State)
		assert.False(t, r.Injected)
		assert.Equal(t, 2, r.TransformedParams)
	}
	assert.Empty(t, s.ModifiedFiles())
}

func TestTransform_ParameterNames(t *testing.T) {
	fx := newFixture(t)
	pkg := fx.add("example.com/names", `package names

import _ "github.com/jhump/annostep"

// @annostep.Step{}
func Anon(string, int) {}

// @annostep.Step{}
func Collide(pctx string) {}

// @annostep.Step{}
func Body(msg string) {
	pctx := msg
	pctx2 := pctx
	_ = pctx2
}
`)
	s := checked(t, fx, DefaultOptions())
	s.TransformPackage(pkg)
	src := formatted(t, pkg, pkg.Files[0])
	assert.Equal(t, "func Anon(*pipeline.PipelineContext, string, int) {}", signature(t, src, "Anon"))
	assert.Equal(t, "func Collide(pctx2 *pipeline.PipelineContext, pctx string) {}", signature(t, src, "Collide"))
	assert.Equal(t, "func Body(pctx3 *pipeline.PipelineContext, msg string) {", signature(t, src, "Body"))

	assert.True(t, s.isInjectedName("pctx"))
	assert.True(t, s.isInjectedName("pctx3"))
	assert.False(t, s.isInjectedName("pctxs"))
	assert.False(t, s.isInjectedName("ctx"))
}

func TestTransform_Imports(t *testing.T) {
	testCases := []struct {
		name    string
		src     string
		sig     string
		imports []string
	}{
		{
			name: "blank import",
			src: `package steps

import (
	_ "github.com/jhump/annostep"
	_ "github.com/jhump/annostep/pipeline"
)

// @annostep.Step{}
func Echo(msg string) {}
`,
			sig:     "func Echo(pctx *pipeline.PipelineContext, msg string) {}",
			imports: []string{`_ "github.com/jhump/annostep"`, `"github.com/jhump/annostep/pipeline"`},
		},
		{
			name: "aliased import",
			src: `package steps

import (
	_ "github.com/jhump/annostep"
	pl "github.com/jhump/annostep/pipeline"
)

var _ pl.StepResult

// @annostep.Step{}
func Echo(msg string) {}
`,
			sig:     "func Echo(pctx *pl.PipelineContext, msg string) {}",
			imports: []string{`_ "github.com/jhump/annostep"`, `pl "github.com/jhump/annostep/pipeline"`},
		},
		{
			name: "dot import",
			src: `package steps

import (
	_ "github.com/jhump/annostep"
	. "github.com/jhump/annostep/pipeline"
)

var _ StepResult

// @annostep.Step{}
func Echo(msg string) {}
`,
			sig:     "func Echo(pctx *PipelineContext, msg string) {}",
			imports: []string{`_ "github.com/jhump/annostep"`, `. "github.com/jhump/annostep/pipeline"`},
		},
		{
			name: "name taken",
			src: `package steps

import _ "github.com/jhump/annostep"

var pipeline = "release"

// @annostep.Step{}
func Echo(msg string) {}
`,
			sig:     "func Echo(pctx *steppipeline.PipelineContext, msg string) {}",
			imports: []string{`_ "github.com/jhump/annostep"`, `steppipeline "github.com/jhump/annostep/pipeline"`},
		},
		{
			name: "blank import with name taken",
			src: `package steps

import (
	_ "github.com/jhump/annostep"
	_ "github.com/jhump/annostep/pipeline"
)

func pipeline() {}

// @annostep.Step{}
func Echo(msg string) {}
`,
			sig:     "func Echo(pctx *steppipeline.PipelineContext, msg string) {}",
			imports: []string{`_ "github.com/jhump/annostep"`, `steppipeline "github.com/jhump/annostep/pipeline"`},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			pkg := fx.add("example.com/steps", tc.src)
			s := checked(t, fx, DefaultOptions())
			s.TransformPackage(pkg)
			src := formatted(t, pkg, pkg.Files[0])
			assert.Equal(t, tc.sig, signature(t, src, "Echo"))
			for _, imp := range tc.imports {
				assert.Contains(t, src, imp)
			}
		})
	}
}

func TestTransform_ContextTypeUnresolved(t *testing.T) {
	fx := newFixture(t)
	pkg := fx.add("example.com/steps", `package steps

import _ "github.com/jhump/annostep"

// @annostep.Step{}
func Echo(msg string) {}
`)
	// nothing imports the pipeline package and it cannot be loaded
	s := NewSession(NewProgram(fx.fset, pkg), DefaultOptions(), nil)
	require.NoError(t, s.RunFrontend(context.Background()))
	before := formatted(t, pkg, pkg.Files[0])

	s.TransformPackage(pkg)
	assert.Equal(t, []Code{CodeContextTypeUnresolved}, codes(s.Diagnostics.All()))
	assert.False(t, s.Diagnostics.HasErrors())
	rec, ok := s.RecordOf(pkg.Files[0].Decls[1].(*ast.FuncDecl))
	require.True(t, ok)
	assert.Equal(t, StateSkipped, rec.State)
	assert.Equal(t, before, formatted(t, pkg, pkg.Files[0]))
	assert.Empty(t, s.ModifiedFiles())
}

func TestTransform_FailureRestoresDeclaration(t *testing.T) {
	fx := newFixture(t)
	pkg := fx.addFiles("example.com/steps",
		srcFile{name: "boom.go", src: `package steps

import _ "github.com/jhump/annostep"

// @annostep.Step{}
func Boom(msg string) {}
`},
		srcFile{name: "fine.go", src: `package steps

// @annostep.Step{}
func Fine(msg string) {}
`})
	s := checked(t, fx, DefaultOptions())
	boomFile, boom := funcDecl(t, pkg, "Boom")
	before := formatted(t, pkg, boomFile)
	s.beforeInject = func(decl *ast.FuncDecl) {
		if decl != boom {
			return
		}
		// leave the tree half-changed
		astutil.AddImport(pkg.Fset, boomFile, "strings")
		decl.Type.Params.List = decl.Type.Params.List[:0]
		panic("boom")
	}

	s.TransformPackage(pkg)
	ds := s.Diagnostics.WithCode(CodeTransformFailed)
	require.Len(t, ds, 1)
	assert.Equal(t, SeverityWarning, ds[0].Severity)
	assert.Contains(t, ds[0].Message, "Boom")
	assert.Contains(t, ds[0].Message, "panic: boom")

	rec, ok := s.RecordOf(boom)
	require.True(t, ok)
	assert.Equal(t, StateSkipped, rec.State)
	assert.Equal(t, before, formatted(t, pkg, boomFile))

	fineFile, fine := funcDecl(t, pkg, "Fine")
	rec, ok = s.RecordOf(fine)
	require.True(t, ok)
	assert.Equal(t, StateTransformed, rec.State)
	assert.Equal(t, []*ast.File{fineFile}, s.ModifiedFiles())
}
