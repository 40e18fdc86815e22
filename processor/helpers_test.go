package processor

import (
	"bytes"
	"context"
	"go/ast"
	"go/importer"
	goparser "go/parser"
	"go/token"
	"go/types"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	annostepPath = "github.com/jhump/annostep"
	pipelinePath = "github.com/jhump/annostep/pipeline"
)

// The annostep and pipeline packages are type-checked from their real
// sources once and shared by all tests.
var (
	baseOnce sync.Once
	baseFset *token.FileSet
	baseStd  types.Importer
	basePkgs map[string]*types.Package
	baseErr  error
)

func loadBase() {
	baseFset = token.NewFileSet()
	baseStd = importer.ForCompiler(baseFset, "source", nil)
	basePkgs = map[string]*types.Package{}
	for _, p := range []struct {
		path  string
		files []string
	}{
		{annostepPath, []string{"../annotations.go"}},
		{pipelinePath, []string{"../pipeline/pipeline.go", "../pipeline/registry.go"}},
	} {
		var files []*ast.File
		for _, name := range p.files {
			f, err := goparser.ParseFile(baseFset, name, nil, goparser.ParseComments)
			if err != nil {
				baseErr = err
				return
			}
			files = append(files, f)
		}
		conf := types.Config{Importer: &testImporter{pkgs: basePkgs, std: baseStd}}
		tp, err := conf.Check(p.path, baseFset, files, nil)
		if err != nil {
			baseErr = err
			return
		}
		basePkgs[p.path] = tp
	}
}

type testImporter struct {
	pkgs map[string]*types.Package
	std  types.Importer
}

func (ti *testImporter) Import(path string) (*types.Package, error) {
	if tp, ok := ti.pkgs[path]; ok {
		return tp, nil
	}
	return ti.std.Import(path)
}

// fixture builds type-checked packages from source held in memory.
type fixture struct {
	t    *testing.T
	fset *token.FileSet
	imp  *testImporter
	pkgs []*Package
	// lenient accepts packages with type errors, like sources that were
	// partly migrated by an earlier run.
	lenient bool
}

type srcFile struct {
	name, src string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	baseOnce.Do(loadBase)
	require.NoError(t, baseErr)
	imp := &testImporter{pkgs: map[string]*types.Package{}, std: baseStd}
	for p, tp := range basePkgs {
		imp.pkgs[p] = tp
	}
	return &fixture{t: t, fset: baseFset, imp: imp}
}

// add type-checks a package from one file named after the package.
func (fx *fixture) add(pkgPath, src string) *Package {
	return fx.addFiles(pkgPath, srcFile{name: path.Base(pkgPath) + ".go", src: src})
}

func (fx *fixture) addFiles(pkgPath string, files ...srcFile) *Package {
	fx.t.Helper()
	var syntax []*ast.File
	for _, f := range files {
		file, err := goparser.ParseFile(fx.fset, "/src/"+pkgPath+"/"+f.name, f.src, goparser.ParseComments)
		require.NoError(fx.t, err)
		syntax = append(syntax, file)
	}
	info := &types.Info{
		Types:      map[ast.Expr]types.TypeAndValue{},
		Defs:       map[*ast.Ident]types.Object{},
		Uses:       map[*ast.Ident]types.Object{},
		Implicits:  map[ast.Node]types.Object{},
		Selections: map[*ast.SelectorExpr]*types.Selection{},
		Scopes:     map[ast.Node]*types.Scope{},
		Instances:  map[*ast.Ident]types.Instance{},
	}
	conf := types.Config{Importer: fx.imp}
	if fx.lenient {
		conf.Error = func(error) {}
	}
	tp, err := conf.Check(pkgPath, fx.fset, syntax, info)
	if !fx.lenient {
		require.NoError(fx.t, err)
	}
	fx.imp.pkgs[pkgPath] = tp
	pkg := &Package{
		Path:  pkgPath,
		Name:  tp.Name(),
		Fset:  fx.fset,
		Files: syntax,
		Types: tp,
		Info:  info,
	}
	fx.pkgs = append(fx.pkgs, pkg)
	return pkg
}

// program returns a program over every package added so far. The runtime
// packages can be looked up even when nothing imports them.
func (fx *fixture) program() *Program {
	prg := NewProgram(fx.fset, fx.pkgs...)
	for p, tp := range basePkgs {
		prg.extra[p] = tp
	}
	return prg
}

func (fx *fixture) session(opts Options) *Session {
	return NewSession(fx.program(), opts, nil)
}

// run runs a session over every package added so far, capturing output.
func (fx *fixture) run(opts Options, procs ...Processor) (*Session, map[string]string, error) {
	s := fx.session(opts)
	out := memOutput{}
	err := s.Run(context.Background(), procs, out.factory)
	return s, out, err
}

// memOutput maps "<import path>/<file name>" to contents.
type memOutput map[string]string

func (mo memOutput) factory(pkg *Package, filename string) (io.WriteCloser, error) {
	return &memFile{name: pkg.Path + "/" + filename, out: mo}, nil
}

type memFile struct {
	bytes.Buffer
	name string
	out  memOutput
}

func (mf *memFile) Close() error {
	mf.out[mf.name] = mf.String()
	return nil
}

func funcDecl(t *testing.T, pkg *Package, name string) (*ast.File, *ast.FuncDecl) {
	t.Helper()
	for _, f := range pkg.Files {
		for _, d := range f.Decls {
			if fd, ok := d.(*ast.FuncDecl); ok && fd.Name.Name == name {
				return f, fd
			}
		}
	}
	require.FailNow(t, "no such function", name)
	return nil, nil
}

func codes(ds []Diagnostic) []Code {
	var res []Code
	for _, d := range ds {
		res = append(res, d.Code)
	}
	return res
}

// formatted prints a source file after processing.
func formatted(t *testing.T, pkg *Package, f *ast.File) string {
	t.Helper()
	src, err := FormatFile(pkg, f)
	require.NoError(t, err)
	return string(src)
}

// signature returns the line of a formatted file that declares the named
// function.
func signature(t *testing.T, src, name string) string {
	t.Helper()
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(line, "func "+name+"(") || strings.HasPrefix(line, "func "+name+"[") {
			return line
		}
	}
	require.FailNow(t, "no declaration", name)
	return ""
}

func keys(m map[string]string) []string {
	res := make([]string, 0, len(m))
	for k := range m {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// typeCheck type-checks the files a run wrote for the package with the given
// import path.
func typeCheck(t *testing.T, pkgPath string, out map[string]string) {
	t.Helper()
	fset := token.NewFileSet()
	var syntax []*ast.File
	for _, name := range keys(out) {
		if path.Dir(name) != pkgPath {
			continue
		}
		f, err := goparser.ParseFile(fset, name, out[name], 0)
		require.NoError(t, err, name)
		syntax = append(syntax, f)
	}
	require.NotEmpty(t, syntax)
	conf := types.Config{Importer: &testImporter{pkgs: basePkgs, std: baseStd}}
	_, err := conf.Check(pkgPath, fset, syntax, nil)
	require.NoError(t, err)
}
