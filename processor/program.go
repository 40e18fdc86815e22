package processor

import (
	"context"
	"go/ast"
	goparser "go/parser"
	"go/token"
	"go/types"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/tools/go/packages"
)

// Package is one type-checked package whose sources are processed.
type Package struct {
	// Path is the import path.
	Path string
	// Name is the package name, from the package clause.
	Name string
	// Dir is the directory that contains the package's sources.
	Dir   string
	Fset  *token.FileSet
	Files []*ast.File
	Types *types.Package
	Info  *types.Info
}

// Filename returns the name of the file that contains the given syntax tree.
func (p *Package) Filename(f *ast.File) string {
	return p.Fset.Position(f.Package).Filename
}

// IsTestFile reports whether the given file is a _test.go file.
func (p *Package) IsTestFile(f *ast.File) bool {
	return strings.HasSuffix(p.Filename(f), "_test.go")
}

// FileOf returns the file in the package that contains the given position.
func (p *Package) FileOf(pos token.Pos) *ast.File {
	for _, f := range p.Files {
		if f.FileStart <= pos && pos <= f.FileEnd {
			return f
		}
	}
	return nil
}

// Program holds the packages being processed along with a way to find other
// packages that they need, such as the pipeline runtime.
type Program struct {
	Fset *token.FileSet
	// Packages are the packages to process, in load order.
	Packages []*Package

	byPath  map[string]*Package
	extra   map[string]*types.Package
	parsed  map[string]*ast.File
	loadCfg *packages.Config
}

// NewProgram returns a program made of already type-checked packages. Other
// packages can only be found through their imports.
func NewProgram(fset *token.FileSet, pkgs ...*Package) *Program {
	prg := &Program{
		Fset:   fset,
		byPath: map[string]*Package{},
		extra:  map[string]*types.Package{},
		parsed: map[string]*ast.File{},
	}
	for _, pkg := range pkgs {
		prg.Packages = append(prg.Packages, pkg)
		prg.byPath[pkg.Path] = pkg
	}
	return prg
}

const loadMode = packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
	packages.NeedImports | packages.NeedDeps | packages.NeedTypes | packages.NeedSyntax |
	packages.NeedTypesInfo

// LoadProgram loads and type-checks the packages that match the given
// patterns, relative to dir. When includeTests is true, the test variant of
// each package is processed, so steps in _test.go files are seen too.
//
// Type errors do not fail loading: a package rewritten by an earlier run may
// have call sites that no longer type-check until they are migrated. They are
// returned as warnings so callers can log them.
func LoadProgram(ctx context.Context, dir string, patterns []string, includeTests bool) (*Program, []error, error) {
	fset := token.NewFileSet()
	cfg := &packages.Config{
		Context: ctx,
		Mode:    loadMode,
		Dir:     dir,
		Fset:    fset,
		Tests:   includeTests,
		ParseFile: func(fset *token.FileSet, filename string, src []byte) (*ast.File, error) {
			return goparser.ParseFile(fset, filename, src, goparser.ParseComments)
		},
	}
	loaded, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not load packages")
	}
	if len(loaded) == 0 {
		return nil, nil, errors.Errorf("no packages match %s", strings.Join(patterns, " "))
	}

	var warnings []error
	var failures []string
	packages.Visit(loaded, nil, func(p *packages.Package) {
		for _, e := range p.Errors {
			if e.Kind == packages.TypeError {
				warnings = append(warnings, e)
			} else {
				failures = append(failures, e.Error())
			}
		}
	})
	if len(failures) > 0 {
		return nil, warnings, errors.Errorf("could not load packages:\n\t%s", strings.Join(failures, "\n\t"))
	}

	// With tests enabled, each package is loaded twice: as itself and as the
	// variant compiled into its test binary. The variant has a superset of
	// the files, so it wins.
	chosen := map[string]*packages.Package{}
	var order []string
	for _, lp := range loaded {
		if strings.HasSuffix(lp.PkgPath, ".test") {
			continue
		}
		prev, ok := chosen[lp.PkgPath]
		if !ok {
			order = append(order, lp.PkgPath)
		}
		if !ok || len(lp.Syntax) > len(prev.Syntax) {
			chosen[lp.PkgPath] = lp
		}
	}

	prg := NewProgram(fset)
	prg.loadCfg = cfg
	for _, path := range order {
		lp := chosen[path]
		pkg := &Package{
			Path:  lp.PkgPath,
			Name:  lp.Name,
			Fset:  fset,
			Files: lp.Syntax,
			Types: lp.Types,
			Info:  lp.TypesInfo,
		}
		if len(lp.GoFiles) > 0 {
			pkg.Dir = filepath.Dir(lp.GoFiles[0])
		}
		prg.Packages = append(prg.Packages, pkg)
		prg.byPath[pkg.Path] = pkg
	}
	return prg, warnings, nil
}

// Package returns the processed package with the given import path, or nil.
func (prg *Program) Package(path string) *Package {
	return prg.byPath[path]
}

// LookupPackage finds the type information for the given import path. It
// searches the processed packages and everything they import. If the package
// is not found there and the program was created by LoadProgram, the package
// is loaded.
func (prg *Program) LookupPackage(path string) *types.Package {
	if pkg := prg.byPath[path]; pkg != nil {
		return pkg.Types
	}
	if tp, ok := prg.extra[path]; ok {
		return tp
	}

	seen := map[*types.Package]bool{}
	var find func(*types.Package) *types.Package
	find = func(tp *types.Package) *types.Package {
		if tp == nil || seen[tp] {
			return nil
		}
		seen[tp] = true
		if tp.Path() == path {
			return tp
		}
		for _, imp := range tp.Imports() {
			if res := find(imp); res != nil {
				return res
			}
		}
		return nil
	}
	for _, pkg := range prg.Packages {
		if tp := find(pkg.Types); tp != nil {
			prg.extra[path] = tp
			return tp
		}
	}

	var tp *types.Package
	if prg.loadCfg != nil {
		cfg := *prg.loadCfg
		cfg.Mode = packages.NeedName | packages.NeedTypes | packages.NeedImports | packages.NeedDeps
		cfg.Tests = false
		if loaded, err := packages.Load(&cfg, path); err == nil && len(loaded) == 1 && len(loaded[0].Errors) == 0 {
			tp = loaded[0].Types
		}
	}
	// remember misses, too
	prg.extra[path] = tp
	return tp
}

// LookupType returns the named type with the given package path and name, or
// nil if it cannot be found.
func (prg *Program) LookupType(pkgPath, name string) *types.TypeName {
	tp := prg.LookupPackage(pkgPath)
	if tp == nil {
		return nil
	}
	tn, _ := tp.Scope().Lookup(name).(*types.TypeName)
	return tn
}

// DeclOf finds the declaration of the given function. For functions in
// processed packages, the returned package is non-nil. For other functions,
// the declaring file is parsed if its source is available, and the returned
// package is nil.
func (prg *Program) DeclOf(fn *types.Func) (*ast.FuncDecl, *ast.File, *Package) {
	if fn == nil || fn.Pkg() == nil {
		return nil, nil, nil
	}
	if pkg := prg.byPath[fn.Pkg().Path()]; pkg != nil {
		for _, f := range pkg.Files {
			for _, d := range f.Decls {
				if fd, ok := d.(*ast.FuncDecl); ok && pkg.Info.Defs[fd.Name] == fn {
					return fd, f, pkg
				}
			}
		}
	}

	pos := prg.Fset.Position(fn.Pos())
	if !pos.IsValid() || !strings.HasSuffix(pos.Filename, ".go") {
		return nil, nil, nil
	}
	f, ok := prg.parsed[pos.Filename]
	if !ok {
		// a fresh file set: these positions are only used to match lines
		f, _ = goparser.ParseFile(token.NewFileSet(), pos.Filename, nil, goparser.ParseComments)
		prg.parsed[pos.Filename] = f
	}
	if f == nil {
		return nil, nil, nil
	}
	isMethod := fn.Type().(*types.Signature).Recv() != nil
	var match *ast.FuncDecl
	for _, d := range f.Decls {
		fd, ok := d.(*ast.FuncDecl)
		if !ok || fd.Name.Name != fn.Name() || (fd.Recv != nil) != isMethod {
			continue
		}
		if match != nil {
			// ambiguous: same-named methods on different receivers
			return nil, nil, nil
		}
		match = fd
	}
	if match == nil {
		return nil, nil, nil
	}
	return match, f, nil
}
