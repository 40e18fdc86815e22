package processor

import (
	"fmt"
	"go/ast"
	"go/token"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/tools/go/ast/astutil"

	"github.com/jhump/annostep/internal/log"
)

// TransformState is the state of a function declaration in the signature
// transformer. Ignored, AlreadyContextual, Transformed and Skipped are
// terminal.
type TransformState int

const (
	StateUnvisited TransformState = iota
	// StateIgnored is for functions that are not steps.
	StateIgnored
	// StateAlreadyContextual is for steps that already have a context
	// parameter, including steps transformed earlier.
	StateAlreadyContextual
	StatePendingInjection
	StateTransformed
	// StateSkipped is for steps that could not be transformed. They are
	// left as they were.
	StateSkipped
)

func (s TransformState) String() string {
	switch s {
	case StateUnvisited:
		return "unvisited"
	case StateIgnored:
		return "ignored"
	case StateAlreadyContextual:
		return "already-contextual"
	case StatePendingInjection:
		return "pending-injection"
	case StateTransformed:
		return "transformed"
	case StateSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("?%d?", int(s))
	}
}

// TransformationRecord describes what the transformer did to one step. It is
// written the first time the step is visited and never updated.
type TransformationRecord struct {
	// Func is the qualified name of the function, like "example.com/p.Echo".
	Func string
	// Step is the step's display name.
	Step              string
	OriginalParams    int
	TransformedParams int
	// Injected is true if a context parameter was added. TransformedParams
	// is then OriginalParams+1.
	Injected bool
	Async    bool
	State    TransformState
}

// TransformPackage visits every function declaration in the package.
func (s *Session) TransformPackage(pkg *Package) {
	for _, file := range pkg.Files {
		for _, d := range file.Decls {
			if decl, ok := d.(*ast.FuncDecl); ok {
				s.TransformDecl(pkg, file, decl)
			}
		}
	}
}

// TransformDecl injects a context parameter into the given declaration if it
// is a step that does not have one. The decision is made from the current
// parameter list, so visiting a declaration again is a no-op.
func (s *Session) TransformDecl(pkg *Package, file *ast.File, decl *ast.FuncDecl) TransformState {
	m := s.stepOf(pkg, decl)
	if m == nil {
		return StateIgnored
	}
	n := countParams(decl.Type.Params)
	if s.hasContextParam(pkg, file, decl) {
		s.record(m, n, n, false, StateAlreadyContextual)
		return StateAlreadyContextual
	}

	logger := s.Logger.With(log.Package(pkg.Path), log.Func(decl.Name.Name))
	if s.Program.LookupType(s.wk.RuntimePackage, s.wk.ContextName) == nil {
		logger.Warn("context type not found; leaving step unchanged",
			log.Code(CodeContextTypeUnresolved))
		s.Diagnostics.Warnf(m.Pos, CodeContextTypeUnresolved,
			"cannot find %s.%s; context not injected into %s", s.wk.RuntimePackage, s.wk.ContextName, decl.Name.Name)
		s.record(m, n, n, false, StateSkipped)
		return StateSkipped
	}

	// StatePendingInjection
	if err := s.inject(pkg, file, decl); err != nil {
		logger.Error("could not inject context", log.Error(err), log.Code(CodeTransformFailed))
		s.Diagnostics.Warnf(m.Pos, CodeTransformFailed,
			"could not inject context into %s: %v", decl.Name.Name, err)
		s.record(m, n, n, false, StateSkipped)
		return StateSkipped
	}
	logger.Debug("injected context")
	s.modified[file] = pkg
	s.record(m, n, n+1, true, StateTransformed)
	return StateTransformed
}

// stepOf returns the registry entry for a declaration.
func (s *Session) stepOf(pkg *Package, decl *ast.FuncDecl) *StepMetadata {
	for _, m := range s.Registry.ForPackage(pkg.Path) {
		if m.Decl == decl {
			return m
		}
	}
	return nil
}

func (s *Session) record(m *StepMetadata, before, after int, injected bool, state TransformState) {
	if _, ok := s.records[m.Decl]; ok {
		return
	}
	rec := &TransformationRecord{
		Func:              m.Package + "." + m.FunctionName(),
		Step:              m.Name,
		OriginalParams:    before,
		TransformedParams: after,
		Injected:          injected,
		Async:             m.Async,
		State:             state,
	}
	s.records[m.Decl] = rec
	s.recordOrder = append(s.recordOrder, rec)
}

// Records returns the transformation records in the order steps were first
// visited.
func (s *Session) Records() []TransformationRecord {
	res := make([]TransformationRecord, len(s.recordOrder))
	for i, r := range s.recordOrder {
		res[i] = *r
	}
	return res
}

// RecordOf returns the transformation record of the given declaration.
func (s *Session) RecordOf(decl *ast.FuncDecl) (TransformationRecord, bool) {
	r, ok := s.records[decl]
	if !ok {
		return TransformationRecord{}, false
	}
	return *r, true
}

func countParams(fl *ast.FieldList) int {
	if fl == nil {
		return 0
	}
	n := 0
	for _, f := range fl.List {
		if len(f.Names) == 0 {
			n++
		} else {
			n += len(f.Names)
		}
	}
	return n
}

// hasContextParam reports whether any parameter currently has the context
// type. Parameters injected in this session have no type information, so
// they are recognized by their syntax.
func (s *Session) hasContextParam(pkg *Package, file *ast.File, decl *ast.FuncDecl) bool {
	for _, f := range decl.Type.Params.List {
		if t := pkg.Info.TypeOf(f.Type); t != nil {
			if s.wk.isContextType(t) {
				return true
			}
			continue
		}
		if s.isContextExpr(pkg, file, f.Type) {
			return true
		}
	}
	return false
}

func (s *Session) isContextExpr(pkg *Package, file *ast.File, e ast.Expr) bool {
	if star, ok := e.(*ast.StarExpr); ok {
		e = star.X
	}
	switch e := e.(type) {
	case *ast.Ident:
		return e.Name == s.wk.ContextName &&
			(pkg.Path == s.wk.RuntimePackage || s.dotImports(file, s.wk.RuntimePackage))
	case *ast.SelectorExpr:
		q, ok := e.X.(*ast.Ident)
		return ok && e.Sel.Name == s.wk.ContextName && s.qualifierPath(pkg, file, q.Name) == s.wk.RuntimePackage
	}
	return false
}

func (s *Session) dotImports(file *ast.File, path string) bool {
	for _, imp := range file.Imports {
		if imp.Name != nil && imp.Name.Name == "." && importPath(imp) == path {
			return true
		}
	}
	return false
}

// qualifierPath returns the import path that a qualifier refers to in file.
func (s *Session) qualifierPath(pkg *Package, file *ast.File, name string) string {
	for _, imp := range file.Imports {
		if s.importName(pkg, imp) == name {
			return importPath(imp)
		}
	}
	return ""
}

// importName is the name an import declares in its file.
func (s *Session) importName(pkg *Package, imp *ast.ImportSpec) string {
	if imp.Name != nil {
		return imp.Name.Name
	}
	return s.res.packageName(pkg.Types, importPath(imp))
}

func (s *Session) inject(pkg *Package, file *ast.File, decl *ast.FuncDecl) (err error) {
	params := decl.Type.Params
	snap := takeSnapshot(file, params)
	defer func() {
		if r := recover(); r != nil {
			snap.restore(file, params)
			err = errors.Errorf("panic: %v", r)
		}
	}()
	if s.beforeInject != nil {
		s.beforeInject(decl)
	}

	var typ ast.Expr = ast.NewIdent(s.wk.ContextName)
	if q := s.ensureImport(pkg, file, s.wk.RuntimePackage); q != "" {
		typ = &ast.SelectorExpr{X: ast.NewIdent(q), Sel: ast.NewIdent(s.wk.ContextName)}
	}
	field := &ast.Field{Type: &ast.StarExpr{X: typ}}
	// a parameter list is either all named or all unnamed
	if len(params.List) == 0 || len(params.List[0].Names) > 0 {
		field.Names = []*ast.Ident{ast.NewIdent(s.contextParamName(decl))}
	}
	params.List = append([]*ast.Field{field}, params.List...)
	return nil
}

// contextParamName picks a name for the injected parameter that does not
// collide with other parameters or with identifiers used in the body.
func (s *Session) contextParamName(decl *ast.FuncDecl) string {
	used := map[string]bool{}
	for _, fl := range []*ast.FieldList{decl.Recv, decl.Type.TypeParams, decl.Type.Params, decl.Type.Results} {
		if fl == nil {
			continue
		}
		for _, f := range fl.List {
			for _, n := range f.Names {
				used[n.Name] = true
			}
		}
	}
	if decl.Body != nil {
		ast.Inspect(decl.Body, func(n ast.Node) bool {
			if id, ok := n.(*ast.Ident); ok {
				used[id.Name] = true
			}
			return true
		})
	}
	base := s.Options.ContextParamName
	name := base
	for i := 2; used[name]; i++ {
		name = base + strconv.Itoa(i)
	}
	return name
}

// isInjectedName reports whether a parameter name is one that
// contextParamName produces.
func (s *Session) isInjectedName(name string) bool {
	rest, ok := strings.CutPrefix(name, s.Options.ContextParamName)
	if !ok {
		return false
	}
	if rest == "" {
		return true
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

// ensureImport makes sure the file imports the given package under a usable
// name and returns the qualifier to use, which is empty when the package's
// names are in scope unqualified.
func (s *Session) ensureImport(pkg *Package, file *ast.File, path string) string {
	if pkg.Path == path {
		return ""
	}
	name := s.res.packageName(pkg.Types, path)
	for _, imp := range file.Imports {
		if importPath(imp) != path {
			continue
		}
		switch {
		case imp.Name == nil:
			return name
		case imp.Name.Name == ".":
			return ""
		case imp.Name.Name == "_":
			if s.nameInUse(pkg, file, name, imp) {
				alias := s.importAlias(pkg, file, name)
				imp.Name = ast.NewIdent(alias)
				return alias
			}
			imp.Name = nil
			return name
		default:
			return imp.Name.Name
		}
	}

	if s.nameInUse(pkg, file, name, nil) {
		alias := s.importAlias(pkg, file, name)
		astutil.AddNamedImport(pkg.Fset, file, alias, path)
		return alias
	}
	astutil.AddImport(pkg.Fset, file, path)
	return name
}

// nameInUse reports whether name is already declared at file or package
// scope, other than by the given import.
func (s *Session) nameInUse(pkg *Package, file *ast.File, name string, except *ast.ImportSpec) bool {
	for _, imp := range file.Imports {
		if imp != except && (imp.Name == nil || imp.Name.Name != "_") && s.importName(pkg, imp) == name {
			return true
		}
	}
	return pkg.Types != nil && pkg.Types.Scope().Lookup(name) != nil
}

func (s *Session) importAlias(pkg *Package, file *ast.File, name string) string {
	alias := "step" + name
	for i := 2; s.nameInUse(pkg, file, alias, nil); i++ {
		alias = "step" + name + strconv.Itoa(i)
	}
	return alias
}

// snapshot holds what injection may change, so a failed injection can be
// undone.
type snapshot struct {
	params  []*ast.Field
	decls   []ast.Decl
	imports []*ast.ImportSpec
	names   map[*ast.ImportSpec]*ast.Ident
	specs   map[*ast.GenDecl][]ast.Spec
	lparen  map[*ast.GenDecl]token.Pos
}

func takeSnapshot(file *ast.File, params *ast.FieldList) *snapshot {
	snap := &snapshot{
		params:  append([]*ast.Field(nil), params.List...),
		decls:   append([]ast.Decl(nil), file.Decls...),
		imports: append([]*ast.ImportSpec(nil), file.Imports...),
		names:   map[*ast.ImportSpec]*ast.Ident{},
		specs:   map[*ast.GenDecl][]ast.Spec{},
		lparen:  map[*ast.GenDecl]token.Pos{},
	}
	for _, imp := range file.Imports {
		snap.names[imp] = imp.Name
	}
	for _, d := range file.Decls {
		if gd, ok := d.(*ast.GenDecl); ok && gd.Tok == token.IMPORT {
			snap.specs[gd] = append([]ast.Spec(nil), gd.Specs...)
			snap.lparen[gd] = gd.Lparen
		}
	}
	return snap
}

func (snap *snapshot) restore(file *ast.File, params *ast.FieldList) {
	params.List = snap.params
	file.Decls = snap.decls
	file.Imports = snap.imports
	for imp, name := range snap.names {
		imp.Name = name
	}
	for gd, specs := range snap.specs {
		gd.Specs = specs
		gd.Lparen = snap.lparen[gd]
	}
}
