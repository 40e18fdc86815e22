package processor

import (
	"bytes"
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"
	"path"
	"strconv"
	"strings"

	"github.com/jhump/annostep"
	"github.com/jhump/annostep/parser"
)

// stepAnnotation is a @Step annotation found in a doc comment.
type stepAnnotation struct {
	parser.Annotation
	// pos is the position of the "@" in the source file.
	pos token.Position
	// err is set if the annotation's body could not be parsed.
	err *ErrorWithPosition
	adj posAdjuster
}

func (a stepAnnotation) nodePos(n ast.Node) token.Position {
	return a.adj.adjustPosition(a.NodePos(n))
}

// stepFields are the values of a @Step annotation's fields.
type stepFields struct {
	name          string
	description   string
	category      annostep.Category
	securityLevel annostep.SecurityLevel
}

// resolver finds @Step annotations and turns them into metadata. It only
// reads syntax and type information; it never changes them.
type resolver struct {
	prg *Program
	wk  WellKnown
}

// ResolveStep returns the metadata of the given function declaration if it
// is annotated as a step, or nil if it is not. If the function has more than
// one annotation, the first is used.
func ResolveStep(prg *Program, wk WellKnown, pkg *Package, file *ast.File, decl *ast.FuncDecl) *StepMetadata {
	r := &resolver{prg: prg, wk: wk.withDefaults()}
	annos := r.stepAnnotations(pkg.Fset, file, pkg.Types, decl.Doc)
	if len(annos) == 0 {
		return nil
	}
	return r.metadata(pkg, file, decl, annos[0])
}

// stepAnnotations returns the @Step annotations in the given doc comment.
// Other annotations are ignored.
func (r *resolver) stepAnnotations(fset *token.FileSet, file *ast.File, tp *types.Package, doc *ast.CommentGroup) []stepAnnotation {
	buf, adjuster := extractAnnotations(fset, doc)
	if buf == nil {
		return nil
	}
	// errors are kept with each annotation; ones that aren't steps don't matter
	annos, _ := parser.ParseAnnotations("", buf)

	var res []stepAnnotation
	for _, a := range annos {
		if !r.isStep(file, tp, a.Type) {
			continue
		}
		sa := stepAnnotation{Annotation: a, pos: adjuster.adjustPosition(a.Pos), adj: adjuster}
		if a.Err != nil {
			sa.err = NewErrorWithPosition(adjuster.adjustPosition(a.Err.Pos()), a.Err.Underlying())
		}
		res = append(res, sa)
	}
	return res
}

// isStep reports whether the given annotation type refers to the step
// annotation when used in the given file.
func (r *resolver) isStep(file *ast.File, tp *types.Package, id parser.Identifier) bool {
	if id.Name != r.wk.AnnotationName {
		return false
	}
	if id.PackageAlias == "" {
		return r.inAnnotationScope(file, tp)
	}
	return r.importPathFor(file, tp, id.PackageAlias) == r.wk.AnnotationPackage
}

// inAnnotationScope reports whether unqualified names in the file refer to
// the annotation package: either the file is in that package or it
// dot-imports it.
func (r *resolver) inAnnotationScope(file *ast.File, tp *types.Package) bool {
	if tp != nil && tp.Path() == r.wk.AnnotationPackage {
		return true
	}
	for _, imp := range file.Imports {
		if imp.Name != nil && imp.Name.Name == "." && importPath(imp) == r.wk.AnnotationPackage {
			return true
		}
	}
	return false
}

// importPathFor resolves a package qualifier used in an annotation. Explicit
// import names are tried first, then unnamed and blank imports by package
// name. A qualifier that matches the annotation package's name resolves to
// it even without an import.
func (r *resolver) importPathFor(file *ast.File, tp *types.Package, alias string) string {
	for _, imp := range file.Imports {
		p := importPath(imp)
		if imp.Name != nil && imp.Name.Name != "_" {
			if imp.Name.Name == alias {
				return p
			}
			continue
		}
		if r.packageName(tp, p) == alias {
			return p
		}
	}
	if alias == r.packageName(tp, r.wk.AnnotationPackage) {
		return r.wk.AnnotationPackage
	}
	return ""
}

func (r *resolver) packageName(tp *types.Package, pkgPath string) string {
	if tp != nil {
		for _, imp := range tp.Imports() {
			if imp.Path() == pkgPath {
				return imp.Name()
			}
		}
	}
	if imported := r.prg.LookupPackage(pkgPath); imported != nil {
		return imported.Name()
	}
	return path.Base(pkgPath)
}

func importPath(imp *ast.ImportSpec) string {
	p, err := strconv.Unquote(imp.Path.Value)
	if err != nil {
		return imp.Path.Value
	}
	return p
}

var stepFieldOrder = []string{"Name", "Description", "Category", "SecurityLevel"}

// fields reads the annotation's values. Malformed or unrecognized values
// leave the field at its default.
func (r *resolver) fields(file *ast.File, tp *types.Package, a stepAnnotation) stepFields {
	var res stepFields
	if a.Value == nil {
		return res
	}
	for i, elt := range a.Value.Elts {
		field, val := "", elt
		if kv, ok := elt.(*ast.KeyValueExpr); ok {
			key, ok := kv.Key.(*ast.Ident)
			if !ok {
				continue
			}
			field, val = key.Name, kv.Value
		} else if i < len(stepFieldOrder) {
			field = stepFieldOrder[i]
		}
		switch field {
		case "Name":
			if s, ok := stringLiteral(val); ok && s != "" {
				res.name = s
			}
		case "Description":
			if s, ok := stringLiteral(val); ok {
				res.description = s
			}
		case "Category":
			if v, ok := r.enumConstant(file, tp, val, r.wk.CategoryName, annostep.NumCategories); ok {
				res.category = annostep.Category(v)
			}
		case "SecurityLevel":
			if v, ok := r.enumConstant(file, tp, val, r.wk.SecurityLevelName, annostep.NumSecurityLevels); ok {
				res.securityLevel = annostep.SecurityLevel(v)
			}
		}
	}
	return res
}

func stringLiteral(e ast.Expr) (string, bool) {
	lit, ok := e.(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	s, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", false
	}
	return s, true
}

// enumConstant returns the value of a reference to a constant of the named
// enum type in the annotation package. It returns false for any other kind of
// expression and for values outside [0, limit).
func (r *resolver) enumConstant(file *ast.File, tp *types.Package, e ast.Expr, typeName string, limit int) (int64, bool) {
	var name string
	switch e := e.(type) {
	case *ast.Ident:
		if !r.inAnnotationScope(file, tp) {
			return 0, false
		}
		name = e.Name
	case *ast.SelectorExpr:
		q, ok := e.X.(*ast.Ident)
		if !ok || r.importPathFor(file, tp, q.Name) != r.wk.AnnotationPackage {
			return 0, false
		}
		name = e.Sel.Name
	default:
		return 0, false
	}

	annoPkg := r.prg.LookupPackage(r.wk.AnnotationPackage)
	if annoPkg == nil {
		return 0, false
	}
	c, ok := annoPkg.Scope().Lookup(name).(*types.Const)
	if !ok || !isNamedType(c.Type(), r.wk.AnnotationPackage, typeName) {
		return 0, false
	}
	v, exact := constant.Int64Val(constant.ToInt(c.Val()))
	if !exact || v < 0 || v >= int64(limit) {
		return 0, false
	}
	return v, true
}

// metadata builds the metadata of an annotated function declaration.
func (r *resolver) metadata(pkg *Package, file *ast.File, decl *ast.FuncDecl, a stepAnnotation) *StepMetadata {
	fn, _ := pkg.Info.Defs[decl.Name].(*types.Func)
	fields := r.fields(file, pkg.Types, a)
	m := &StepMetadata{
		Name:          decl.Name.Name,
		Description:   fields.description,
		Category:      fields.category,
		SecurityLevel: fields.securityLevel,
		Package:       pkg.Path,
		IsTopLevel:    decl.Recv == nil,
		InTestFile:    pkg.IsTestFile(file),
		Func:          fn,
		Decl:          decl,
		Pos:           pkg.Fset.Position(decl.Name.Pos()),
		AnnotationPos: a.pos,
	}
	if fields.name != "" {
		m.Name = fields.name
	}
	if fn == nil {
		return m
	}

	sig := fn.Type().(*types.Signature)
	params := sig.Params()
	for i := 0; i < params.Len(); i++ {
		v := params.At(i)
		t := v.Type()
		_, isPtr := types.Unalias(t).(*types.Pointer)
		m.Params = append(m.Params, ParameterMetadata{
			Name:       v.Name(),
			Type:       t,
			HasDefault: sig.Variadic() && i == params.Len()-1,
			Nullable:   isPtr,
			IsContext:  r.wk.isContextType(t),
			Pos:        pkg.Fset.Position(v.Pos()),
		})
	}
	m.Results = sig.Results()
	if n := m.Results.Len(); n > 0 {
		if ch, ok := types.Unalias(m.Results.At(n - 1).Type()).(*types.Chan); ok && ch.Dir() == types.RecvOnly {
			m.Async = true
		}
	}
	return m
}

// securityLevelOf returns the security level declared by a function's step
// annotation, for declarations outside of the processed packages.
func (r *resolver) securityLevelOf(file *ast.File, decl *ast.FuncDecl) (annostep.SecurityLevel, bool) {
	// the file was parsed with its own file set; only the annotation's
	// values matter here
	annos := r.stepAnnotations(token.NewFileSet(), file, nil, decl.Doc)
	if len(annos) == 0 {
		return 0, false
	}
	return r.fields(file, nil, annos[0]).securityLevel, true
}

// extractAnnotations returns the annotation section of the given doc
// comment, with comment markers removed, and a way to map positions in the
// returned text back to the source.
func extractAnnotations(fset *token.FileSet, doc *ast.CommentGroup) (*bytes.Buffer, posAdjuster) {
	if doc == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	var adjuster posAdjuster
	found := false
	prevSingleLine := false
	var pos token.Position
	for _, l := range doc.List {
		txt := l.Text
		singleLine := false
		if strings.HasPrefix(txt, "/*") {
			txt = txt[2:]
			txt = strings.TrimSuffix(txt, "*/")
		} else if strings.HasPrefix(txt, "//") {
			singleLine = true
			txt = txt[2:]
		}

		// annotations don't span comment styles
		if singleLine != prevSingleLine {
			found = false
			buf.Reset()
			prevSingleLine = singleLine
			adjuster = nil
		}

		pos = fset.Position(l.Slash)
		pos.Offset += 2
		pos.Column += 2

		for _, line := range strings.Split(txt, "\n") {
			trimmed := strings.TrimSpace(line)
			if !found && trimmed != "" && trimmed[0] == '@' {
				found = true
			}
			if found {
				adjuster = append(adjuster, posAdj{outOffset: buf.Len(), inPos: pos})
				buf.WriteString(line)
				buf.WriteByte('\n')
			}
			pos.Offset += len(line) + 1
			pos.Line++
			pos.Column = 1
		}

		pos = fset.Position(l.End())
	}
	if !found {
		return nil, nil
	}
	adjuster = append(adjuster, posAdj{outOffset: buf.Len(), inPos: pos})
	return &buf, adjuster
}

type posAdj struct {
	outOffset int
	inPos     token.Position
}

// posAdjuster has one entry per line of extracted annotation text.
type posAdjuster []posAdj

func (a posAdjuster) adjustPosition(pos token.Position) token.Position {
	if pos.Line < 1 || pos.Line > len(a) {
		if len(a) == 0 {
			return pos
		}
		return a[0].inPos
	}
	el := a[pos.Line-1]
	return token.Position{
		Filename: el.inPos.Filename,
		Line:     el.inPos.Line,
		Column:   el.inPos.Column + pos.Column - 1,
		Offset:   el.inPos.Offset + (pos.Offset - el.outOffset),
	}
}

// hasAnnotationLine reports whether any line of the comment starts with "@".
func hasAnnotationLine(doc *ast.CommentGroup) bool {
	if doc == nil {
		return false
	}
	for _, l := range doc.List {
		txt := strings.TrimPrefix(strings.TrimPrefix(l.Text, "//"), "/*")
		for _, line := range strings.Split(txt, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "@") {
				return true
			}
		}
	}
	return false
}
