package processor

import (
	"go/ast"
	"go/token"
	"go/types"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jhump/annostep"
	"github.com/jhump/annostep/internal/log"
)

var stepNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// checkPackage finds the steps declared in the package, reports problems with
// them and adds them to the registry.
func (s *Session) checkPackage(pkg *Package) {
	for _, file := range pkg.Files {
		for _, decl := range file.Decls {
			switch decl := decl.(type) {
			case *ast.FuncDecl:
				s.checkFunc(pkg, file, decl)
			case *ast.GenDecl:
				s.checkGenDecl(pkg, file, decl)
			}
		}
	}
}

func (s *Session) checkFunc(pkg *Package, file *ast.File, decl *ast.FuncDecl) {
	annos := s.stepAnnotations(pkg, file, decl.Doc)
	if len(annos) == 0 {
		return
	}
	if s.visited[decl] {
		return
	}
	s.visited[decl] = true

	for _, a := range annos[1:] {
		s.Diagnostics.Errorf(a.pos, CodeRepeatedStepAnnotation,
			"@%v cannot be repeated on %s", a.Type, decl.Name.Name)
	}

	m := s.res.metadata(pkg, file, decl, annos[0])
	s.Logger.Debug("found step", log.Package(pkg.Path), log.Func(decl.Name.Name), log.Step(m.Name))

	if decl.Recv != nil {
		s.Diagnostics.Errorf(m.Pos, CodeStepTarget,
			"@%v is not allowed on method %s; steps must be package-level functions", annos[0].Type, decl.Name.Name)
	}
	if decl.Type.TypeParams != nil && len(decl.Type.TypeParams.List) > 0 {
		s.Diagnostics.Errorf(m.Pos, CodeStepTarget,
			"step %s cannot have type parameters", decl.Name.Name)
	}
	s.checkSignature(pkg, m)
	s.checkConventions(m)

	s.Registry.Add(m)
}

// checkSignature reports parameters and results that steps cannot have.
func (s *Session) checkSignature(pkg *Package, m *StepMetadata) {
	qf := shortQualifier(pkg.Types)
	for i, p := range m.Params {
		switch {
		case p.IsContext:
			if i == 0 && s.isInjectedName(p.Name) && p.Nullable {
				// injected by an earlier run
				continue
			}
			msg := "parameter %s has type %s; the pipeline context is supplied automatically and must not be declared"
			if s.Options.AllowLegacyContext {
				s.Diagnostics.Warnf(p.Pos, CodeManualContextParameter, msg, paramName(p, i), types.TypeString(p.Type, qf))
			} else {
				s.Diagnostics.Errorf(p.Pos, CodeManualContextParameter, msg, paramName(p, i), types.TypeString(p.Type, qf))
			}
		case !isAllowedParamType(p.Type):
			s.Diagnostics.Errorf(p.Pos, CodeUnsupportedParameterType,
				"parameter %s of step %s has unsupported type %s", paramName(p, i), m.FunctionName(), types.TypeString(p.Type, qf))
		}
		if isDangerousType(p.Type) {
			s.Diagnostics.Warnf(p.Pos, CodeDangerousParameterType,
				"parameter %s of step %s has type %s, which can start processes or change the runtime", paramName(p, i), m.FunctionName(), types.TypeString(p.Type, qf))
		}
	}

	if m.Results != nil && !s.isAllowedResults(m.Results) {
		pos := m.Pos
		if m.Decl.Type.Results != nil {
			pos = pkg.Fset.Position(m.Decl.Type.Results.Pos())
		}
		s.Diagnostics.Errorf(pos, CodeUnsupportedReturnType,
			"step %s has unsupported return type %s", m.FunctionName(), m.ReturnType(qf))
	}
}

func (s *Session) checkConventions(m *StepMetadata) {
	name := m.FunctionName()
	if !stepNamePattern.MatchString(name) {
		s.Diagnostics.Warnf(m.Pos, CodeNamingConvention,
			"step name %s should be MixedCaps letters and digits", name)
	}
	if !ast.IsExported(name) {
		s.Diagnostics.Warnf(m.Pos, CodePrivateStep,
			"step %s is unexported; pipelines in other packages cannot use it", name)
	}
	if n := utf8.RuneCountInString(m.Description); n > annostep.MaxDescriptionLength {
		s.Diagnostics.Warnf(m.AnnotationPos, CodeDescriptionTooLong,
			"description of step %s is %d characters long; limit is %d", name, n, annostep.MaxDescriptionLength)
	}
}

// checkGenDecl reports step annotations on types, variables, constants and
// fields.
func (s *Session) checkGenDecl(pkg *Package, file *ast.File, decl *ast.GenDecl) {
	for _, spec := range decl.Specs {
		var doc *ast.CommentGroup
		var kind string
		var fields []*ast.FieldList
		switch spec := spec.(type) {
		case *ast.TypeSpec:
			doc, kind = spec.Doc, "type "+spec.Name.Name
			switch t := spec.Type.(type) {
			case *ast.StructType:
				fields = append(fields, t.Fields)
			case *ast.InterfaceType:
				fields = append(fields, t.Methods)
			}
		case *ast.ValueSpec:
			doc = spec.Doc
			if decl.Tok == token.CONST {
				kind = "constant " + spec.Names[0].Name
			} else {
				kind = "variable " + spec.Names[0].Name
			}
		default:
			continue
		}
		if doc == nil && len(decl.Specs) == 1 {
			doc = decl.Doc
		}
		s.reportMisplaced(pkg, file, doc, kind)
		for _, fl := range fields {
			if fl == nil {
				continue
			}
			for _, f := range fl.List {
				name := "embedded field"
				if len(f.Names) > 0 {
					name = "field " + f.Names[0].Name
				}
				s.reportMisplaced(pkg, file, f.Doc, name)
			}
		}
	}
}

func (s *Session) reportMisplaced(pkg *Package, file *ast.File, doc *ast.CommentGroup, kind string) {
	for _, a := range s.stepAnnotations(pkg, file, doc) {
		s.Diagnostics.Errorf(a.pos, CodeStepTarget,
			"@%v is not allowed on %s; only functions can be steps", a.Type, kind)
	}
}

// stepAnnotations returns the step annotations of a doc comment, reporting
// the ones that could not be parsed.
func (s *Session) stepAnnotations(pkg *Package, file *ast.File, doc *ast.CommentGroup) []stepAnnotation {
	if !hasAnnotationLine(doc) {
		return nil
	}
	annos := s.res.stepAnnotations(pkg.Fset, file, pkg.Types, doc)
	for _, a := range annos {
		if a.err != nil && !s.malformed[a.pos] {
			s.malformed[a.pos] = true
			s.Diagnostics.Warnf(a.err.Pos(), CodeMalformedAnnotation,
				"could not parse @%v: %v; defaults are used", a.Type, a.err.Underlying())
		}
	}
	return annos
}

func paramName(p ParameterMetadata, index int) string {
	if p.Name == "" || p.Name == "_" {
		return "#" + strconv.Itoa(index+1)
	}
	return p.Name
}

func isAllowedScalar(t types.Type) bool {
	b, ok := types.Unalias(t).(*types.Basic)
	return ok && b.Info()&(types.IsString|types.IsBoolean|types.IsInteger) != 0 && b.Info()&types.IsUntyped == 0
}

func isAllowedParamType(t types.Type) bool {
	if isAllowedScalar(t) {
		return true
	}
	switch t := types.Unalias(t).(type) {
	case *types.Slice, *types.Array, *types.Map:
		return true
	case *types.Pointer:
		return isNamedType(t.Elem(), "os", "File") || isAllowedScalar(t.Elem())
	}
	return false
}

func (s *Session) isAllowedResults(res *types.Tuple) bool {
	n := res.Len()
	if n > 0 && isErrorType(res.At(n-1).Type()) {
		n--
	}
	switch n {
	case 0:
		return true
	case 1:
		t := res.At(0).Type()
		if ch, ok := types.Unalias(t).(*types.Chan); ok && ch.Dir() == types.RecvOnly && res.Len() == 1 {
			return s.isAllowedResultValue(ch.Elem())
		}
		return s.isAllowedResultValue(t)
	default:
		return false
	}
}

func (s *Session) isAllowedResultValue(t types.Type) bool {
	if b, ok := types.Unalias(t).(*types.Basic); ok {
		return b.Kind() == types.String
	}
	if p, ok := types.Unalias(t).(*types.Pointer); ok {
		t = p.Elem()
	}
	return isNamedType(t, s.wk.RuntimePackage, s.wk.ResultName) ||
		isNamedType(t, s.wk.RuntimePackage, s.wk.DataName)
}

func isErrorType(t types.Type) bool {
	return types.Identical(t, types.Universe.Lookup("error").Type())
}

var dangerousPackages = map[string]bool{
	"os/exec": true,
	"syscall": true,
	"runtime": true,
}

// isDangerousType reports whether a type looks like it can run processes or
// reach into the runtime. Named types are judged by name only; their
// underlying types are not inspected.
func isDangerousType(t types.Type) bool {
	switch t := types.Unalias(t).(type) {
	case *types.Named:
		obj := t.Obj()
		if obj.Pkg() != nil {
			p := obj.Pkg().Path()
			if dangerousPackages[p] || strings.HasPrefix(p, "runtime/") || strings.HasPrefix(p, "golang.org/x/sys/") {
				return true
			}
			if p == "os" && (obj.Name() == "Process" || obj.Name() == "ProcAttr" || obj.Name() == "ProcessState") {
				return true
			}
		}
		for _, marker := range []string{"Process", "Runtime", "Cmd"} {
			if strings.Contains(obj.Name(), marker) {
				return true
			}
		}
		if args := t.TypeArgs(); args != nil {
			for i := 0; i < args.Len(); i++ {
				if isDangerousType(args.At(i)) {
					return true
				}
			}
		}
		return false
	case *types.Pointer:
		return isDangerousType(t.Elem())
	case *types.Slice:
		return isDangerousType(t.Elem())
	case *types.Array:
		return isDangerousType(t.Elem())
	case *types.Map:
		return isDangerousType(t.Key()) || isDangerousType(t.Elem())
	case *types.Chan:
		return isDangerousType(t.Elem())
	case *types.Signature:
		for _, tup := range []*types.Tuple{t.Params(), t.Results()} {
			for i := 0; i < tup.Len(); i++ {
				if isDangerousType(tup.At(i).Type()) {
					return true
				}
			}
		}
	}
	return false
}
