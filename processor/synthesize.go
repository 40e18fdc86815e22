package processor

import (
	"fmt"
	"go/types"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jhump/gopoet"
	"github.com/pkg/errors"

	"github.com/jhump/annostep/internal/log"
)

// GeneratedExtension is a method of the generated Steps type that calls a
// step with the context of the steps block.
type GeneratedExtension struct {
	// Name is the method name, which is the step function's name.
	Name string
	// Receiver is the name of the receiver variable.
	Receiver string
	// Params are the step's parameters without context parameters.
	Params []ExtensionParam
	// Results are the step's result types.
	Results []string
	// Args are the arguments of the forwarding call, context included.
	Args     []string
	Async    bool
	Variadic bool
	Target   *StepMetadata
}

// ExtensionParam is one parameter of a generated method. For a variadic
// parameter, Type starts with "...".
type ExtensionParam struct {
	Name string
	Type string
}

// GeneratedFile is a source file produced by processing.
type GeneratedFile struct {
	Package *Package
	// Name is the base name of the file.
	Name    string
	Content []byte
}

func stepsFileName(pkg *Package) string {
	return pkg.Name + ".steps.go"
}

// Extensions returns the methods generated for the package with the given
// import path.
func (s *Session) Extensions(pkgPath string) []GeneratedExtension {
	return s.extensions[pkgPath]
}

// SynthesizePackage generates the Steps type of a package and one method on
// it for each step the package declares. Steps in _test.go files, methods and
// generic functions get no method.
func (s *Session) SynthesizePackage(pkg *Package) {
	var steps []*StepMetadata
	for _, m := range s.Registry.ForPackage(pkg.Path) {
		if forwardable(m) {
			steps = append(steps, m)
		}
	}
	if len(steps) == 0 {
		return
	}
	logger := s.Logger.With(log.Package(pkg.Path))

	pkgPos := pkg.Fset.Position(pkg.Files[0].Name.Pos())
	block := s.Program.LookupType(s.wk.RuntimePackage, s.wk.BlockName)
	if block == nil {
		logger.Warn("steps block type not found; no Steps type generated", log.Code(CodeDSLTypeUnresolved))
		s.Diagnostics.Warnf(pkgPos, CodeDSLTypeUnresolved,
			"cannot find %s.%s; no %s type generated for package %s", s.wk.RuntimePackage, s.wk.BlockName, s.Options.StepsTypeName, pkg.Name)
		return
	}
	for _, name := range []string{s.Options.StepsTypeName, s.Options.StepsTypeName + "Of"} {
		obj := pkg.Types.Scope().Lookup(name)
		if obj == nil {
			continue
		}
		if pos := pkg.Fset.Position(obj.Pos()); filepath.Base(pos.Filename) != stepsFileName(pkg) {
			s.Diagnostics.Warnf(pos, CodeDSLNameConflict,
				"%s is already declared in package %s; no %s type generated", name, pkg.Name, s.Options.StepsTypeName)
			return
		}
	}

	file := newGenFile(stepsFileName(pkg), pkg)
	runtimeQual := file.qualifier(block.Pkg())
	blockRef := block.Name()
	if runtimeQual != "" {
		blockRef = runtimeQual + "." + block.Name()
	}
	stepsType, err := s.stepsType(pkg, file, block)
	if err != nil {
		logger.Error("could not generate steps type", log.Error(err))
		s.Diagnostics.Warnf(pkgPos, CodeTransformFailed, "could not generate %s: %v", stepsFileName(pkg), err)
		return
	}

	var exts []GeneratedExtension
	for _, m := range steps {
		ext, err := s.synthesize(m, file, stepsType, runtimeQual, blockRef)
		if err != nil {
			logger.Error("could not generate step method", log.Func(m.FunctionName()), log.Error(err))
			s.Diagnostics.Warnf(m.Pos, CodeTransformFailed, "could not generate %s.%s: %v", s.Options.StepsTypeName, m.FunctionName(), err)
			continue
		}
		exts = append(exts, ext)
	}

	src, err := file.write()
	if err != nil {
		logger.Error("could not format steps file", log.Error(err))
		s.Diagnostics.Warnf(pkgPos, CodeTransformFailed, "could not generate %s: %v", stepsFileName(pkg), err)
		return
	}
	s.extensions[pkg.Path] = exts
	s.generated = append(s.generated, GeneratedFile{Package: pkg, Name: stepsFileName(pkg), Content: src})
	logger.Debug("generated steps", slog.Int("count", len(exts)))
}

// stepsType adds the Steps type and its StepsOf constructor to file.
func (s *Session) stepsType(pkg *Package, file *genFile, block *types.TypeName) (*gopoet.TypeSpec, error) {
	blockType, err := file.typeName(block.Type())
	if err != nil {
		return nil, err
	}
	typeName := s.Options.StepsTypeName
	spec := gopoet.NewTypeSpec(typeName, blockType)
	spec.SetComment(fmt.Sprintf("%s has a method for each step in package %s. Methods supply the\npipeline context of the steps block they are called from.", typeName, pkg.Name))
	file.AddType(spec)

	of := gopoet.NewFunc(typeName+"Of").
		SetComment(fmt.Sprintf("%sOf returns the steps of package %s for use in b.", typeName, pkg.Name)).
		AddArg("b", gopoet.PointerType(blockType)).
		AddResult("", gopoet.PointerType(spec.ToTypeName()))
	of.Printlnf("return (*%s)(b)", spec)
	file.AddElement(of)
	return spec, nil
}

// synthesize adds the method of stepsType that forwards to m.
func (s *Session) synthesize(m *StepMetadata, file *genFile, stepsType *gopoet.TypeSpec, runtimeQual, blockRef string) (ext GeneratedExtension, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()

	ext = GeneratedExtension{
		Name:   m.FunctionName(),
		Async:  m.Async,
		Target: m,
	}
	fwd := m.ForwardedParams()
	names := make([]string, len(fwd))
	taken := map[string]bool{ext.Name: true}
	if runtimeQual != "" {
		taken[runtimeQual] = true
	}
	for i, p := range fwd {
		names[i] = p.Name
		if names[i] == "" || names[i] == "_" || taken[names[i]] {
			names[i] = fmt.Sprintf("arg%d", i)
		}
		taken[names[i]] = true
	}
	for _, r := range []string{"s", "steps", "blk", "recv"} {
		if !taken[r] {
			ext.Receiver = r
			break
		}
	}
	if ext.Receiver == "" {
		return ext, errors.New("no usable receiver name")
	}

	method := gopoet.NewMethod(gopoet.NewPointerReceiverForType(ext.Receiver, stepsType), ext.Name)
	if m.Description != "" {
		method.SetComment(fmt.Sprintf("%s runs step %q: %s", ext.Name, m.Name, oneLine(m.Description)))
	} else {
		method.SetComment(fmt.Sprintf("%s runs step %q.", ext.Name, m.Name))
	}
	for i, p := range fwd {
		tn, err := file.typeName(p.Type)
		if err != nil {
			return ext, err
		}
		method.AddArg(names[i], tn)
		typ := types.TypeString(p.Type, file.qualifier)
		if p.HasDefault {
			slice, ok := types.Unalias(p.Type).(*types.Slice)
			if !ok {
				return ext, errors.Errorf("variadic parameter %s is not a slice", p.Name)
			}
			typ = "..." + types.TypeString(slice.Elem(), file.qualifier)
			method.SetVariadic(true)
			ext.Variadic = true
		}
		ext.Params = append(ext.Params, ExtensionParam{Name: names[i], Type: typ})
	}
	if m.Results != nil {
		for i := 0; i < m.Results.Len(); i++ {
			r := m.Results.At(i).Type()
			tn, err := file.typeName(r)
			if err != nil {
				return ext, err
			}
			method.AddResult("", tn)
			ext.Results = append(ext.Results, types.TypeString(r, file.qualifier))
		}
	}
	ext.Args = s.forwardArgs(m, fwd, names, fmt.Sprintf("(*%s)(%s).Context()", blockRef, ext.Receiver))
	call := fmt.Sprintf("%s(%s)", ext.Name, strings.Join(ext.Args, ", "))
	if len(ext.Results) > 0 {
		call = "return " + call
	}
	method.Printlnf("%s", call)
	file.AddElement(method)
	return ext, nil
}

// forwardArgs returns the arguments a generated method passes to m. Injected
// steps take the context first; legacy steps take it where they declare it.
func (s *Session) forwardArgs(m *StepMetadata, fwd []ParameterMetadata, names []string, ctxExpr string) []string {
	arg := func(i int) string {
		if fwd[i].HasDefault {
			return names[i] + "..."
		}
		return names[i]
	}
	var args []string
	if rec, ok := s.records[m.Decl]; ok && rec.Injected {
		args = append(args, ctxExpr)
		for i := range fwd {
			args = append(args, arg(i))
		}
		return args
	}
	j := 0
	for _, p := range m.Params {
		if !p.IsContext {
			args = append(args, arg(j))
			j++
			continue
		}
		if p.Nullable {
			args = append(args, ctxExpr)
		} else {
			args = append(args, "*"+ctxExpr)
		}
	}
	return args
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
