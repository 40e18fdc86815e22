package processor

import (
	"go/types"

	"github.com/jhump/gopoet"
	"github.com/pkg/errors"

	"github.com/jhump/annostep/internal/log"
)

func stepInfoFileName(pkg *Package) string {
	return pkg.Name + ".stepinfo.go"
}

// forwardable reports whether generated code in the step's package can refer
// to the step function.
func forwardable(m *StepMetadata) bool {
	return m.IsTopLevel && !m.InTestFile &&
		(m.Func == nil || m.Func.Type().(*types.Signature).TypeParams() == nil)
}

// GenerateStepInfo generates a file whose init function registers the
// package's steps with the pipeline runtime, so they can be listed at run
// time.
func (s *Session) GenerateStepInfo(pkg *Package) error {
	var steps []*StepMetadata
	for _, m := range s.Registry.ForPackage(pkg.Path) {
		if forwardable(m) && m.Func != nil {
			steps = append(steps, m)
		}
	}
	if len(steps) == 0 {
		return nil
	}

	file := newGenFile(stepInfoFileName(pkg), pkg)
	runtimePkg := file.gopoetPackage(s.wk.RuntimePackage, s.res.packageName(pkg.Types, s.wk.RuntimePackage))
	annoPkg := file.gopoetPackage(s.wk.AnnotationPackage, s.res.packageName(pkg.Types, s.wk.AnnotationPackage))

	initFunc := gopoet.NewFunc("init")
	for i, m := range steps {
		if i != 0 {
			initFunc.Println("")
		}
		initFunc.Printlnf("%s(%s{", runtimePkg.Symbol(s.wk.RegisterName), runtimePkg.Symbol(s.wk.StepInfoName))
		initFunc.Printlnf("Name: %q,", m.Name)
		if m.Description != "" {
			initFunc.Printlnf("Description: %q,", m.Description)
		}
		initFunc.Printlnf("Category: %s(%d),", annoPkg.Symbol(s.wk.CategoryName), int(m.Category))
		initFunc.Printlnf("SecurityLevel: %s(%d),", annoPkg.Symbol(s.wk.SecurityLevelName), int(m.SecurityLevel))
		initFunc.Printlnf("Package: %q,", m.Package)
		initFunc.Printlnf("Function: %q,", m.FunctionName())
		if fwd := m.ForwardedParams(); len(fwd) > 0 {
			initFunc.Printlnf("Params: []%s{", runtimePkg.Symbol("ParamInfo"))
			for j, p := range fwd {
				initFunc.Printlnf("{Name: %q, Type: %q, Optional: %v, Nullable: %v},",
					paramName(p, j), types.TypeString(p.Type, shortQualifier(pkg.Types)), p.HasDefault, p.Nullable)
			}
			initFunc.Println("},")
		}
		if m.Async {
			initFunc.Println("Async: true,")
		}
		initFunc.Printlnf("Func: %s,", m.Func)
		initFunc.Println("})")
	}
	file.AddElement(initFunc)

	src, err := file.write()
	if err != nil {
		return errors.Wrapf(err, "could not generate %s", file.Name)
	}
	s.generated = append(s.generated, GeneratedFile{Package: pkg, Name: file.Name, Content: src})
	s.Logger.Debug("generated step info", log.Package(pkg.Path))
	return nil
}
