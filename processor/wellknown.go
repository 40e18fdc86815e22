package processor

import (
	"go/types"
)

// WellKnown names the declarations that processing depends on. They are
// looked up by import path and name in the program being processed.
type WellKnown struct {
	AnnotationPackage string `yaml:"annotation_package"`
	AnnotationName    string `yaml:"annotation_name"`
	CategoryName      string `yaml:"category_name"`
	SecurityLevelName string `yaml:"security_level_name"`

	RuntimePackage string `yaml:"runtime_package"`
	ContextName    string `yaml:"context_name"`
	BlockName      string `yaml:"block_name"`
	ResultName     string `yaml:"result_name"`
	DataName       string `yaml:"data_name"`
	RegisterName   string `yaml:"register_name"`
	StepInfoName   string `yaml:"step_info_name"`
}

// DefaultWellKnown returns the names of the annostep and annostep/pipeline
// packages.
func DefaultWellKnown() WellKnown {
	return WellKnown{
		AnnotationPackage: "github.com/jhump/annostep",
		AnnotationName:    "Step",
		CategoryName:      "Category",
		SecurityLevelName: "SecurityLevel",
		RuntimePackage:    "github.com/jhump/annostep/pipeline",
		ContextName:       "PipelineContext",
		BlockName:         "StepsBlock",
		ResultName:        "StepResult",
		DataName:          "PipelineData",
		RegisterName:      "RegisterStep",
		StepInfoName:      "StepInfo",
	}
}

// withDefaults fills in blank names.
func (wk WellKnown) withDefaults() WellKnown {
	def := DefaultWellKnown()
	set := func(s *string, d string) {
		if *s == "" {
			*s = d
		}
	}
	set(&wk.AnnotationPackage, def.AnnotationPackage)
	set(&wk.AnnotationName, def.AnnotationName)
	set(&wk.CategoryName, def.CategoryName)
	set(&wk.SecurityLevelName, def.SecurityLevelName)
	set(&wk.RuntimePackage, def.RuntimePackage)
	set(&wk.ContextName, def.ContextName)
	set(&wk.BlockName, def.BlockName)
	set(&wk.ResultName, def.ResultName)
	set(&wk.DataName, def.DataName)
	set(&wk.RegisterName, def.RegisterName)
	set(&wk.StepInfoName, def.StepInfoName)
	return wk
}

func isNamedType(t types.Type, pkgPath, name string) bool {
	n, ok := types.Unalias(t).(*types.Named)
	if !ok {
		return false
	}
	obj := n.Obj()
	return obj.Pkg() != nil && obj.Pkg().Path() == pkgPath && obj.Name() == name
}

// isContextType reports whether t is the pipeline context, or a pointer to it.
func (wk WellKnown) isContextType(t types.Type) bool {
	if t == nil {
		return false
	}
	if p, ok := types.Unalias(t).(*types.Pointer); ok {
		t = p.Elem()
	}
	return isNamedType(t, wk.RuntimePackage, wk.ContextName)
}
