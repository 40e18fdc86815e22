package processor

import (
	"go/ast"
	"go/token"
	"go/types"

	"github.com/jhump/annostep"
)

// StepMetadata describes one function annotated with @annostep.Step. It is
// created once, while checking the package that declares the function, and is
// not changed afterwards.
type StepMetadata struct {
	// Name is the display name of the step. It is the function's name unless
	// the annotation supplies one.
	Name          string
	Description   string
	Category      annostep.Category
	SecurityLevel annostep.SecurityLevel

	// Params describes the function's parameters as declared, before any
	// context parameter is injected.
	Params []ParameterMetadata
	// Results is the function's result list as declared.
	Results *types.Tuple
	// Async is true when the function's last result is a receive-only
	// channel.
	Async bool

	// Package is the import path of the declaring package.
	Package string
	// IsTopLevel is false for methods.
	IsTopLevel bool
	// InTestFile is true when the function is declared in a _test.go file.
	InTestFile bool

	Func *types.Func
	Decl *ast.FuncDecl
	// Pos is the position of the function's name.
	Pos token.Position
	// AnnotationPos is the position of the "@" that starts the annotation.
	AnnotationPos token.Position
}

// ParameterMetadata describes one declared parameter of a step.
type ParameterMetadata struct {
	// Name is the declared name; empty if the parameter is unnamed.
	Name string
	Type types.Type
	// HasDefault is true for a variadic parameter, which callers may omit.
	// Type is then the slice type.
	HasDefault bool
	// Nullable is true for pointer-typed parameters.
	Nullable bool
	// IsContext is true when the parameter has the pipeline context type.
	IsContext bool
	Pos       token.Position
}

// FunctionName returns the unqualified name of the step function.
func (m *StepMetadata) FunctionName() string {
	if m.Func != nil {
		return m.Func.Name()
	}
	return m.Decl.Name.Name
}

// HasContextParam reports whether any declared parameter is a context.
func (m *StepMetadata) HasContextParam() bool {
	for _, p := range m.Params {
		if p.IsContext {
			return true
		}
	}
	return false
}

// ForwardedParams returns the parameters without any context parameters, in
// declaration order.
func (m *StepMetadata) ForwardedParams() []ParameterMetadata {
	res := make([]ParameterMetadata, 0, len(m.Params))
	for _, p := range m.Params {
		if !p.IsContext {
			res = append(res, p)
		}
	}
	return res
}

// ReturnType describes the results as they would appear in a signature.
func (m *StepMetadata) ReturnType(qf types.Qualifier) string {
	if m.Results == nil || m.Results.Len() == 0 {
		return ""
	}
	if m.Results.Len() == 1 {
		return types.TypeString(m.Results.At(0).Type(), qf)
	}
	s := "("
	for i := 0; i < m.Results.Len(); i++ {
		if i > 0 {
			s += ", "
		}
		s += types.TypeString(m.Results.At(i).Type(), qf)
	}
	return s + ")"
}

// shortQualifier qualifies names from packages other than self with the
// package name.
func shortQualifier(self *types.Package) types.Qualifier {
	return func(p *types.Package) string {
		if p == nil || (self != nil && p.Path() == self.Path()) {
			return ""
		}
		return p.Name()
	}
}
