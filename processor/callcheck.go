package processor

import (
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/types/typeutil"

	"github.com/jhump/annostep"
)

// checkCalls reports calls from restricted steps to trusted steps. It runs
// after every processed package has been checked, so that steps declared in
// any of them are in the registry.
func (s *Session) checkCalls(pkg *Package) {
	for _, m := range s.Registry.ForPackage(pkg.Path) {
		if m.SecurityLevel != annostep.Restricted || m.Decl.Body == nil {
			continue
		}
		ast.Inspect(m.Decl.Body, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			callee := typeutil.StaticCallee(pkg.Info, call)
			if callee == nil {
				return true
			}
			name, level, ok := s.stepLevel(callee)
			if ok && level == annostep.Trusted {
				s.Diagnostics.Errorf(pkg.Fset.Position(call.Pos()), CodeSecurityContextViolation,
					"restricted step %s cannot call trusted step %s", m.Name, name)
			}
			return true
		})
	}
}

// stepLevel returns the step name and security level of the given function,
// if it is a step. Methods of a generated Steps type stand for the step they
// forward to.
func (s *Session) stepLevel(fn *types.Func) (string, annostep.SecurityLevel, bool) {
	if m, ok := s.Registry.Lookup(fn); ok {
		return m.Name, m.SecurityLevel, true
	}
	if m := s.forwardedStep(fn); m != nil {
		return m.Name, m.SecurityLevel, true
	}
	if s.ExternalStep != nil {
		if name, level, ok := s.ExternalStep(fn); ok {
			return name, level, true
		}
	}
	decl, file, pkg := s.Program.DeclOf(fn)
	if decl == nil || pkg != nil {
		// processed packages are all in the registry already
		return "", 0, false
	}
	level, ok := s.res.securityLevelOf(file, decl)
	return fn.Name(), level, ok
}

// forwardedStep returns the step that a method of a generated Steps type
// calls.
func (s *Session) forwardedStep(fn *types.Func) *StepMetadata {
	recv := fn.Type().(*types.Signature).Recv()
	if recv == nil || fn.Pkg() == nil {
		return nil
	}
	t := recv.Type()
	if p, ok := types.Unalias(t).(*types.Pointer); ok {
		t = p.Elem()
	}
	if !isNamedType(t, fn.Pkg().Path(), s.Options.StepsTypeName) {
		return nil
	}
	for _, m := range s.Registry.ForPackage(fn.Pkg().Path()) {
		if m.IsTopLevel && m.FunctionName() == fn.Name() {
			return m
		}
	}
	return nil
}
