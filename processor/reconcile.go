package processor

import (
	"fmt"
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/ast/astutil"
	"golang.org/x/tools/go/types/typeutil"

	"github.com/jhump/annostep/internal/log"
)

// CallOutcome is what the reconciler decided for one call expression.
type CallOutcome int

const (
	// CallUntouched is for calls to functions whose arity did not change.
	CallUntouched CallOutcome = iota
	// CallReconciled is for calls to an injected step that already pass a
	// context as their first argument.
	CallReconciled
	// CallDelegated is for calls to an injected step that do not pass a
	// context. They are left as they are and reported; callers should use
	// the generated Steps method instead.
	CallDelegated
)

func (o CallOutcome) String() string {
	switch o {
	case CallUntouched:
		return "untouched"
	case CallReconciled:
		return "reconciled"
	case CallDelegated:
		return "delegated"
	default:
		return fmt.Sprintf("?%d?", int(o))
	}
}

// ReconcilePackage visits every call in the package. It must run after every
// processed package has been transformed. Calls are never rewritten: each
// keeps its original node. Outcomes are remembered, so reconciling the same
// tree again reports nothing new.
func (s *Session) ReconcilePackage(pkg *Package) map[*ast.CallExpr]CallOutcome {
	res := map[*ast.CallExpr]CallOutcome{}
	for _, file := range pkg.Files {
		astutil.Apply(file, nil, func(c *astutil.Cursor) bool {
			call, ok := c.Node().(*ast.CallExpr)
			if !ok {
				return true
			}
			res[call] = s.reconcileCall(pkg, call)
			return true
		})
	}
	return res
}

// CallOutcomeOf returns the remembered outcome for a call.
func (s *Session) CallOutcomeOf(call *ast.CallExpr) (CallOutcome, bool) {
	o, ok := s.calls[call]
	return o, ok
}

func (s *Session) reconcileCall(pkg *Package, call *ast.CallExpr) (outcome CallOutcome) {
	if o, ok := s.calls[call]; ok {
		return o
	}
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("could not reconcile call", log.Package(pkg.Path),
				log.Pos(pkg.Fset.Position(call.Pos())), log.Error(fmt.Errorf("panic: %v", r)))
			outcome = CallUntouched
		}
		s.calls[call] = outcome
	}()

	callee := typeutil.StaticCallee(pkg.Info, call)
	if callee == nil {
		return CallUntouched
	}
	m, ok := s.Registry.Lookup(callee)
	if !ok {
		return CallUntouched
	}
	rec, ok := s.records[m.Decl]
	if !ok || !rec.Injected {
		return CallUntouched
	}
	if len(call.Args) > 0 && s.wk.isContextType(pkg.Info.TypeOf(call.Args[0])) {
		return CallReconciled
	}

	pos := pkg.Fset.Position(call.Pos())
	s.Logger.Debug("direct call to step", log.Package(pkg.Path), log.Step(m.Name), log.Pos(pos))
	s.Diagnostics.Warnf(pos, CodeDirectStepCall,
		"%s now takes a %s as its first argument; call it as %s from a steps block",
		m.FunctionName(), s.contextTypeString(pkg), s.stepsMethodString(pkg, m))
	return CallDelegated
}

func (s *Session) contextTypeString(pkg *Package) string {
	tn := s.Program.LookupType(s.wk.RuntimePackage, s.wk.ContextName)
	if tn == nil {
		return "*" + s.wk.ContextName
	}
	return types.TypeString(types.NewPointer(tn.Type()), shortQualifier(pkg.Types))
}

func (s *Session) stepsMethodString(from *Package, m *StepMetadata) string {
	if from.Path == m.Package {
		return fmt.Sprintf("%sOf(b).%s", s.Options.StepsTypeName, m.FunctionName())
	}
	name := m.Package
	if m.Func != nil {
		name = m.Func.Pkg().Name()
	}
	return fmt.Sprintf("%s.%sOf(b).%s", name, s.Options.StepsTypeName, m.FunctionName())
}
