package pipeline

import (
	"sort"
	"sync"

	"github.com/jhump/annostep"
)

// StepInfo describes a step at runtime. Values are registered by the
// <pkg>.stepinfo.go files that aptstep generates.
type StepInfo struct {
	Name          string
	Description   string
	Category      annostep.Category
	SecurityLevel annostep.SecurityLevel
	Package       string
	Function      string
	Params        []ParamInfo
	Async         bool
	// Func is the step function itself.
	Func interface{}
}

// ParamInfo describes one parameter of a step, excluding the context.
type ParamInfo struct {
	Name     string
	Type     string
	Optional bool
	Nullable bool
}

var (
	registryLock sync.RWMutex
	registered   = map[string]StepInfo{}
)

// RegisterStep records the given step. Registering the same package and
// function twice replaces the earlier entry.
func RegisterStep(info StepInfo) {
	registryLock.Lock()
	defer registryLock.Unlock()
	registered[info.Package+"."+info.Function] = info
}

// RegisteredSteps returns all registered steps sorted by package and function.
func RegisteredSteps() []StepInfo {
	registryLock.RLock()
	defer registryLock.RUnlock()
	steps := make([]StepInfo, 0, len(registered))
	for _, s := range registered {
		steps = append(steps, s)
	}
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].Package == steps[j].Package {
			return steps[i].Function < steps[j].Function
		}
		return steps[i].Package < steps[j].Package
	})
	return steps
}

// StepsInCategory returns the registered steps of the given category.
func StepsInCategory(c annostep.Category) []StepInfo {
	var res []StepInfo
	for _, s := range RegisteredSteps() {
		if s.Category == c {
			res = append(res, s)
		}
	}
	return res
}
