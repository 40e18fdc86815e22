package processor

import "sync"

// Processor is a function that runs after the built-in backend phases, with
// the session's registry and rewritten syntax available. Typical processor
// implementations generate code based on the steps found, either writing it
// with the given output factory or adding it with Session.AddGeneratedFile.
// A processor may call Session.TransformDecl again; doing so is a no-op for
// steps that already have a context parameter.
type Processor func(s *Session, output OutputFactory) error

var (
	processorsMu sync.Mutex
	registered   []Processor
)

// RegisterProcessor registers the given processor. Registered processors are
// run by ProcessAll.
func RegisterProcessor(p Processor) {
	processorsMu.Lock()
	defer processorsMu.Unlock()
	registered = append(registered, p)
}

// AllRegisteredProcessors returns the registered processors in the order they
// were registered.
func AllRegisteredProcessors() []Processor {
	processorsMu.Lock()
	defer processorsMu.Unlock()
	return append([]Processor(nil), registered...)
}
