// Command stepvet checks functions annotated with @annostep.Step without
// rewriting them. It can also be used as a go vet tool:
//
//	go vet -vettool=$(which stepvet) ./...
package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/jhump/annostep/stepvet"
)

func main() {
	singlechecker.Main(stepvet.Analyzer)
}
