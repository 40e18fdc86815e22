package processor

import (
	"bytes"
	"context"
	"go/ast"
	"go/format"
	"go/token"
	"go/types"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jhump/annostep"
	"github.com/jhump/annostep/internal/log"
)

// Session is one run of the processor over a program. Everything it learns,
// including the registry of steps, lives only as long as the session.
//
// Work happens in two stages. The frontend finds and checks steps; it never
// changes source. The backend, which only runs when the frontend reported no
// errors, rewrites step signatures, reports call sites and generates code.
// A session is used from a single goroutine.
type Session struct {
	// ID identifies the session in logs.
	ID          string
	Options     Options
	Program     *Program
	Registry    *Registry
	Diagnostics *Diagnostics
	Logger      *slog.Logger

	// ExternalStep, if not nil, is asked about functions that are not
	// declared in the processed packages. It returns the step name and
	// security level if the function is a step.
	ExternalStep func(fn *types.Func) (string, annostep.SecurityLevel, bool)

	wk  WellKnown
	res *resolver

	frontendDone bool
	visited      map[*ast.FuncDecl]bool
	malformed    map[token.Position]bool
	records      map[*ast.FuncDecl]*TransformationRecord
	recordOrder  []*TransformationRecord
	calls        map[*ast.CallExpr]CallOutcome
	modified     map[*ast.File]*Package
	extensions   map[string][]GeneratedExtension
	generated    []GeneratedFile

	// for tests
	beforeInject func(*ast.FuncDecl)
}

// NewSession returns a session for the given program. If logger is nil,
// nothing is logged.
func NewSession(prg *Program, opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = log.Discard()
	}
	opts = opts.normalize()
	id := uuid.NewString()
	s := &Session{
		ID:          id,
		Options:     opts,
		Program:     prg,
		Registry:    NewRegistry(),
		Diagnostics: &Diagnostics{},
		Logger:      logger.With(log.Session(id)),
		wk:          opts.WellKnown,
		visited:     map[*ast.FuncDecl]bool{},
		malformed:   map[token.Position]bool{},
		records:     map[*ast.FuncDecl]*TransformationRecord{},
		calls:       map[*ast.CallExpr]CallOutcome{},
		modified:    map[*ast.File]*Package{},
		extensions:  map[string][]GeneratedExtension{},
	}
	s.res = &resolver{prg: prg, wk: s.wk}
	return s
}

// Run runs both stages and then writes output. If the frontend reports
// errors, a *DiagnosticsError is returned and nothing is written.
func (s *Session) Run(ctx context.Context, procs []Processor, output OutputFactory) error {
	if err := s.RunFrontend(ctx); err != nil {
		return err
	}
	if s.Diagnostics.HasErrors() {
		return &DiagnosticsError{Diagnostics: s.Diagnostics.Errors()}
	}
	if err := s.RunBackend(ctx, procs, output); err != nil {
		return err
	}
	if output == nil {
		return nil
	}
	return s.Emit(output)
}

// RunFrontend finds, checks and registers the steps of every processed
// package, then checks calls between steps. It only does this once; later
// calls return immediately.
func (s *Session) RunFrontend(ctx context.Context) error {
	if s.frontendDone {
		return nil
	}
	s.frontendDone = true
	for _, pkg := range s.Program.Packages {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.checkPackage(pkg)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, pkg := range s.Program.Packages {
		s.checkCalls(pkg)
	}
	s.Logger.Info("checked steps",
		slog.Int("packages", len(s.Program.Packages)),
		slog.Int("steps", s.Registry.Len()),
		slog.Int("diagnostics", s.Diagnostics.Len()))
	return nil
}

// RunBackend transforms every processed package, then reconciles calls,
// generates code and finally runs the given processors. Processors are given
// the output factory; it may be nil when the caller only inspects the session.
func (s *Session) RunBackend(ctx context.Context, procs []Processor, output OutputFactory) error {
	if s.Options.EnableContextInjection {
		for _, pkg := range s.Program.Packages {
			s.TransformPackage(pkg)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// arities are final now
	for _, pkg := range s.Program.Packages {
		s.ReconcilePackage(pkg)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, pkg := range s.Program.Packages {
		if s.Options.EnableDSLGeneration {
			s.SynthesizePackage(pkg)
		}
		if s.Options.EmitStepInfo {
			if err := s.GenerateStepInfo(pkg); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, proc := range procs {
		if err := proc(s, output); err != nil {
			return errors.Wrapf(err, "processor #%d failed", i+1)
		}
	}
	if s.Options.CatalogPath != "" {
		if err := writeCatalogFile(s.Options.CatalogPath, NewCatalog(s.Registry)); err != nil {
			return err
		}
	}
	s.Logger.Info("processed steps",
		slog.Int("transformed", s.countRecords(StateTransformed)),
		slog.Int("generated_files", len(s.generated)))
	return nil
}

func (s *Session) countRecords(state TransformState) int {
	n := 0
	for _, r := range s.recordOrder {
		if r.State == state {
			n++
		}
	}
	return n
}

// AddGeneratedFile adds a file to the session's output. Processors use it
// to generate code of their own.
func (s *Session) AddGeneratedFile(f GeneratedFile) {
	s.generated = append(s.generated, f)
}

// Generated returns the files generated so far.
func (s *Session) Generated() []GeneratedFile {
	res := make([]GeneratedFile, len(s.generated))
	copy(res, s.generated)
	return res
}

// ModifiedFiles returns the source files whose syntax was changed, sorted by
// file name.
func (s *Session) ModifiedFiles() []*ast.File {
	files := make([]*ast.File, 0, len(s.modified))
	for f := range s.modified {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		return s.modified[files[i]].Filename(files[i]) < s.modified[files[j]].Filename(files[j])
	})
	return files
}

// FormatFile prints a source file of the given package as gofmt would.
func FormatFile(pkg *Package, f *ast.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := format.Node(&buf, pkg.Fset, f); err != nil {
		return nil, errors.Wrapf(err, "could not print %s", pkg.Filename(f))
	}
	return buf.Bytes(), nil
}

// Emit writes modified sources and generated files.
func (s *Session) Emit(output OutputFactory) error {
	for _, f := range s.ModifiedFiles() {
		pkg := s.modified[f]
		src, err := FormatFile(pkg, f)
		if err != nil {
			return err
		}
		if err := writeOutput(output, pkg, filepath.Base(pkg.Filename(f)), src); err != nil {
			return err
		}
	}
	for _, g := range s.generated {
		if err := writeOutput(output, g.Package, g.Name, g.Content); err != nil {
			return err
		}
	}
	return nil
}
