package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jhump/annostep/internal/log"
	"github.com/jhump/annostep/processor"
)

// settle is how long sources must be quiet before processing again. Editors
// and the processor itself touch several files at once.
const settle = 300 * time.Millisecond

// watch runs a session, then runs a fresh one whenever a Go source file in one
// of the processed packages changes. It returns when ctx is done.
func watch(ctx context.Context, cfg *processor.Config, cmd *cobra.Command) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "could not watch sources")
	}
	defer func() {
		_ = w.Close()
	}()

	watched := map[string]bool{}
	rerun := func() {
		s, err := runOnce(ctx, cfg, cmd)
		if err != nil {
			cfg.Logger.Error("processing failed", log.Error(err))
		}
		for _, dir := range watchDirs(cfg, s) {
			if watched[dir] {
				continue
			}
			if err := w.Add(dir); err != nil {
				cfg.Logger.Warn("could not watch directory", slog.String("dir", dir), log.Error(err))
				continue
			}
			watched[dir] = true
		}
		cfg.Logger.Info("watching for changes", slog.Int("dirs", len(watched)))
	}
	rerun()

	timer := time.NewTimer(settle)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isSourceChange(ev) {
				continue
			}
			cfg.Logger.Debug("source changed", slog.String("file", ev.Name))
			timer.Reset(settle)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			cfg.Logger.Warn("watch error", log.Error(err))
		case <-timer.C:
			rerun()
		}
	}
}

// watchDirs returns the source directories of the session's packages. If
// packages could not be loaded, the working directory is watched instead so
// that fixing the problem triggers another run.
func watchDirs(cfg *processor.Config, s *processor.Session) []string {
	var dirs []string
	if s != nil {
		for _, pkg := range s.Program.Packages {
			if pkg.Dir != "" {
				dirs = append(dirs, pkg.Dir)
			}
		}
	}
	if len(dirs) == 0 {
		dir := cfg.Dir
		if dir == "" {
			dir = "."
		}
		dirs = append(dirs, dir)
	}
	return dirs
}

// isSourceChange reports whether ev changes a Go file written by hand.
// Generated files are rewritten by every run and are ignored.
func isSourceChange(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	if !strings.HasSuffix(name, ".go") {
		return false
	}
	return !strings.HasSuffix(name, ".steps.go") && !strings.HasSuffix(name, ".stepinfo.go")
}
