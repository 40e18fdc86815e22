package log

import (
	"go/token"
	"io"
	"log/slog"
)

// New returns the text logger used by the processor. Debug output is enabled
// when debug is true.
func New(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func Session(id string) slog.Attr {
	return slog.String("session", id)
}

func Package(path string) slog.Attr {
	return slog.String("package", path)
}

func Step(name string) slog.Attr {
	return slog.String("step", name)
}

func Func(name string) slog.Attr {
	return slog.String("func", name)
}

func Code[T ~string](code T) slog.Attr {
	return slog.String("code", string(code))
}

func Pos(p token.Position) slog.Attr {
	return slog.String("pos", p.String())
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}
