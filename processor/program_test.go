package processor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhump/annostep/internal/log"
)

// writeModule lays out a module in a temp directory with its own copies of
// the annotation and runtime packages, so it loads without the network.
func writeModule(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	copies := map[string]string{
		"annostep/annotations.go": "../annotations.go",
		"pipeline/pipeline.go":    "../pipeline/pipeline.go",
		"pipeline/registry.go":    "../pipeline/registry.go",
	}
	all := map[string]string{"go.mod": "module example.com/mod\n\ngo 1.24\n"}
	for dst, src := range copies {
		data, err := os.ReadFile(src)
		require.NoError(t, err)
		all[dst] = strings.ReplaceAll(string(data), `"`+annostepPath+`"`, `"example.com/mod/annostep"`)
	}
	for name, src := range files {
		all[name] = src
	}
	for name, src := range all {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(src), 0o644))
	}
	return root
}

func TestLoadProgram_IncludeTests(t *testing.T) {
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go command not available")
	}
	root := writeModule(t, map[string]string{
		"p/p.go": `package p

import _ "example.com/mod/annostep"

// @annostep.Step{}
func Echo(message string) {}
`,
		"p/p_test.go": `package p

import "testing"

func TestEcho(t *testing.T) {}
`,
		"q/q.go": `package q

import "example.com/mod/p"

func Main() {
	p.Echo("hi")
}
`,
	})

	for _, includeTests := range []bool{false, true} {
		opts := DefaultOptions()
		opts.WellKnown.AnnotationPackage = "example.com/mod/annostep"
		opts.WellKnown.RuntimePackage = "example.com/mod/pipeline"
		cfg := &Config{
			Dir:          root,
			Patterns:     []string{"./..."},
			IncludeTests: includeTests,
			Options:      opts,
			Logger:       log.Discard(),
		}
		s, err := cfg.Execute(context.Background())
		require.NoError(t, err, "includeTests=%v", includeTests)

		pkg := s.Program.Package("example.com/mod/p")
		require.NotNil(t, pkg)
		if includeTests {
			// the variant with tests is the one processed
			assert.Len(t, pkg.Files, 2)
		}
		ds := s.Diagnostics.WithCode(CodeDirectStepCall)
		require.Len(t, ds, 1, "includeTests=%v", includeTests)
		assert.Equal(t, "q.go", filepath.Base(ds[0].Pos.Filename))
		assert.Contains(t, ds[0].Message, "p.StepsOf(b).Echo")
	}
}
