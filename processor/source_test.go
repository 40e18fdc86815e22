package processor

import (
	"go/format"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourcesFormatted(t *testing.T) {
	names, err := filepath.Glob("*.go")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	for _, name := range names {
		src, err := os.ReadFile(name)
		require.NoError(t, err)
		formatted, err := format.Source(src)
		require.NoError(t, err, name)
		assert.Equal(t, string(formatted), string(src), "%s is not gofmt-ed", name)
	}
}

func TestPackageDocNames(t *testing.T) {
	newFixture(t)
	src, err := os.ReadFile("doc.go")
	require.NoError(t, err)
	scope := basePkgs[annostepPath].Scope()
	matches := regexp.MustCompile(`annostep\.([A-Za-z]+)`).FindAllStringSubmatch(string(src), -1)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.NotNil(t, scope.Lookup(m[1]), "doc refers to undeclared annostep.%s", m[1])
	}
}
