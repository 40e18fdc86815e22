package parser

import (
	"go/ast"
	"go/token"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnnotations(t *testing.T) {
	var input = `Publish uploads the build artifacts.

@NoValue
@annostep.Step{Name: "publish", Category: annostep.CategoryDeploy}
@Step{
    Name: "multi",
    Description: "spans lines",
}
@Other.Thing{1, 2, 3}
`

	annos, err := ParseAnnotations("foo", strings.NewReader(input))
	require.Nil(t, err)
	require.Len(t, annos, 4)

	assert.Equal(t, "NoValue", annos[0].Type.String())
	assert.Nil(t, annos[0].Value)

	assert.Equal(t, "annostep", annos[1].Type.PackageAlias)
	assert.Equal(t, "Step", annos[1].Type.Name)
	require.NotNil(t, annos[1].Value)
	assert.Len(t, annos[1].Value.Elts, 2)

	require.NotNil(t, annos[2].Value)
	assert.Len(t, annos[2].Value.Elts, 2)
	assert.True(t, strings.HasPrefix(annos[2].Text, "@Step{"))

	assert.Equal(t, "Other.Thing", annos[3].Type.String())
}

func TestParseAnnotationsPositions(t *testing.T) {
	var input = "prose\n  @annostep.Step{Name: \"a\",\n    Description: \"b\"}\n"
	annos, err := ParseAnnotations("steps.go", strings.NewReader(input))
	require.Nil(t, err)
	require.Len(t, annos, 1)

	a := annos[0]
	assert.Equal(t, token.Position{Filename: "steps.go", Line: 2, Column: 3, Offset: 8}, a.Pos)

	kvs := a.Value.Elts
	require.Len(t, kvs, 2)
	first := kvs[0].(*ast.KeyValueExpr)
	p := a.NodePos(first.Key)
	assert.Equal(t, 2, p.Line)
	assert.Equal(t, 18, p.Column)
	assert.Equal(t, input[p.Offset:p.Offset+4], "Name")

	second := kvs[1].(*ast.KeyValueExpr)
	p = a.NodePos(second.Value)
	assert.Equal(t, 3, p.Line)
	assert.Equal(t, 18, p.Column)
	assert.Equal(t, input[p.Offset:p.Offset+3], `"b"`)
}

func TestParseAnnotationsBlankLineEndsAnnotation(t *testing.T) {
	var input = "@Step{Name: \"a\"}\n\nThis is trailing prose.\n"
	annos, err := ParseAnnotations("foo", strings.NewReader(input))
	require.Nil(t, err)
	require.Len(t, annos, 1)
	assert.Equal(t, `@Step{Name: "a"}`, annos[0].Text)
}

func TestParseAnnotationsMalformed(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		line    int
		column  int
		message string
	}{
		{
			name:  "unterminated",
			input: "@Step{Name: \"a\"",
			line:  1,
		},
		{
			name:    "not a literal",
			input:   "x\n@Step(1)",
			line:    2,
			column:  6,
			message: "expecting '{'",
		},
		{
			name:    "bad field",
			input:   "@Step{Name: }",
			line:    1,
			column:  13,
			message: "expected operand",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			annos, err := ParseAnnotations("foo", strings.NewReader(tc.input))
			require.NotNil(t, err)
			assert.Equal(t, tc.line, err.Pos().Line)
			if tc.column != 0 {
				assert.Equal(t, tc.column, err.Pos().Column)
			}
			assert.Contains(t, err.Error(), tc.message)

			require.Len(t, annos, 1)
			assert.Equal(t, "Step", annos[0].Type.Name)
			assert.Nil(t, annos[0].Value)
			assert.Same(t, err, annos[0].Err)
		})
	}
}

func TestParseAnnotationsMissingType(t *testing.T) {
	annos, err := ParseAnnotations("foo", strings.NewReader("@ {}\n@Step\n"))
	require.NotNil(t, err)
	assert.Equal(t, 1, err.Pos().Line)
	require.Len(t, annos, 1)
	assert.Equal(t, "Step", annos[0].Type.Name)
}
