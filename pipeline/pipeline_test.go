package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhump/annostep"
	"github.com/jhump/annostep/pipeline"
)

func TestRunRecordsResults(t *testing.T) {
	res, err := pipeline.Run(context.Background(), "build", func(b *pipeline.StepsBlock) {
		assert.Equal(t, "build", b.Context().Name)
		b.Record(pipeline.Succeeded("compile", "done"))
		b.Record(pipeline.Succeeded("test", "42 passed"))
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "compile: ok", res[0].String())
}

func TestRunReportsFailure(t *testing.T) {
	res, err := pipeline.Run(context.Background(), "deploy", func(b *pipeline.StepsBlock) {
		b.Record(pipeline.Failed("publish", errors.New("denied")))
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish: failed: denied")
	assert.Len(t, res, 1)
}

func TestContextValues(t *testing.T) {
	ctx := pipeline.NewContext(context.TODO(), "p")
	ctx.Set("version", "1.0")
	v, ok := ctx.Get("version")
	require.True(t, ok)
	assert.Equal(t, "1.0", v)
	_, ok = ctx.Get("missing")
	assert.False(t, ok)
	assert.NotNil(t, ctx.Logger)
}

func TestDataOf(t *testing.T) {
	d := pipeline.DataOf([]string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, d.Value)
	assert.NotNil(t, d.Metadata)
}

func TestRegisterStep(t *testing.T) {
	pipeline.RegisterStep(pipeline.StepInfo{
		Name: "notify", Package: "example.com/b", Function: "Notify",
		Category: annostep.CategoryNotification,
	})
	pipeline.RegisterStep(pipeline.StepInfo{
		Name: "checkout", Package: "example.com/a", Function: "Checkout",
		Category: annostep.CategorySCM,
	})
	pipeline.RegisterStep(pipeline.StepInfo{
		Name: "notify-again", Package: "example.com/b", Function: "Notify",
		Category: annostep.CategoryNotification,
	})

	var names []string
	for _, s := range pipeline.RegisteredSteps() {
		if s.Package == "example.com/a" || s.Package == "example.com/b" {
			names = append(names, s.Name)
		}
	}
	assert.Equal(t, []string{"checkout", "notify-again"}, names)

	scm := pipeline.StepsInCategory(annostep.CategorySCM)
	require.NotEmpty(t, scm)
	assert.Equal(t, "Checkout", scm[0].Function)
}
