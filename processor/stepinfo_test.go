package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateStepInfo(t *testing.T) {
	fx := newFixture(t)
	fx.add("example.com/release", `package release

import (
	_ "github.com/jhump/annostep"
	"github.com/jhump/annostep/pipeline"
)

// @annostep.Step{
//     Name: "deploy-app",
//     Description: "releases a build",
//     Category: annostep.CategoryDeploy,
//     SecurityLevel: annostep.Trusted,
// }
func Deploy(version string, dryRun *bool, labels ...string) <-chan pipeline.StepResult {
	return nil
}

// @annostep.Step{}
func Clean() {}
`)
	_, out, err := fx.run(DefaultOptions())
	require.NoError(t, err)
	src := out["example.com/release/release.stepinfo.go"]
	require.NotEmpty(t, src)

	for _, pattern := range []string{
		`(?m)^package release$`,
		`"github.com/jhump/annostep"`,
		`"github.com/jhump/annostep/pipeline"`,
		`(?m)^func init\(\) \{$`,
		`pipeline\.RegisterStep\(pipeline\.StepInfo\{`,
		`Name:\s+"deploy-app",`,
		`Description:\s+"releases a build",`,
		`Category:\s+annostep\.Category\(4\),`,
		`SecurityLevel:\s+annostep\.SecurityLevel\(1\),`,
		`Package:\s+"example.com/release",`,
		`Function:\s+"Deploy",`,
		`Params:\s+\[\]pipeline\.ParamInfo\{`,
		`\{Name: "version", Type: "string", Optional: false, Nullable: false\},`,
		`\{Name: "dryRun", Type: "\*bool", Optional: false, Nullable: true\},`,
		`\{Name: "labels", Type: "\[\]string", Optional: true, Nullable: false\},`,
		`Async:\s+true,`,
		`Func:\s+Deploy,`,
		`Name:\s+"Clean",`,
		`Category:\s+annostep\.Category\(0\),`,
		`Func:\s+Clean,`,
	} {
		assert.Regexp(t, pattern, src)
	}
	// the context parameter is not listed
	assert.NotContains(t, src, "pctx")
}

func TestGenerateStepInfo_NoSteps(t *testing.T) {
	fx := newFixture(t)
	fx.add("example.com/plain", `package plain

func Helper() {}
`)
	s, out, err := fx.run(DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, s.Generated())
}
