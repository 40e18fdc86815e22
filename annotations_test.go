package annostep

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategory_String(t *testing.T) {
	names := map[string]bool{}
	for c := Category(0); int(c) < NumCategories; c++ {
		name := c.String()
		assert.NotContains(t, name, "?", "category %d has no name", int(c))
		assert.False(t, names[name], "duplicate name %s", name)
		names[name] = true
	}
	assert.Equal(t, "DEPLOY", CategoryDeploy.String())
	assert.Equal(t, "?8?", Category(NumCategories).String())
}

func TestSecurityLevel_String(t *testing.T) {
	assert.Equal(t, "RESTRICTED", SecurityLevel(0).String())
	assert.Equal(t, "TRUSTED", Trusted.String())
	assert.Equal(t, "ISOLATED", Isolated.String())
	assert.Equal(t, "?-1?", SecurityLevel(-1).String())
	assert.Equal(t, 3, NumSecurityLevels)
}
