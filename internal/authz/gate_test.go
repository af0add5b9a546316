package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanActOn(t *testing.T) {
	assert.True(t, CanActOn(10, 20), "stronger actor may act on weaker role")
	assert.True(t, CanActOn(10, 10), "equal authority is sufficient")
	assert.False(t, CanActOn(20, 10), "weaker actor may not act on stronger role")
}

func TestMayGrantOverrides(t *testing.T) {
	assert.True(t, MayGrantOverrides(1))
	assert.True(t, MayGrantOverrides(MaxOverrideGranterPriority))
	assert.False(t, MayGrantOverrides(MaxOverrideGranterPriority+1))
}
