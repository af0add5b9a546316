package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-hq/lattice/internal/shared"
)

func TestBuildKey(t *testing.T) {
	assert.Equal(t, "accounting.invoices.delete", BuildKey("accounting.invoices", ActionDelete))
	assert.Equal(t, "hr.read", BuildKey("hr", ActionRead))
}

func TestParseKey(t *testing.T) {
	path, action, err := ParseKey("accounting.invoices.delete")
	require.NoError(t, err)
	assert.Equal(t, "accounting.invoices", path)
	assert.Equal(t, ActionDelete, action)

	path, action, err = ParseKey("  hr.manage ")
	require.NoError(t, err)
	assert.Equal(t, "hr", path)
	assert.Equal(t, ActionManage, action)

	for _, bad := range []string{"", "read", ".read", "hr.", "hr.write"} {
		_, _, err := ParseKey(bad)
		assert.ErrorIs(t, err, shared.ErrValidation, "key %q", bad)
	}
}

func TestCandidateKeys(t *testing.T) {
	keys, err := CandidateKeys("accounting.invoices.create")
	require.NoError(t, err)
	assert.Equal(t, []string{"accounting.invoices.manage", "accounting.invoices.admin"}, keys)

	keys, err = CandidateKeys("hr.admin")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = CandidateKeys("hr.write")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestModulePath(t *testing.T) {
	tree := newFakeTree(
		fakeModule(1, "accounting", nil),
		fakeModule(2, "invoices", ptr(int64(1))),
		fakeModule(3, "lines", ptr(int64(2))),
	)

	path, err := ModulePath(context.Background(), tree, 3)
	require.NoError(t, err)
	assert.Equal(t, "accounting.invoices.lines", path)

	path, err = ModulePath(context.Background(), tree, 1)
	require.NoError(t, err)
	assert.Equal(t, "accounting", path)

	_, err = ModulePath(context.Background(), tree, 99)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestModulePathCycle(t *testing.T) {
	tree := newFakeTree(
		fakeModule(1, "a", ptr(int64(2))),
		fakeModule(2, "b", ptr(int64(1))),
	)
	_, err := ModulePath(context.Background(), tree, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)
}
