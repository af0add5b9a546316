package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-hq/lattice/internal/directory"
	"github.com/lattice-hq/lattice/internal/shared"
)

func ptr[T any](v T) *T { return &v }

func fakeModule(id int64, code string, parentID *int64) directory.Module {
	return directory.Module{ID: id, Code: code, ParentID: parentID, IsActive: true}
}

type fakeTree struct {
	modules map[int64]directory.Module
}

func newFakeTree(modules ...directory.Module) *fakeTree {
	t := &fakeTree{modules: make(map[int64]directory.Module, len(modules))}
	for _, m := range modules {
		t.modules[m.ID] = m
	}
	return t
}

func (t *fakeTree) GetModule(_ context.Context, id int64) (directory.Module, error) {
	m, ok := t.modules[id]
	if !ok {
		return directory.Module{}, shared.NotFoundf("module %d", id)
	}
	return m, nil
}

func (t *fakeTree) Children(_ context.Context, parentID int64) ([]directory.Module, error) {
	var out []directory.Module
	for _, m := range t.modules {
		if m.ParentID != nil && *m.ParentID == parentID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeFinder struct {
	ids map[int64]map[Action]int64
}

func (f *fakeFinder) FindPermissionID(_ context.Context, moduleID int64, action Action) (int64, bool, error) {
	id, ok := f.ids[moduleID][action]
	return id, ok, nil
}

// accounting(1) > invoices(2) > lines(4), accounting(1) > reports(3)
func cascadeFixture() (*fakeTree, *fakeFinder) {
	tree := newFakeTree(
		fakeModule(1, "accounting", nil),
		fakeModule(2, "invoices", ptr(int64(1))),
		fakeModule(3, "reports", ptr(int64(1))),
		fakeModule(4, "lines", ptr(int64(2))),
	)
	finder := &fakeFinder{ids: map[int64]map[Action]int64{
		1: {ActionCreate: 10, ActionDelete: 11},
		2: {ActionCreate: 20, ActionDelete: 21},
		3: {ActionCreate: 30},
		4: {ActionCreate: 40},
	}}
	return tree, finder
}

func TestExpandDescendants(t *testing.T) {
	tree, finder := cascadeFixture()

	ids, err := ExpandDescendants(context.Background(), tree, finder, 1, ActionCreate)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{20, 30, 40}, ids)
	assert.NotContains(t, ids, int64(10), "starting module is excluded")

	// delete exists only on accounting and invoices
	ids, err = ExpandDescendants(context.Background(), tree, finder, 1, ActionDelete)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{21}, ids)

	ids, err = ExpandDescendants(context.Background(), tree, finder, 4, ActionCreate)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestExpandAncestors(t *testing.T) {
	tree, finder := cascadeFixture()

	ids, err := ExpandAncestors(context.Background(), tree, finder, 4, ActionCreate)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 10}, ids, "nearest ancestor first")

	ids, err = ExpandAncestors(context.Background(), tree, finder, 1, ActionCreate)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestExpandTerminatesOnCycles(t *testing.T) {
	tree := newFakeTree(
		fakeModule(1, "a", ptr(int64(2))),
		fakeModule(2, "b", ptr(int64(1))),
	)
	finder := &fakeFinder{ids: map[int64]map[Action]int64{
		1: {ActionRead: 10},
		2: {ActionRead: 20},
	}}

	ids, err := ExpandDescendants(context.Background(), tree, finder, 1, ActionRead)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{20}, ids)

	ids, err = ExpandAncestors(context.Background(), tree, finder, 1, ActionRead)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{20}, ids)
}

func TestUnionIDs(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 3}, UnionIDs([]int64{1, 2}, []int64{2, 3, 1}))
	assert.Nil(t, UnionIDs(nil, nil))
}
