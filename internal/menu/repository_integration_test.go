//go:build integration

package menu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/db/dbtest"
)

func TestRepositoryTreeLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepository(dbtest.NewPool(t)), nil)

	system, err := svc.Create(ctx, Input{Title: "System"})
	require.NoError(t, err)
	users, err := svc.Create(ctx, Input{Title: "Users", Route: ptr("/users"), ParentID: &system.ID})
	require.NoError(t, err)
	roles, err := svc.Create(ctx, Input{Title: "Roles", Route: ptr("/roles"), ParentID: &system.ID})
	require.NoError(t, err)
	assert.Equal(t, users.Order+1, roles.Order)

	_, err = svc.Create(ctx, Input{Title: "Orphan", ParentID: ptr(int64(9999))})
	assert.ErrorIs(t, err, ErrParentNotFound)

	_, err = svc.Update(ctx, system.ID, Input{Title: "System", ParentID: &users.ID})
	assert.ErrorIs(t, err, ErrCyclicParent)

	require.NoError(t, svc.Reorder(ctx, []ReorderItem{
		{ID: &system.ID, Order: ptr(0), Children: []ReorderItem{
			{ID: &roles.ID, Order: ptr(0)},
			{ID: &users.ID, Order: ptr(1)},
		}},
	}))
	roots, err := svc.RootsWithChildren(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Len(t, roots[0].Children, 2)
	assert.Equal(t, "Roles", roots[0].Children[0].Title)
	assert.Equal(t, "Users", roots[0].Children[1].Title)

	require.NoError(t, svc.Delete(ctx, system.ID))
	flat, err := svc.AllFlat(ctx)
	require.NoError(t, err)
	assert.Empty(t, flat)

	_, err = svc.Get(ctx, users.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
