//go:build integration

package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-admin/internal/permissions"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/db/dbtest"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/roles"
)

func TestRepositoryAccessLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := dbtest.NewPool(t)
	permSvc := permissions.NewService(permissions.NewRepository(pool), nil)
	roleSvc := roles.NewService(roles.NewRepository(pool), nil)
	svc := NewService(NewRepository(pool), nil, WithHashCost(bcrypt.MinCost))
	authz := rbac.NewAuthorizer()

	view, err := permSvc.Create(ctx, permissions.CreateInput{Name: "users.view"})
	require.NoError(t, err)
	edit, err := permSvc.Create(ctx, permissions.CreateInput{Name: "users.edit"})
	require.NoError(t, err)
	apiPerm, err := permSvc.Create(ctx, permissions.CreateInput{Name: "users.view", Guard: "api"})
	require.NoError(t, err)
	assert.NotEqual(t, view.ID, apiPerm.ID)

	viewer, err := roleSvc.Create(ctx, roles.Input{Name: "viewer", PermissionIDs: []int64{view.ID}})
	require.NoError(t, err)

	u, err := svc.Create(ctx, CreateInput{Name: "Ana", Email: "Ana@Example.com", Password: "secret-pass", RoleID: viewer.ID})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)
	require.NotNil(t, u.RoleID)
	assert.Equal(t, viewer.ID, *u.RoleID)

	subject, err := svc.Subject(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, authz.Can(subject, "users.view"))
	assert.False(t, authz.Can(subject, "users.edit"))

	_, err = svc.GrantPermissions(ctx, u.ID, []int64{edit.ID})
	require.NoError(t, err)
	subject, err = svc.Subject(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, authz.Can(subject, "users.edit"))

	require.NoError(t, svc.SoftDelete(ctx, u.ID))
	_, err = svc.Subject(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Create(ctx, CreateInput{Name: "Other", Email: "ana@example.com", Password: "secret-pass", RoleID: viewer.ID})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	trashed, err := svc.ListTrashed(ctx)
	require.NoError(t, err)
	require.Len(t, trashed, 1)

	require.NoError(t, svc.Restore(ctx, u.ID))
	require.NoError(t, roleSvc.Delete(ctx, viewer.ID))
	restored, err := svc.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, restored.Roles)
	assert.Nil(t, restored.RoleID)

	require.NoError(t, svc.ForceDelete(ctx, u.ID))
	_, err = svc.Get(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
