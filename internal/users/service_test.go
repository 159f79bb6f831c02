package users

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockState struct {
	users     map[int64]User
	userRoles map[int64][]int64
	userPerms map[int64][]int64
	nextID    int64
}

func (s mockState) clone() mockState {
	out := mockState{
		users:     make(map[int64]User, len(s.users)),
		userRoles: make(map[int64][]int64, len(s.userRoles)),
		userPerms: make(map[int64][]int64, len(s.userPerms)),
		nextID:    s.nextID,
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.userRoles {
		out.userRoles[k] = append([]int64(nil), v...)
	}
	for k, v := range s.userPerms {
		out.userPerms[k] = append([]int64(nil), v...)
	}
	return out
}

type mockRepository struct {
	state       mockState
	roles       map[int64]rbac.Role
	permissions map[int64]rbac.Permission
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		state: mockState{
			users:     make(map[int64]User),
			userRoles: make(map[int64][]int64),
			userPerms: make(map[int64][]int64),
			nextID:    1,
		},
		roles: map[int64]rbac.Role{
			1: {ID: 1, Name: "Editor", Guard: rbac.DefaultGuard, Permissions: []rbac.Permission{{ID: 10, Name: "menu.posts", Guard: rbac.DefaultGuard}}},
			2: {ID: 2, Name: "Admin", Guard: rbac.DefaultGuard, Permissions: []rbac.Permission{{ID: 11, Name: "users.edit", Guard: rbac.DefaultGuard}}},
			3: {ID: 3, Name: "Robot", Guard: "api"},
		},
		permissions: map[int64]rbac.Permission{
			10: {ID: 10, Name: "menu.posts", Guard: rbac.DefaultGuard},
			11: {ID: 11, Name: "users.edit", Guard: rbac.DefaultGuard},
			12: {ID: 12, Name: "tokens.issue", Guard: "api"},
		},
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	working := m.state.clone()
	if err := fn(ctx, &mockTxRepo{repo: m, state: &working}); err != nil {
		return err
	}
	m.state = working
	return nil
}

func (m *mockRepository) load(state *mockState, id int64) User {
	u := state.users[id]
	u.Roles = []rbac.Role{}
	for _, rid := range state.userRoles[id] {
		u.Roles = append(u.Roles, m.roles[rid])
	}
	u.Permissions = []rbac.Permission{}
	for _, pid := range state.userPerms[id] {
		u.Permissions = append(u.Permissions, m.permissions[pid])
	}
	u.deriveRoleID()
	return u
}

func inScope(u User, scope Scope) bool {
	switch scope {
	case ScopeTrashed:
		return u.DeletedAt != nil
	case ScopeAll:
		return true
	default:
		return u.DeletedAt == nil
	}
}

func (m *mockRepository) List(ctx context.Context, scope Scope) ([]User, error) {
	out := []User{}
	for id, u := range m.state.users {
		if inScope(u, scope) {
			out = append(out, m.load(&m.state, id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) Get(ctx context.Context, id int64, scope Scope) (User, error) {
	u, ok := m.state.users[id]
	if !ok || !inScope(u, scope) {
		return User{}, ErrNotFound
	}
	return m.load(&m.state, id), nil
}

func (m *mockRepository) FindActiveByEmail(ctx context.Context, email string) (User, error) {
	for id, u := range m.state.users {
		if u.Email == email && u.DeletedAt == nil {
			return m.load(&m.state, id), nil
		}
	}
	return User{}, ErrNotFound
}

type mockTxRepo struct {
	repo  *mockRepository
	state *mockState
}

func (t *mockTxRepo) Lock(ctx context.Context, id int64, scope Scope) (User, error) {
	u, ok := t.state.users[id]
	if !ok || !inScope(u, scope) {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (t *mockTxRepo) Load(ctx context.Context, id int64) (User, error) {
	if _, ok := t.state.users[id]; !ok {
		return User{}, ErrNotFound
	}
	return t.repo.load(t.state, id), nil
}

func (t *mockTxRepo) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	for _, u := range t.state.users {
		if u.Email == email && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (t *mockTxRepo) Role(ctx context.Context, id int64) (rbac.Role, error) {
	r, ok := t.repo.roles[id]
	if !ok {
		return rbac.Role{}, rbac.ErrUnknownRole
	}
	return r, nil
}

func (t *mockTxRepo) PermissionsByIDs(ctx context.Context, guard string, ids []int64) ([]rbac.Permission, error) {
	out := []rbac.Permission{}
	for _, id := range ids {
		if p, ok := t.repo.permissions[id]; ok && p.Guard == guard {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *mockTxRepo) Insert(ctx context.Context, name, email, passwordHash string) (User, error) {
	u := User{ID: t.state.nextID, Name: name, Email: email, PasswordHash: passwordHash}
	t.state.users[u.ID] = u
	t.state.nextID++
	return u, nil
}

func (t *mockTxRepo) Update(ctx context.Context, id int64, name, email string, passwordHash *string) error {
	u := t.state.users[id]
	u.Name, u.Email = name, email
	if passwordHash != nil {
		u.PasswordHash = *passwordHash
	}
	t.state.users[id] = u
	return nil
}

func (t *mockTxRepo) ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	t.state.userRoles[userID] = append([]int64(nil), roleIDs...)
	return nil
}

func (t *mockTxRepo) ReplacePermissions(ctx context.Context, userID int64, permissionIDs []int64) error {
	t.state.userPerms[userID] = append([]int64(nil), permissionIDs...)
	return nil
}

func (t *mockTxRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	u := t.state.users[id]
	u.DeletedAt = at
	t.state.users[id] = u
	return nil
}

func (t *mockTxRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := t.state.users[id]; !ok {
		return ErrNotFound
	}
	delete(t.state.users, id)
	delete(t.state.userRoles, id)
	delete(t.state.userPerms, id)
	return nil
}

func newTestService(repo *mockRepository, events shared.Publisher) *Service {
	fixed := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	return NewService(repo, events, WithHashCost(bcrypt.MinCost), WithClock(func() time.Time { return fixed }))
}

// ============================================================================
// TESTS
// ============================================================================

func TestCreateHashesPasswordAndAssignsRole(t *testing.T) {
	repo := newMockRepository()
	events := &shared.EventRecorder{}
	svc := newTestService(repo, events)

	u, err := svc.Create(context.Background(), CreateInput{Name: "Alice", Email: " Alice@Example.COM ", Password: "s3cret-pass", RoleID: 1})
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", u.Email)
	assert.NotEqual(t, "s3cret-pass", u.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("s3cret-pass")))
	require.NotNil(t, u.RoleID)
	assert.Equal(t, int64(1), *u.RoleID)
	assert.Equal(t, []string{"user.created"}, events.Actions())
}

func TestCreateFailures(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "Alice", Email: "alice@example.com", Password: "password1", RoleID: 1})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Name: "Alice 2", Email: "ALICE@example.com", Password: "password1", RoleID: 1})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	_, err = svc.Create(ctx, CreateInput{Name: "Bob", Email: "bob@example.com", Password: "password1", RoleID: 99})
	assert.ErrorIs(t, err, rbac.ErrUnknownRole)

	_, err = svc.Create(ctx, CreateInput{Name: "Bob", Email: "bob@example.com", Password: "password1", RoleID: 3})
	assert.ErrorIs(t, err, rbac.ErrUnknownRole, "roles of another guard cannot be held")

	_, err = svc.Create(ctx, CreateInput{Name: "Bob", Email: "bob@example.com", RoleID: 1})
	assert.ErrorIs(t, err, shared.ErrValidation)

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdateKeepsPasswordWhenEmpty(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateInput{Name: "Alice", Email: "alice@example.com", Password: "password1", RoleID: 1})
	require.NoError(t, err)
	original := u.PasswordHash

	updated, err := svc.Update(ctx, u.ID, UpdateInput{Name: "Alice Liddell", Email: "alice@example.com"})
	require.NoError(t, err, "own email must not count as duplicate")
	assert.Equal(t, original, updated.PasswordHash)
	assert.Equal(t, "Alice Liddell", updated.Name)

	updated, err = svc.Update(ctx, u.ID, UpdateInput{Name: "Alice", Email: "alice@example.com", Password: "new-password"})
	require.NoError(t, err)
	assert.NotEqual(t, original, updated.PasswordHash)

	_, err = svc.Create(ctx, CreateInput{Name: "Bob", Email: "bob@example.com", Password: "password1", RoleID: 1})
	require.NoError(t, err)
	_, err = svc.Update(ctx, u.ID, UpdateInput{Name: "Alice", Email: "Bob@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	roleID := int64(2)
	updated, err = svc.Update(ctx, u.ID, UpdateInput{Name: "Alice", Email: "alice@example.com", RoleID: &roleID})
	require.NoError(t, err)
	assert.Equal(t, roleID, *updated.RoleID)
}

func TestAssignRoleReplacesRoleSet(t *testing.T) {
	repo := newMockRepository()
	events := &shared.EventRecorder{}
	svc := newTestService(repo, events)
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateInput{Name: "Alice", Email: "alice@example.com", Password: "password1", RoleID: 1})
	require.NoError(t, err)
	repo.state.userRoles[u.ID] = []int64{1, 2}

	assigned, err := svc.AssignRole(ctx, u.ID, 2)
	require.NoError(t, err)
	require.Len(t, assigned.Roles, 1)
	assert.Equal(t, "Admin", assigned.Roles[0].Name)
	assert.Equal(t, int64(2), *assigned.RoleID)

	_, err = svc.AssignRole(ctx, u.ID, 42)
	assert.ErrorIs(t, err, rbac.ErrUnknownRole)
	assert.Equal(t, []int64{2}, repo.state.userRoles[u.ID])

	assert.Equal(t, "user.role_assigned", events.Actions()[1])
}

func TestGrantPermissions(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo, nil)
	authz := rbac.NewAuthorizer()
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateInput{Name: "Alice", Email: "alice@example.com", Password: "password1", RoleID: 1})
	require.NoError(t, err)

	granted, err := svc.GrantPermissions(ctx, u.ID, []int64{11, 11})
	require.NoError(t, err)
	assert.True(t, authz.Can(&granted, "users.edit"))
	assert.True(t, authz.Can(&granted, "menu.posts"))

	_, err = svc.GrantPermissions(ctx, u.ID, []int64{11, 12})
	assert.ErrorIs(t, err, rbac.ErrUnknownPermission)
	assert.Equal(t, []int64{11}, repo.state.userPerms[u.ID])
}

func TestSoftDeleteRestoreLifecycle(t *testing.T) {
	repo := newMockRepository()
	events := &shared.EventRecorder{}
	svc := newTestService(repo, events)
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateInput{Name: "Alice", Email: "alice@example.com", Password: "password1", RoleID: 1})
	require.NoError(t, err)

	require.NoError(t, svc.SoftDelete(ctx, u.ID))
	active, err := svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	trashed, err := svc.ListTrashed(ctx)
	require.NoError(t, err)
	require.Len(t, trashed, 1)
	assert.True(t, trashed[0].Trashed())
	assert.NotEmpty(t, trashed[0].Roles, "roles are eager-loaded for trashed users")

	_, err = svc.FindActive(ctx, u.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.FindActiveByEmail(ctx, "alice@example.com")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.ErrorIs(t, svc.SoftDelete(ctx, u.ID), shared.ErrNotFound)

	_, err = svc.Create(ctx, CreateInput{Name: "Alice", Email: "alice@example.com", Password: "password1", RoleID: 1})
	assert.ErrorIs(t, err, ErrDuplicateEmail, "trashed rows keep their email")

	require.NoError(t, svc.Restore(ctx, u.ID))
	active, err = svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, u.ID, active[0].ID)
	assert.ErrorIs(t, svc.Restore(ctx, u.ID), shared.ErrNotFound)

	require.NoError(t, svc.ForceDelete(ctx, u.ID))
	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, repo.state.userRoles[u.ID])

	assert.Equal(t, []string{"user.created", "user.deleted", "user.restored", "user.force_deleted"}, events.Actions())
}

func TestNilUserIsGuest(t *testing.T) {
	var u *User
	assert.Equal(t, int64(0), u.SubjectID())
	assert.Nil(t, u.AssignedRoles())
	assert.False(t, rbac.NewAuthorizer().Can(u, "users.view"))
}

func TestSubjectReturnsNilInterfaceOnError(t *testing.T) {
	svc := newTestService(newMockRepository(), nil)
	subject, err := svc.Subject(context.Background(), 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.True(t, subject == nil)
}
