package perf

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/odyssey-admin/internal/menu"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
)

type benchSubject struct {
	roles  []rbac.Role
	direct []rbac.Permission
}

func (s benchSubject) SubjectID() int64                     { return 1 }
func (s benchSubject) GuardName() string                    { return rbac.DefaultGuard }
func (s benchSubject) AssignedRoles() []rbac.Role           { return s.roles }
func (s benchSubject) DirectPermissions() []rbac.Permission { return s.direct }

func wideSubject(roles, permsPerRole int) benchSubject {
	var s benchSubject
	for r := 0; r < roles; r++ {
		role := rbac.Role{ID: int64(r + 1), Name: fmt.Sprintf("role-%d", r), Guard: rbac.DefaultGuard}
		for p := 0; p < permsPerRole; p++ {
			role.Permissions = append(role.Permissions, rbac.Permission{Name: fmt.Sprintf("module%d.perm%d", r, p), Guard: rbac.DefaultGuard})
		}
		s.roles = append(s.roles, role)
	}
	s.direct = []rbac.Permission{{Name: "menu.view", Guard: rbac.DefaultGuard}}
	return s
}

// wideMenu builds groups of leaves, each leaf gated by a permission.
func wideMenu(groups, leaves int) []menu.Node {
	nodes := make([]menu.Node, 0, groups*(leaves+1))
	id := int64(0)
	for g := 0; g < groups; g++ {
		id++
		groupID := id
		nodes = append(nodes, menu.Node{ID: groupID, Title: fmt.Sprintf("Group %d", g), Order: g})
		for l := 0; l < leaves; l++ {
			id++
			route := fmt.Sprintf("/g%d/l%d", g, l)
			perm := fmt.Sprintf("module%d.perm%d", g, l)
			nodes = append(nodes, menu.Node{ID: id, Title: route, Route: &route, Permission: &perm, ParentID: &groupID, Order: l})
		}
	}
	return nodes
}

func BenchmarkAuthorizerGrants(b *testing.B) {
	authz := rbac.NewAuthorizer()
	subject := wideSubject(10, 40)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = authz.Grants(subject)
	}
}

func BenchmarkNavigationPrune(b *testing.B) {
	grants := rbac.NewAuthorizer().Grants(wideSubject(10, 40))
	flat := wideMenu(20, 25)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = menu.Prune(menu.NewForest(flat).Roots(), grants)
	}
}

// perfGuardEnv opts into wall-clock latency guards, which are skipped by
// default and under -short.
const perfGuardEnv = "ODYSSEY_PERF_GUARD"

func perfGuardEnabled() bool {
	if testing.Short() {
		return false
	}
	on, err := strconv.ParseBool(os.Getenv(perfGuardEnv))
	return err == nil && on
}

func TestPerfGuardIsOptIn(t *testing.T) {
	t.Setenv(perfGuardEnv, "")
	assert.False(t, perfGuardEnabled())
	t.Setenv(perfGuardEnv, "nope")
	assert.False(t, perfGuardEnabled())
	t.Setenv(perfGuardEnv, "1")
	assert.Equal(t, !testing.Short(), perfGuardEnabled())
}

func TestNavigationLatencyTarget(t *testing.T) {
	if !perfGuardEnabled() {
		t.Skipf("set %s=1 to run latency guards", perfGuardEnv)
	}
	grants := rbac.NewAuthorizer().Grants(wideSubject(10, 40))
	flat := wideMenu(20, 25)

	samples := make([]time.Duration, 0, 50)
	for i := 0; i < 50; i++ {
		start := time.Now()
		_ = menu.Prune(menu.NewForest(flat).Roots(), grants)
		samples = append(samples, time.Since(start))
	}
	if p95 := percentile95(samples); p95 > 50*time.Millisecond {
		t.Fatalf("navigation latency regression: p95=%s", p95)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted))*0.95+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
