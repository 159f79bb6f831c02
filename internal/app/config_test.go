package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/odyssey-admin/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("RBAC_SUPER_ROLE", "  super-admin ")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "odyssey_session", cfg.SessionCookie)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10*time.Minute, cfg.RBACCacheTTL)
	assert.Equal(t, "super-admin", cfg.RBACSuperRole)
	assert.True(t, cfg.AuditAsync)
	assert.Equal(t, 5, cfg.WorkerConcurrency)
	assert.False(t, cfg.DBAutoMigrate)
	assert.False(t, cfg.IsProduction())
	assert.True(t, InTestMode())
}

func TestLoadConfigRejectsBadSessionTTL(t *testing.T) {
	t.Setenv("SESSION_TTL", "0s")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestRefreshTestMode(t *testing.T) {
	t.Setenv(TestModeEnv, "false")
	RefreshTestMode()
	assert.False(t, InTestMode())

	t.Setenv(TestModeEnv, "true")
	RefreshTestMode()
	assert.True(t, InTestMode())
}
