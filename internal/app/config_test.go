package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-inventory/internal/inventory"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 5*time.Second, cfg.PGStatementTimeout)
	require.Equal(t, 3*time.Second, cfg.PGLockTimeout)
	require.Equal(t, 10*time.Minute, cfg.ReferenceCacheTTL)
	require.Equal(t, "45 2 * * *", cfg.JobsHistoryVerifyCron)
	require.Equal(t, "5 0 * * *", cfg.JobsLotExpiryCron)
	require.Equal(t, 168*time.Hour, cfg.IdempotencyRetention)

	svc := cfg.ServiceConfig()
	require.Equal(t, inventory.MissingTypeSkip, svc.MissingTypePolicy)
	require.Equal(t, 15*time.Second, svc.TxTimeout)

	policy := cfg.RetryPolicy()
	require.Equal(t, 3, policy.Attempts)
	require.Equal(t, time.Second, policy.InitialInterval)
	require.Equal(t, 8*time.Second, policy.MaxInterval)

	memo := cfg.MemoOptions(nil)
	require.Equal(t, 10*time.Minute, memo.TTL)
	require.Equal(t, 5*time.Second, memo.VersionCheck)
	require.Equal(t, policy, memo.Retry)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("INVENTORY_MISSING_TYPE_POLICY", "FAIL")
	t.Setenv("LOOKUP_RETRY_ATTEMPTS", "5")
	t.Setenv("PG_LOCK_TIMEOUT", "750ms")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_POOL_SIZE", "4")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, inventory.MissingTypeFail, cfg.ServiceConfig().MissingTypePolicy)
	require.Equal(t, 5, cfg.RetryPolicy().Attempts)
	require.Equal(t, 750*time.Millisecond, cfg.DBOptions().LockTimeout)

	redisOpts := cfg.RedisOptions()
	require.Equal(t, "cache:6380", redisOpts.Addr)
	require.Equal(t, 4, redisOpts.PoolSize)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Run("policy", func(t *testing.T) {
		t.Setenv("INVENTORY_MISSING_TYPE_POLICY", "ignore")
		_, err := LoadConfig()
		require.Error(t, err)
	})
	t.Run("retry attempts", func(t *testing.T) {
		t.Setenv("LOOKUP_RETRY_ATTEMPTS", "0")
		_, err := LoadConfig()
		require.Error(t, err)
	})
	t.Run("idempotency retention", func(t *testing.T) {
		t.Setenv("IDEMPOTENCY_RETENTION", "0s")
		_, err := LoadConfig()
		require.ErrorContains(t, err, "idempotency retention")
	})
}

func TestIsProduction(t *testing.T) {
	var nilCfg *Config
	require.False(t, nilCfg.IsProduction())
	require.True(t, (&Config{AppEnv: "production"}).IsProduction())
	require.False(t, (&Config{AppEnv: "staging"}).IsProduction())
}
