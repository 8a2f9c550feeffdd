package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "resale.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[storage]
driver = "memory"

[market]
lock_timeout = "750ms"

[auth]
token_secret = "0123456789abcdef"

[archive]
enabled = true
cron = "*/30 * * * *"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 750*time.Millisecond, cfg.Market.LockTimeout.Duration)
	assert.Equal(t, "*/30 * * * *", cfg.Archive.Cron)
	// untouched sections keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Market.SweepInterval.Duration)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 90, cfg.Archive.RetentionDays)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesWin(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9000
`)
	t.Setenv("RESALE_SERVER_PORT", "9100")
	t.Setenv("RESALE_SERVER_CORS_ORIGINS", " https://a.example , https://b.example,")
	t.Setenv("RESALE_MARKET_SWEEP_INTERVAL", "5s")
	t.Setenv("RESALE_REDIS_ENABLED", "false")
	t.Setenv("RESALE_AUTH_GATEWAY_KEY", "gw")
	t.Setenv("RESALE_SERVER_RATE_LIMIT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 5*time.Second, cfg.Market.SweepInterval.Duration)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "gw", cfg.Auth.GatewayKey)
	assert.Equal(t, 120, cfg.Server.RateLimit, "unparsable override is ignored")
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := writeConfig(t, "")
	require.NoError(t, os.WriteFile(".env", []byte("RESALE_AUTH_TOKEN_SECRET=from-dotenv-secret\n"), 0o600))
	// Register a cleanup for the variable godotenv is about to set, then clear it.
	t.Setenv("RESALE_AUTH_TOKEN_SECRET", "")
	require.NoError(t, os.Unsetenv("RESALE_AUTH_TOKEN_SECRET"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv-secret", cfg.Auth.TokenSecret)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
[market]
lock_timeout = "soon"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Storage.Driver = "sqlite"
	cfg.Server.Port = 0
	cfg.Market.SweepBatch = 0
	cfg.Notify.TelegramToken = "tok"
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown log_level "loud"`,
		`unknown driver "sqlite"`,
		"server: port",
		"sweep_batch",
		"telegram_chat_id",
		"s3: bucket",
		"auth: set token_secret",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidatePostgresOnlyWhenSelected(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.GatewayKey = "gw"
	cfg.Postgres.Host = ""
	require.Error(t, cfg.Validate())

	cfg.Storage.Driver = "memory"
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-pass"
	cfg.Auth.TokenSecret = "super-secret-value"
	cfg.S3.SecretKey = "s3-secret"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Auth.TokenSecret)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Empty(t, out.Auth.GatewayKey, "empty values stay empty")

	out.Notify.Events[0] = "mutated"
	assert.Equal(t, "listing.sold", cfg.Notify.Events[0])
	assert.Equal(t, "super-secret-value", cfg.Auth.TokenSecret)
}
