package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Mpesa: MpesaConfig{
			ConsumerKey:    "key",
			ConsumerSecret: "secret",
			Environment:    "sandbox",
			RequestTimeout: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			MaxRequests: 100,
			Window:      time.Minute,
		},
		Callback: CallbackConfig{
			ValidateIP: true,
			DedupeTTL:  24 * time.Hour,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "test",
			Password: "test",
			Database: "test_db",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Worker: WorkerConfig{
			BatchSize:   10,
			MaxAttempts: 3,
		},
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	err := validConfig().Validate()
	assert.NoError(t, err)
}

func TestConfig_Validate_InvalidServerPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"port too low", 0},
		{"port negative", -1},
		{"port too high", 99999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = tt.port

			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "server.port")
		})
	}
}

func TestConfig_Validate_InvalidReadTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ReadTimeout = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "read_timeout")
}

func TestConfig_Validate_InvalidWriteTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Server.WriteTimeout = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "write_timeout")
}

func TestConfig_Validate_InvalidEnvironment(t *testing.T) {
	cfg := validConfig()
	cfg.Mpesa.Environment = "staging"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "mpesa.environment")
}

func TestConfig_Validate_InvalidRetryMultiplier(t *testing.T) {
	cfg := validConfig()
	cfg.Retry.Multiplier = 0.5

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "retry.multiplier")
}

func TestConfig_Validate_MaxDelayBelowInitial(t *testing.T) {
	cfg := validConfig()
	cfg.Retry.InitialDelay = 10 * time.Second
	cfg.Retry.MaxDelay = 1 * time.Second

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "retry.max_delay")
}

func TestConfig_Validate_InvalidRateLimit(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.MaxRequests = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ratelimit.max_requests")

	cfg = validConfig()
	cfg.RateLimit.Window = 0

	err = cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ratelimit.window")
}

func TestConfig_Validate_DisabledRateLimitSkipsChecks(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit = RateLimitConfig{Enabled: false}

	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_MissingDatabaseHost(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Host = ""

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.host")
}

func TestConfig_Validate_InvalidRedisPort(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.Port = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis.port")
}

func TestConfig_Validate_InvalidWorkerBatchSize(t *testing.T) {
	cfg := validConfig()
	cfg.Worker.BatchSize = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "worker.batch_size")
}

func TestConfig_Validate_ShortJWTSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.JWTSecret = "too-short"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret")
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Server.ReadTimeout = 0
	cfg.Database.Host = ""
	cfg.Redis.Port = 0
	cfg.RateLimit.Window = 0

	err := cfg.Validate()
	require.Error(t, err)

	// Should contain multiple error messages
	errStr := err.Error()
	assert.Contains(t, errStr, "server.port")
	assert.Contains(t, errStr, "read_timeout")
	assert.Contains(t, errStr, "database.host")
	assert.Contains(t, errStr, "redis.port")
	assert.Contains(t, errStr, "ratelimit.window")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sandbox", cfg.Mpesa.Environment)
	assert.Equal(t, uint(3), cfg.Retry.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 100, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.False(t, cfg.RateLimit.UseRedis)
	assert.True(t, cfg.Callback.ValidateIP)
	assert.Empty(t, cfg.Callback.AllowedIPs)
	assert.Equal(t, 24*time.Hour, cfg.Callback.DedupeTTL)
	assert.Equal(t, "callback-settlers", cfg.Worker.ConsumerGroup)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Worker.ReclaimInterval)
	assert.Equal(t, 5*time.Minute, cfg.Worker.ReclaimMinIdle)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DARAJA_SERVER_PORT", "9090")
	t.Setenv("DARAJA_MPESA_ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "production", cfg.Mpesa.Environment)
}

func TestLoad_RateLimitToggles(t *testing.T) {
	t.Setenv("DARAJA_RATELIMIT_ENABLED", "false")
	t.Setenv("DARAJA_RATELIMIT_USE_REDIS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.True(t, cfg.RateLimit.UseRedis)
}

func TestLoad_CallbackAllowedIPs(t *testing.T) {
	t.Setenv("DARAJA_CALLBACK_ALLOWED_IPS", "10.1.2.3,10.1.2.4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.1.2.3", "10.1.2.4"}, cfg.Callback.AllowedIPs)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.example.com",
		Port:     5432,
		User:     "app_user",
		Password: "secret",
		Database: "daraja_db",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.example.com port=5432 user=app_user password=secret dbname=daraja_db sslmode=require",
		cfg.DatabaseDSN())
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{Host: "redis.example.com", Port: 6379}
	assert.Equal(t, "redis.example.com:6379", cfg.RedisAddr())
}
