package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Database:  DatabaseConfig{URL: "postgres://localhost/matrixai"},
		JWT:       JWTConfig{Secret: "secret"},
		Storage:   StorageConfig{Driver: "minio"},
		Minio:     MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "media"},
		DashScope: DashScopeConfig{APIKey: "sk", BaseURL: "https://dashscope-intl.aliyuncs.com"},
		Jobs: JobsConfig{
			PollInterval:     10 * time.Second,
			MaxAttempts:      60,
			SubmitAttempts:   3,
			DownloadAttempts: 3,
			UploadTimeout:    time.Minute,
			Concurrency:      10,
			MaxArtifactBytes: 1 << 20,
		},
		Pricing: PricingConfig{Standard: 25, Premium: 55, Transcription: 5},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing database", func(c *Config) { c.Database.URL = "" }, "database.url"},
		{"missing dashscope key", func(c *Config) { c.DashScope.APIKey = "" }, "dashscope.api_key"},
		{"no auth source", func(c *Config) { c.JWT.Secret = "" }, "jwt.secret"},
		{"gateway mode needs no secret", func(c *Config) { c.JWT.Secret = ""; c.Gateway.Enabled = true }, ""},
		{"incomplete r2", func(c *Config) { c.Storage.Driver = "r2" }, "r2 storage"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "ftp" }, "storage.driver"},
		{"zero attempts", func(c *Config) { c.Jobs.MaxAttempts = 0 }, "jobs.max_attempts"},
		{"zero submit attempts", func(c *Config) { c.Jobs.SubmitAttempts = 0 }, "jobs.submit_attempts"},
		{"zero upload timeout", func(c *Config) { c.Jobs.UploadTimeout = 0 }, "jobs.upload_timeout"},
		{"negative concurrency", func(c *Config) { c.Jobs.Concurrency = -1 }, "jobs.concurrency"},
		{"negative delay", func(c *Config) { c.Jobs.InitialDelay = -time.Second }, "jobs.initial_delay"},
		{"free jobs", func(c *Config) { c.Pricing.Premium = 0 }, "pricing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	err := (&Config{}).Validate()
	require.Error(t, err)
	for _, want := range []string{"database.url", "dashscope.api_key", "storage.driver", "jobs.max_attempts", "jobs.submit_attempts", "jobs.upload_timeout", "jobs.concurrency", "pricing"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestReadSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	t.Setenv("MATRIXAI_TEST_SECRET", "")
	t.Setenv("MATRIXAI_TEST_SECRET_FILE", path)
	readSecret("MATRIXAI_TEST_SECRET")
	assert.Equal(t, "from-file", os.Getenv("MATRIXAI_TEST_SECRET"))

	t.Setenv("MATRIXAI_TEST_SECRET", "direct")
	readSecret("MATRIXAI_TEST_SECRET")
	assert.Equal(t, "direct", os.Getenv("MATRIXAI_TEST_SECRET"))
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/matrixai")
	t.Setenv("DASHSCOPE_API_KEY", "sk-test")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORAGE_DRIVER", "MINIO")
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_ACCESS_KEY", "access")
	t.Setenv("MINIO_SECRET_KEY", "secret")
	t.Setenv("MINIO_BUCKET", "media")
	t.Setenv("JOBS_POLL_INTERVAL", "5s")
	t.Setenv("JOBS_REFUND_ON_FAILURE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "minio", cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Jobs.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Jobs.InitialDelay)
	assert.Equal(t, 60, cfg.Jobs.MaxAttempts)
	assert.True(t, cfg.Jobs.RefundOnFailure)
	assert.Equal(t, int64(25), cfg.Pricing.Standard)
	assert.Contains(t, cfg.Pricing.PremiumTemplates, "dance1")
	assert.Equal(t, "wanx2.1-t2v-turbo", cfg.DashScope.TextToVideoModel)
	assert.True(t, cfg.IsDevelopment())
}
