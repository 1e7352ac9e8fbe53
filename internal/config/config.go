package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	R2        R2Config
	Minio     MinioConfig
	Zitadel   ZitadelConfig
	DashScope DashScopeConfig
	RabbitMQ  RabbitMQConfig
	Jobs      JobsConfig
	Pricing   PricingConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	JobsPerHour int
}

// StorageConfig selects the artifact store backend: "r2" or "minio".
type StorageConfig struct {
	Driver string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
	// Audience defaults to ClientID
	Audience string
	// JWKSURL skips OIDC discovery when set
	JWKSURL string
	Leeway  time.Duration
}

type DashScopeConfig struct {
	APIKey string
	// VideoAPIKey is used by text-to-video; falls back to APIKey when empty.
	VideoAPIKey           string
	BaseURL               string
	Timeout               int // seconds
	TextToVideoModel      string
	ImageToVideoModel     string
	ImageToVideoPlusModel string
	TranscriptionModel    string
	DefaultResolution     string
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

type JobsConfig struct {
	InitialDelay     time.Duration
	PollInterval     time.Duration
	MaxAttempts      int
	SubmitAttempts   int
	DownloadAttempts int
	DownloadDelay    time.Duration
	UploadTimeout    time.Duration
	MaxArtifactBytes int64
	RefundOnFailure  bool
	StatusRefresh    bool
	Concurrency      int
}

type PricingConfig struct {
	Standard         int64
	Premium          int64
	Transcription    int64
	PremiumTemplates []string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// .env files are optional; real environment variables win
	_ = godotenv.Load(".env", ".env.local")

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_URL")
	readSecret("JWT_SECRET")
	readSecret("DASHSCOPE_API_KEY")
	readSecret("DASHSCOPEVIDEO_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("MINIO_ACCESS_KEY")
	readSecret("MINIO_SECRET_KEY")
	readSecret("RABBITMQ_URL")
	readSecret("ZITADEL_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("database.url", "DATABASE_URL")
	_ = viper.BindEnv("database.max_conns", "DATABASE_MAX_CONNS")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.jobs_per_hour", "RATELIMIT_JOBS_PER_HOUR")
	_ = viper.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("minio.endpoint", "MINIO_ENDPOINT")
	_ = viper.BindEnv("minio.access_key", "MINIO_ACCESS_KEY")
	_ = viper.BindEnv("minio.secret_key", "MINIO_SECRET_KEY")
	_ = viper.BindEnv("minio.bucket", "MINIO_BUCKET")
	_ = viper.BindEnv("minio.use_ssl", "MINIO_USE_SSL")
	_ = viper.BindEnv("minio.public_url", "MINIO_PUBLIC_URL")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("zitadel.audience", "ZITADEL_AUDIENCE")
	_ = viper.BindEnv("zitadel.jwks_url", "ZITADEL_JWKS_URL")
	_ = viper.BindEnv("zitadel.leeway", "ZITADEL_LEEWAY")
	_ = viper.BindEnv("dashscope.api_key", "DASHSCOPE_API_KEY")
	_ = viper.BindEnv("dashscope.video_api_key", "DASHSCOPEVIDEO_API_KEY")
	_ = viper.BindEnv("dashscope.base_url", "DASHSCOPE_BASE_URL")
	_ = viper.BindEnv("dashscope.timeout", "DASHSCOPE_TIMEOUT")
	_ = viper.BindEnv("rabbitmq.url", "RABBITMQ_URL")
	_ = viper.BindEnv("rabbitmq.exchange", "RABBITMQ_EXCHANGE")
	_ = viper.BindEnv("jobs.initial_delay", "JOBS_INITIAL_DELAY")
	_ = viper.BindEnv("jobs.poll_interval", "JOBS_POLL_INTERVAL")
	_ = viper.BindEnv("jobs.max_attempts", "JOBS_MAX_ATTEMPTS")
	_ = viper.BindEnv("jobs.refund_on_failure", "JOBS_REFUND_ON_FAILURE")
	_ = viper.BindEnv("jobs.status_refresh", "JOBS_STATUS_REFRESH")
	_ = viper.BindEnv("jobs.concurrency", "JOBS_CONCURRENCY")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.jobs_per_hour", 20)
	viper.SetDefault("storage.driver", "r2")
	viper.SetDefault("minio.use_ssl", true)

	// DashScope defaults
	viper.SetDefault("dashscope.base_url", "https://dashscope-intl.aliyuncs.com")
	viper.SetDefault("dashscope.timeout", 60)
	viper.SetDefault("dashscope.models.text_to_video", "wanx2.1-t2v-turbo")
	viper.SetDefault("dashscope.models.image_to_video", "wanx2.1-i2v-turbo")
	viper.SetDefault("dashscope.models.image_to_video_plus", "wanx2.1-i2v-plus")
	viper.SetDefault("dashscope.models.transcription", "paraformer-v2")
	viper.SetDefault("dashscope.default_resolution", "720P")

	// RabbitMQ defaults (publisher is disabled while url is empty)
	viper.SetDefault("rabbitmq.exchange", "jobs.exchange")

	// Job orchestration defaults
	viper.SetDefault("zitadel.leeway", "30s")
	viper.SetDefault("jobs.initial_delay", "120s")
	viper.SetDefault("jobs.poll_interval", "10s")
	viper.SetDefault("jobs.max_attempts", 60)
	viper.SetDefault("jobs.submit_attempts", 2)
	viper.SetDefault("jobs.download_attempts", 3)
	viper.SetDefault("jobs.download_delay", "2s")
	viper.SetDefault("jobs.upload_timeout", "5m")
	viper.SetDefault("jobs.max_artifact_bytes", 512*1024*1024)
	viper.SetDefault("jobs.refund_on_failure", false)
	viper.SetDefault("jobs.status_refresh", true)
	viper.SetDefault("jobs.concurrency", 10)

	// Pricing defaults (coins)
	viper.SetDefault("pricing.standard", 25)
	viper.SetDefault("pricing.premium", 55)
	viper.SetDefault("pricing.transcription", 5)
	viper.SetDefault("pricing.premium_templates", []string{"dance1", "dance2", "dance3", "mermaid", "graduation", "dragon", "money"})

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			URL:      viper.GetString("database.url"),
			MaxConns: viper.GetInt32("database.max_conns"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			JobsPerHour: viper.GetInt("ratelimit.jobs_per_hour"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(viper.GetString("storage.driver")),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Minio: MinioConfig{
			Endpoint:  viper.GetString("minio.endpoint"),
			AccessKey: viper.GetString("minio.access_key"),
			SecretKey: viper.GetString("minio.secret_key"),
			Bucket:    viper.GetString("minio.bucket"),
			UseSSL:    viper.GetBool("minio.use_ssl"),
			PublicURL: viper.GetString("minio.public_url"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   strings.TrimRight(viper.GetString("zitadel.issuer"), "/"),
			Audience: viper.GetString("zitadel.audience"),
			JWKSURL:  viper.GetString("zitadel.jwks_url"),
			Leeway:   viper.GetDuration("zitadel.leeway"),
		},
		DashScope: DashScopeConfig{
			APIKey:                viper.GetString("dashscope.api_key"),
			VideoAPIKey:           viper.GetString("dashscope.video_api_key"),
			BaseURL:               strings.TrimRight(viper.GetString("dashscope.base_url"), "/"),
			Timeout:               viper.GetInt("dashscope.timeout"),
			TextToVideoModel:      viper.GetString("dashscope.models.text_to_video"),
			ImageToVideoModel:     viper.GetString("dashscope.models.image_to_video"),
			ImageToVideoPlusModel: viper.GetString("dashscope.models.image_to_video_plus"),
			TranscriptionModel:    viper.GetString("dashscope.models.transcription"),
			DefaultResolution:     viper.GetString("dashscope.default_resolution"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      viper.GetString("rabbitmq.url"),
			Exchange: viper.GetString("rabbitmq.exchange"),
		},
		Jobs: JobsConfig{
			InitialDelay:     viper.GetDuration("jobs.initial_delay"),
			PollInterval:     viper.GetDuration("jobs.poll_interval"),
			MaxAttempts:      viper.GetInt("jobs.max_attempts"),
			SubmitAttempts:   viper.GetInt("jobs.submit_attempts"),
			DownloadAttempts: viper.GetInt("jobs.download_attempts"),
			DownloadDelay:    viper.GetDuration("jobs.download_delay"),
			UploadTimeout:    viper.GetDuration("jobs.upload_timeout"),
			MaxArtifactBytes: viper.GetInt64("jobs.max_artifact_bytes"),
			RefundOnFailure:  viper.GetBool("jobs.refund_on_failure"),
			StatusRefresh:    viper.GetBool("jobs.status_refresh"),
			Concurrency:      viper.GetInt("jobs.concurrency"),
		},
		Pricing: PricingConfig{
			Standard:         viper.GetInt64("pricing.standard"),
			Premium:          viper.GetInt64("pricing.premium"),
			Transcription:    viper.GetInt64("pricing.transcription"),
			PremiumTemplates: viper.GetStringSlice("pricing.premium_templates"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports every missing credential or out-of-range setting at once.
// There are no built-in fallback secrets.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url (DATABASE_URL) is required"))
	}
	if c.DashScope.APIKey == "" {
		errs = append(errs, errors.New("dashscope.api_key (DASHSCOPE_API_KEY) is required"))
	}
	if c.DashScope.BaseURL == "" {
		errs = append(errs, errors.New("dashscope.base_url is required"))
	}
	if !c.Gateway.Enabled && c.JWT.Secret == "" && c.Zitadel.Issuer == "" {
		errs = append(errs, errors.New("one of jwt.secret, zitadel.issuer or gateway.enabled must be set"))
	}

	switch c.Storage.Driver {
	case "r2":
		if c.R2.AccountID == "" || c.R2.AccessKeyID == "" || c.R2.SecretAccessKey == "" || c.R2.BucketName == "" {
			errs = append(errs, errors.New("r2 storage requires account_id, access_key_id, secret_access_key and bucket_name"))
		}
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.AccessKey == "" || c.Minio.SecretKey == "" || c.Minio.Bucket == "" {
			errs = append(errs, errors.New("minio storage requires endpoint, access_key, secret_key and bucket"))
		}
	default:
		errs = append(errs, errors.New("storage.driver must be r2 or minio"))
	}

	if c.Jobs.MaxAttempts <= 0 {
		errs = append(errs, errors.New("jobs.max_attempts must be positive"))
	}
	if c.Jobs.PollInterval <= 0 {
		errs = append(errs, errors.New("jobs.poll_interval must be positive"))
	}
	if c.Jobs.InitialDelay < 0 {
		errs = append(errs, errors.New("jobs.initial_delay must not be negative"))
	}
	if c.Jobs.SubmitAttempts <= 0 {
		errs = append(errs, errors.New("jobs.submit_attempts must be positive"))
	}
	if c.Jobs.UploadTimeout <= 0 {
		errs = append(errs, errors.New("jobs.upload_timeout must be positive"))
	}
	if c.Jobs.Concurrency <= 0 {
		errs = append(errs, errors.New("jobs.concurrency must be positive"))
	}
	if c.Jobs.DownloadAttempts <= 0 {
		errs = append(errs, errors.New("jobs.download_attempts must be positive"))
	}
	if c.Jobs.MaxArtifactBytes <= 0 {
		errs = append(errs, errors.New("jobs.max_artifact_bytes must be positive"))
	}
	if c.Pricing.Standard <= 0 || c.Pricing.Premium <= 0 || c.Pricing.Transcription <= 0 {
		errs = append(errs, errors.New("pricing amounts must be positive"))
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Env, "development")
}
