package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Security SecurityConfig
	Redis    RedisConfig
	Logging  LoggingConfig
	Vendors  VendorsConfig
	FHIR     FHIRConfig
	Sync     SyncConfig
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	FrontendURL     string
	Environment     string
	RateLimitRPS    float64
	RateLimitBurst  int
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// For SQLite
	Path string
}

// AuthConfig contains the identity layer settings. Sessions are issued
// elsewhere; this service only verifies them.
type AuthConfig struct {
	JWTSecret string
}

// SecurityConfig contains credential sealing and OAuth state settings
type SecurityConfig struct {
	// EncryptionKey is the base64 encoded 32 byte primary key.
	EncryptionKey string
	// RetiredKeys are accepted for opening credentials only.
	RetiredKeys []string
	Cipher      string
	StateSecret string
	StateTTL    time.Duration
}

// RedisConfig contains Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the host:port pair used by redis clients.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string
	Format     string // json or console
	OutputPath string
}

// VendorsConfig groups the per-vendor OAuth and API settings
type VendorsConfig struct {
	Fitbit VendorConfig
	Oura   VendorConfig
}

// VendorConfig contains OAuth client registration and API pacing for one vendor
type VendorConfig struct {
	Enabled           bool
	ClientID          string
	ClientSecret      string
	RedirectURL       string
	Scopes            []string
	AuthURL           string
	TokenURL          string
	APIBaseURL        string
	RequestsPerSecond float64
	Burst             int
}

// FHIRConfig contains the clinical record store connection
type FHIRConfig struct {
	BaseURL          string
	BearerToken      string
	Timeout          time.Duration
	IdentifierSystem string
}

// SyncConfig contains orchestrator, queue and scheduler tuning
type SyncConfig struct {
	RefreshMargin    time.Duration
	CallTimeout      time.Duration
	MaxAttempts      int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	RateLimitWaitMax time.Duration
	SubmitAttempts   int
	MaxRangeDays     int
	LockTTL          time.Duration

	QueueBackend      string // database or redis
	WorkerConcurrency int
	WorkerPoll        time.Duration
	JobMaxAttempts    int

	ScheduleEnabled bool
	Schedule        string
	MinInterval     time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors as it's optional)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			FrontendURL:     getEnv("FRONTEND_URL", "http://localhost:5173"),
			Environment:     getEnv("ENVIRONMENT", "development"),
			RateLimitRPS:    getEnvAsFloat("RATE_LIMIT_RPS", 20),
			RateLimitBurst:  getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "vitalsync"),
			User:            getEnv("DB_USER", ""),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			Path:            getEnv("DB_PATH", "./vitalsync.db"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			RetiredKeys:   getEnvAsSlice("ENCRYPTION_KEYS_RETIRED", nil),
			Cipher:        getEnv("CREDENTIAL_CIPHER", "aes-256-gcm"),
			StateSecret:   getEnv("OAUTH_STATE_SECRET", ""),
			StateTTL:      getEnvAsDuration("OAUTH_STATE_TTL", 10*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			OutputPath: getEnv("LOG_OUTPUT", "stdout"),
		},
		Vendors: VendorsConfig{
			Fitbit: VendorConfig{
				Enabled:           getEnvAsBool("FITBIT_ENABLED", true),
				ClientID:          getEnv("FITBIT_CLIENT_ID", ""),
				ClientSecret:      getEnv("FITBIT_CLIENT_SECRET", ""),
				RedirectURL:       getEnv("FITBIT_REDIRECT_URL", "http://localhost:8080/api/v1/oauth/callback"),
				Scopes:            getEnvAsSlice("FITBIT_SCOPES", []string{"heartrate", "oxygen_saturation", "weight", "activity", "profile"}),
				AuthURL:           getEnv("FITBIT_AUTH_URL", "https://www.fitbit.com/oauth2/authorize"),
				TokenURL:          getEnv("FITBIT_TOKEN_URL", "https://api.fitbit.com/oauth2/token"),
				APIBaseURL:        getEnv("FITBIT_API_BASE_URL", "https://api.fitbit.com"),
				RequestsPerSecond: getEnvAsFloat("FITBIT_RPS", 2),
				Burst:             getEnvAsInt("FITBIT_BURST", 4),
			},
			Oura: VendorConfig{
				Enabled:           getEnvAsBool("OURA_ENABLED", false),
				ClientID:          getEnv("OURA_CLIENT_ID", ""),
				ClientSecret:      getEnv("OURA_CLIENT_SECRET", ""),
				RedirectURL:       getEnv("OURA_REDIRECT_URL", "http://localhost:8080/api/v1/oauth/callback"),
				Scopes:            getEnvAsSlice("OURA_SCOPES", []string{"personal", "heartrate", "daily", "spo2"}),
				AuthURL:           getEnv("OURA_AUTH_URL", "https://cloud.ouraring.com/oauth/authorize"),
				TokenURL:          getEnv("OURA_TOKEN_URL", "https://api.ouraring.com/oauth/token"),
				APIBaseURL:        getEnv("OURA_API_BASE_URL", "https://api.ouraring.com"),
				RequestsPerSecond: getEnvAsFloat("OURA_RPS", 5),
				Burst:             getEnvAsInt("OURA_BURST", 5),
			},
		},
		FHIR: FHIRConfig{
			BaseURL:          getEnv("FHIR_BASE_URL", "http://localhost:8090/fhir"),
			BearerToken:      getEnv("FHIR_BEARER_TOKEN", ""),
			Timeout:          getEnvAsDuration("FHIR_TIMEOUT", 15*time.Second),
			IdentifierSystem: getEnv("FHIR_IDENTIFIER_SYSTEM", "urn:vitalsync:observation"),
		},
		Sync: SyncConfig{
			RefreshMargin:    getEnvAsDuration("SYNC_REFRESH_MARGIN", 5*time.Minute),
			CallTimeout:      getEnvAsDuration("SYNC_CALL_TIMEOUT", 20*time.Second),
			MaxAttempts:      getEnvAsInt("SYNC_MAX_ATTEMPTS", 3),
			BackoffBase:      getEnvAsDuration("SYNC_BACKOFF_BASE", 500*time.Millisecond),
			BackoffMax:       getEnvAsDuration("SYNC_BACKOFF_MAX", 10*time.Second),
			RateLimitWaitMax: getEnvAsDuration("SYNC_RATE_LIMIT_WAIT_MAX", 60*time.Second),
			SubmitAttempts:   getEnvAsInt("SYNC_SUBMIT_ATTEMPTS", 3),
			MaxRangeDays:     getEnvAsInt("SYNC_MAX_RANGE_DAYS", 30),
			LockTTL:          getEnvAsDuration("SYNC_LOCK_TTL", 10*time.Minute),

			QueueBackend:      getEnv("SYNC_QUEUE_BACKEND", "database"),
			WorkerConcurrency: getEnvAsInt("SYNC_WORKER_CONCURRENCY", 4),
			WorkerPoll:        getEnvAsDuration("SYNC_WORKER_POLL", 5*time.Second),
			JobMaxAttempts:    getEnvAsInt("SYNC_JOB_MAX_ATTEMPTS", 5),

			ScheduleEnabled: getEnvAsBool("SYNC_SCHEDULE_ENABLED", true),
			Schedule:        getEnv("SYNC_SCHEDULE", "*/30 * * * *"),
			MinInterval:     getEnvAsDuration("SYNC_MIN_INTERVAL", 6*time.Hour),
		},
	}

	if cfg.Security.StateSecret == "" {
		cfg.Security.StateSecret = cfg.Auth.JWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if err := validateKey("ENCRYPTION_KEY", c.Security.EncryptionKey); err != nil {
		return err
	}
	for i, k := range c.Security.RetiredKeys {
		if err := validateKey(fmt.Sprintf("ENCRYPTION_KEYS_RETIRED[%d]", i), k); err != nil {
			return err
		}
	}

	switch c.Security.Cipher {
	case "aes-256-gcm", "xchacha20-poly1305":
	default:
		return fmt.Errorf("unsupported credential cipher: %s", c.Security.Cipher)
	}

	if c.Security.StateTTL <= 0 {
		return fmt.Errorf("OAUTH_STATE_TTL must be positive")
	}

	switch c.Sync.QueueBackend {
	case "database":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("SYNC_QUEUE_BACKEND=redis requires REDIS_ENABLED=true")
		}
	default:
		return fmt.Errorf("unsupported sync queue backend: %s", c.Sync.QueueBackend)
	}

	if c.Sync.MaxAttempts < 1 || c.Sync.SubmitAttempts < 1 {
		return fmt.Errorf("sync attempt budgets must be at least 1")
	}

	if c.Sync.MaxRangeDays < 1 {
		return fmt.Errorf("SYNC_MAX_RANGE_DAYS must be at least 1")
	}

	return nil
}

func validateKey(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s must be set", name)
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return fmt.Errorf("%s is not valid base64: %w", name, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("%s must decode to 32 bytes, got %d", name, len(raw))
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma separated value, dropping blanks.
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
