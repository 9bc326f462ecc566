package config

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func testKey(b byte) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat(string(b), 32)))
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "sqlite"},
		Auth:     AuthConfig{JWTSecret: "test-secret"},
		Security: SecurityConfig{
			EncryptionKey: testKey('k'),
			Cipher:        "aes-256-gcm",
			StateTTL:      10 * time.Minute,
		},
		Sync: SyncConfig{
			QueueBackend:   "database",
			MaxAttempts:    3,
			SubmitAttempts: 3,
			MaxRangeDays:   30,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing jwt secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: "JWT_SECRET"},
		{name: "missing key", mutate: func(c *Config) { c.Security.EncryptionKey = "" }, wantErr: "ENCRYPTION_KEY must be set"},
		{name: "short key", mutate: func(c *Config) {
			c.Security.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("short"))
		}, wantErr: "32 bytes"},
		{name: "bad retired key", mutate: func(c *Config) { c.Security.RetiredKeys = []string{"!!"} }, wantErr: "ENCRYPTION_KEYS_RETIRED[0]"},
		{name: "unknown cipher", mutate: func(c *Config) { c.Security.Cipher = "rot13" }, wantErr: "cipher"},
		{name: "xchacha cipher", mutate: func(c *Config) { c.Security.Cipher = "xchacha20-poly1305" }},
		{name: "redis queue without redis", mutate: func(c *Config) { c.Sync.QueueBackend = "redis" }, wantErr: "REDIS_ENABLED"},
		{name: "redis queue with redis", mutate: func(c *Config) {
			c.Sync.QueueBackend = "redis"
			c.Redis.Enabled = true
		}},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: "database driver"},
		{name: "zero attempts", mutate: func(c *Config) { c.Sync.MaxAttempts = 0 }, wantErr: "attempt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("ENCRYPTION_KEY", testKey('e'))
	t.Setenv("SYNC_REFRESH_MARGIN", "2m")
	t.Setenv("FITBIT_SCOPES", "heartrate, weight,,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sync.RefreshMargin != 2*time.Minute {
		t.Errorf("RefreshMargin = %v, want 2m", cfg.Sync.RefreshMargin)
	}
	if got := cfg.Vendors.Fitbit.Scopes; len(got) != 2 || got[1] != "weight" {
		t.Errorf("Scopes = %v", got)
	}
	if cfg.Security.StateSecret != "env-secret" {
		t.Errorf("StateSecret should default to JWT_SECRET, got %q", cfg.Security.StateSecret)
	}
}
