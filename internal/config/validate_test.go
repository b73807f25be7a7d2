package config

import (
	"testing"
	"time"
)

func validEdgeConfig() *Config {
	cfg := NewConfig("/tmp/vitalsync")
	cfg.Edge.Token = "token"
	cfg.Edge.UserID = 1
	cfg.Edge.DeviceID = 1
	return cfg
}

func validServerConfig() *Config {
	cfg := NewConfig("/tmp/vitalsync")
	cfg.Server.JWTSecret = "a-secret-of-adequate-length"
	return cfg
}

func TestValidateEdge(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing token", func(c *Config) { c.Edge.Token = "" }, true},
		{"missing user", func(c *Config) { c.Edge.UserID = 0 }, true},
		{"missing device", func(c *Config) { c.Edge.DeviceID = 0 }, true},
		{"bad server url", func(c *Config) { c.Edge.ServerURL = "not a url" }, true},
		{"zero batch size", func(c *Config) { c.Edge.BatchSize = 0 }, true},
		{"unknown database type", func(c *Config) { c.Edge.Database.Type = "postgres" }, true},
		{"sqlite without data dir", func(c *Config) { c.Edge.Database.DataDir = "" }, true},
		{"memory database", func(c *Config) { c.Edge.Database = DatabaseConfig{Type: "memory"} }, false},
		{"negative interval", func(c *Config) { c.Edge.SyncInterval = Duration{-time.Second} }, true},
		{"server section ignored", func(c *Config) { c.Server = ServerConfig{} }, false},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validEdgeConfig()
			tt.mutate(cfg)

			err := ValidateEdge(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEdge() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateServer(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"short secret", func(c *Config) { c.Server.JWTSecret = "short" }, true},
		{"missing listen", func(c *Config) { c.Server.Listen = "" }, true},
		{"zero max batch", func(c *Config) { c.Server.MaxBatchSize = 0 }, true},
		{"unknown codec", func(c *Config) { c.Retention.Codec = "gzip" }, true},
		{"empty codec", func(c *Config) { c.Retention.Codec = "" }, false},
		{"tiny hot window", func(c *Config) { c.Retention.HotWindow = Duration{time.Minute} }, true},
		{"unknown vault", func(c *Config) { c.Vault.Type = "ftp" }, true},
		{"s3 without bucket", func(c *Config) { c.Vault = VaultConfig{Type: "s3"} }, true},
		{"s3 with bucket", func(c *Config) { c.Vault = VaultConfig{Type: "s3", S3Bucket: "b"} }, false},
		{"filesystem without root", func(c *Config) { c.Vault = VaultConfig{Type: "filesystem"} }, true},
		{"edge section ignored", func(c *Config) { c.Edge = EdgeConfig{} }, false},
		{"debug log level", func(c *Config) { c.LogLevel = "debug" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validServerConfig()
			tt.mutate(cfg)

			err := ValidateServer(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServer() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
