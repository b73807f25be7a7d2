package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for vitalsync. The edge and
// server sections are read by their respective commands; a single file may
// carry both.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // debug, info (default), warn or error
	Edge       EdgeConfig       `toml:"edge"`
	Server     ServerConfig     `toml:"server"`
	Retention  RetentionConfig  `toml:"retention"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// EdgeConfig configures the device side: buffer, collector and sync client.
type EdgeConfig struct {
	ServerURL        string `toml:"server_url" validate:"required|fullUrl"`
	Token            string `toml:"token" validate:"required"`
	UserID           int64  `toml:"user_id" validate:"required|min:1"`
	DeviceID         int64  `toml:"device_id" validate:"required|min:1"`
	DeviceExternalID string `toml:"device_external_id"`
	BatchSize        int    `toml:"batch_size" validate:"required|min:1|max:10000"`
	// BatchSize is halved at run time if the server refuses it as too large.

	SyncInterval    Duration `toml:"sync_interval"`
	CollectInterval Duration `toml:"collect_interval"`
	CleanupInterval Duration `toml:"cleanup_interval"`
	RequestTimeout  Duration `toml:"request_timeout"`

	Database DatabaseConfig `toml:"database"`
}

// ServerConfig configures the ingestion gateway.
type ServerConfig struct {
	Listen         string `toml:"listen" validate:"required"`
	MaxBatchSize   int    `toml:"max_batch_size" validate:"required|min:1|max:100000"`
	MetricsEnabled bool   `toml:"metrics_enabled"`
	DeviceCacheMB  int    `toml:"device_cache_mb" validate:"min:0|max:4096"`

	JWTSecret string   `toml:"jwt_secret" validate:"required|minLen:16"`
	JWTIssuer string   `toml:"jwt_issuer"`
	TokenTTL  Duration `toml:"token_ttl"`

	ReadTimeout     Duration `toml:"read_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`

	Database DatabaseConfig `toml:"database"`
}

// RetentionConfig configures the sweep performed by the server.
type RetentionConfig struct {
	SweepInterval Duration `toml:"sweep_interval"`
	HotWindow     Duration `toml:"hot_window"`
	Codec         string   `toml:"codec" validate:"in:zstd,lz4,none"`
	RunAtStart    bool     `toml:"run_at_start"`
}

// EncryptionConfig holds paths to the age key pair used to seal archives.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for the archive backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type" validate:"in:none,memory,filesystem,s3"` // empty means "none"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for a SQLite store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"required|in:sqlite,memory"`
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// Duration is a time.Duration written as a string ("24h", "30s") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Or returns d, or def when d is not positive.
func (d Duration) Or(def time.Duration) time.Duration {
	if d.Duration <= 0 {
		return def
	}
	return d.Duration
}

// NewConfig creates a Config rooted at baseDir with working defaults for
// every section. Credentials and identifiers are left for the caller.
func NewConfig(baseDir string) *Config {
	dbDir := filepath.Join(baseDir, "db")
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Edge: EdgeConfig{
			ServerURL:       "http://localhost:8080",
			BatchSize:       500,
			SyncInterval:    Duration{time.Minute},
			CollectInterval: Duration{5 * time.Second},
			CleanupInterval: Duration{24 * time.Hour},
			RequestTimeout:  Duration{30 * time.Second},
			Database:        DatabaseConfig{Type: "sqlite", DataDir: dbDir},
		},
		Server: ServerConfig{
			Listen:          ":8080",
			MaxBatchSize:    5000,
			MetricsEnabled:  true,
			DeviceCacheMB:   16,
			JWTIssuer:       "vitalsync",
			TokenTTL:        Duration{90 * 24 * time.Hour},
			ReadTimeout:     Duration{30 * time.Second},
			ShutdownTimeout: Duration{10 * time.Second},
			Database:        DatabaseConfig{Type: "sqlite", DataDir: dbDir},
		},
		Retention: RetentionConfig{
			SweepInterval: Duration{24 * time.Hour},
			HotWindow:     Duration{7 * 24 * time.Hour},
			Codec:         "zstd",
		},
		Vault: VaultConfig{Type: "none"},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "vitalsync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "vitalsync.key"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file holds the JWT secret and the device token.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
