package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config represents the main configuration for devcat.
type Config struct {
	HostID      string            `toml:"host_id" validate:"required"`
	BaseDir     string            `toml:"base_dir" validate:"required"`
	LogDir      string            `toml:"log_dir"`
	LogLevel    string            `toml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	SentryDSN   string            `toml:"sentry_dsn,omitempty" validate:"omitempty,url"`
	Database    DatabaseConfig    `toml:"database"`
	Mount       MountConfig       `toml:"mount"`
	Hotplug     HotplugConfig     `toml:"hotplug"`
	Indexer     IndexerConfig     `toml:"indexer"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Vaults      []VaultConfig     `toml:"vaults" validate:"dive"`
	Encryption  EncryptionConfig  `toml:"encryption"`
}

// DatabaseConfig represents configuration for the catalog database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"required,oneof=sqlite memory"`
	DataDir string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"`
}

// MountConfig controls where and how volumes are mounted.
type MountConfig struct {
	Type        string   `toml:"type" validate:"required,oneof=system memory"` // "memory" never touches the kernel
	StorageRoot string   `toml:"storage_root" validate:"required"`
	Options     []string `toml:"options,omitempty"` // passed to mount(8) as -o
	Timeout     Duration `toml:"mount_timeout" validate:"gte=0"`
}

// HotplugConfig selects the device event source.
type HotplugConfig struct {
	Type string `toml:"type" validate:"required,oneof=udisks inotify none"`
	// DevnodePrefixes limits which block devices are managed, e.g. "/dev/sd".
	// Empty means every removable filesystem.
	DevnodePrefixes []string `toml:"devnode_prefixes,omitempty"`
}

// IndexerConfig controls what a scan records.
type IndexerConfig struct {
	Ignore           []string `toml:"ignore"`
	SniffContentType bool     `toml:"sniff_content_type"`
}

// CoordinatorConfig tunes reconciliation.
type CoordinatorConfig struct {
	Workers       int      `toml:"workers" validate:"gte=1"`
	ScanInterval  Duration `toml:"scan_interval" validate:"gte=0"`
	RetryInterval Duration `toml:"retry_interval" validate:"gte=0"`
	RescanMounted bool     `toml:"rescan_mounted"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type" validate:"required,oneof=memory s3 filesystem"`
	Name string `toml:"name" validate:"required"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty" validate:"omitempty,url"` // for S3-compatible stores
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty" validate:"required_if=Type filesystem"`
}

// EncryptionConfig holds paths to the age key pair used for catalog snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type" validate:"omitempty,oneof=age test none"` // "age" (default), "test" or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
	// Recipients are extra age public keys every snapshot is also sealed
	// to, e.g. a recovery key kept off the host.
	Recipients []string `toml:"recipients,omitempty" validate:"dive,startswith=age1"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// NewConfig creates a new Config with the provided values and defaults for
// everything else.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:   hostID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Mount: MountConfig{
			Type:        "system",
			StorageRoot: "/mnt/storage_pool",
			Options:     []string{"nosuid", "nodev", "noexec"},
			Timeout:     Duration(30 * time.Second),
		},
		Hotplug: HotplugConfig{
			Type:            "udisks",
			DevnodePrefixes: []string{"/dev/sd", "/dev/mmcblk", "/dev/nvme"},
		},
		Indexer: IndexerConfig{
			SniffContentType: true,
		},
		Coordinator: CoordinatorConfig{
			Workers:       2,
			ScanInterval:  Duration(30 * time.Second),
			RetryInterval: Duration(5 * time.Minute),
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "devcat.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "devcat.key"),
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a decoded Config. All problems are reported together.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("validating config: %w", err)
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		// Drop the leading "Config." so messages read like the TOML.
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
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

// ReadFromFile reads and validates a Config from the specified file path.
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
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
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

// Init writes a new config file at path. It refuses to overwrite an
// existing file or to write an invalid config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
