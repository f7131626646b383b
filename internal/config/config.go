package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultPollIntervalMS = 1000
	DefaultMaxBatchSize   = 100
	DefaultRetentionDays  = 30
	DefaultLookbackMin    = 5
	DefaultTrackedWindow  = 500
	DefaultMaxErrors      = 10
	DefaultSourcePath     = "~/Library/Messages/chat.db"
	DefaultDiagnosticAddr = "127.0.0.1:9477"
)

// Config represents the main configuration for undeleter.
type Config struct {
	InstanceID  string            `toml:"instance_id" validate:"required"`
	BaseDir     string            `toml:"base_dir" validate:"required"`
	LogDir      string            `toml:"log_dir" validate:"required"`
	LogLevel    string            `toml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Source      SourceConfig      `toml:"source"`
	Observer    ObserverConfig    `toml:"observer"`
	State       StateConfig       `toml:"state"`
	Detection   DetectionConfig   `toml:"detection"`
	Filters     FilterConfig      `toml:"filters"`
	Encryption  EncryptionConfig  `toml:"encryption"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics"`
	Sinks       []SinkConfig      `toml:"sinks" validate:"dive"`
}

// SourceConfig points at the monitored message store.
type SourceConfig struct {
	Path string `toml:"path" validate:"required"`
}

// ObserverConfig controls how the message store is polled.
type ObserverConfig struct {
	PollIntervalMS       int `toml:"poll_interval_ms" validate:"min=10"`
	MaxBatchSize         int `toml:"max_batch_size" validate:"min=1"`
	LookbackMinutes      int `toml:"lookback_minutes" validate:"min=0"`
	TrackedWindow        int `toml:"tracked_window" validate:"min=0"`
	MaxConsecutiveErrors int `toml:"max_consecutive_errors" validate:"min=0"` // 0 disables the limit
	DiagnosticsEvery     int `toml:"diagnostics_every" validate:"min=0"`      // heartbeats between diagnostics log lines
}

// PollInterval returns the poll interval as a duration.
func (o ObserverConfig) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalMS) * time.Millisecond
}

// Lookback returns how far back the first poll looks for changes.
func (o ObserverConfig) Lookback() time.Duration {
	return time.Duration(o.LookbackMinutes) * time.Minute
}

// StateConfig represents configuration for the fingerprint store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StateConfig struct {
	Type               string `toml:"type" validate:"oneof=sqlite memory"`
	DataDir            string `toml:"data_dir,omitempty"` // only used for type=sqlite
	RetentionDays      int    `toml:"retention_days" validate:"min=0"`
	PurgeIntervalHours int    `toml:"purge_interval_hours" validate:"min=0"` // 0 purges at startup only
}

// Retention returns the retention window as a duration.
func (s StateConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// PurgeInterval returns the periodic purge interval; zero means startup only.
func (s StateConfig) PurgeInterval() time.Duration {
	return time.Duration(s.PurgeIntervalHours) * time.Hour
}

// DetectionConfig selects which classifications run.
type DetectionConfig struct {
	Types                 []string `toml:"types" validate:"dive,oneof=full_message attachment_only partial_edit"`
	TrackEdits            bool     `toml:"track_edits"`
	RecoverEditContent    bool     `toml:"recover_edit_content"`
	TreatClearedAsDeleted bool     `toml:"treat_cleared_as_deleted"`
}

// FilterConfig restricts which conversations and senders are tracked.
// Patterns are globs; a pattern with no glob characters matches as a substring.
type FilterConfig struct {
	Conversations []string `toml:"conversations"`
	Senders       []string `toml:"senders"`
	IncludeFromMe bool     `toml:"include_from_me"`
	File          string   `toml:"file,omitempty"` // extra conversation patterns, one per line
}

// EncryptionConfig holds paths to the age key pair used for archive encryption.
type EncryptionConfig struct {
	Type           string `toml:"type" validate:"omitempty,oneof=age test"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
	Armor          bool   `toml:"armor,omitempty"` // PEM-style ASCII output
}

// DiagnosticsConfig controls the optional HTTP diagnostics server.
type DiagnosticsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr" validate:"omitempty,hostname_port"`
}

// SinkConfig represents configuration for one output sink.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SinkConfig struct {
	Type    string `toml:"type" validate:"oneof=file table webhook console archive"`
	Name    string `toml:"name,omitempty"`
	Enabled bool   `toml:"enabled"`

	// file and table
	Path   string `toml:"path,omitempty"`
	Pretty bool   `toml:"pretty,omitempty"`

	// table
	TableName string `toml:"table_name,omitempty"`

	// webhook
	URL            string `toml:"url,omitempty" validate:"omitempty,url"`
	AuthToken      string `toml:"auth_token,omitempty"`
	TimeoutSeconds int    `toml:"timeout_seconds,omitempty" validate:"min=0"`
	PingOnInit     bool   `toml:"ping_on_init,omitempty"`

	// console
	Format string `toml:"format,omitempty" validate:"omitempty,oneof=plain colored json"`

	// archive
	Encrypt bool         `toml:"encrypt,omitempty"`
	Vault   *VaultConfig `toml:"vault,omitempty"`
}

// SinkName returns the configured name, falling back to the type.
func (s SinkConfig) SinkName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Type
}

// VaultConfig represents configuration for an archive vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type" validate:"oneof=memory s3 filesystem"`
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible services

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// NewConfig creates a new Config with the provided values and the default
// detection, state and sink settings.
func NewConfig(instanceID, baseDir string) *Config {
	return &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		LogLevel:   "info",
		Source:     SourceConfig{Path: DefaultSourcePath},
		Observer: ObserverConfig{
			PollIntervalMS:       DefaultPollIntervalMS,
			MaxBatchSize:         DefaultMaxBatchSize,
			LookbackMinutes:      DefaultLookbackMin,
			TrackedWindow:        DefaultTrackedWindow,
			MaxConsecutiveErrors: DefaultMaxErrors,
			DiagnosticsEvery:     60,
		},
		State: StateConfig{
			Type:          "sqlite",
			DataDir:       filepath.Join(baseDir, "state"),
			RetentionDays: DefaultRetentionDays,
		},
		Detection: DetectionConfig{
			Types:                 []string{"full_message", "attachment_only"},
			TreatClearedAsDeleted: true,
		},
		Filters: FilterConfig{IncludeFromMe: true},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "undeleter.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "undeleter.key"),
		},
		Diagnostics: DiagnosticsConfig{Addr: DefaultDiagnosticAddr},
		Sinks: []SinkConfig{
			{Type: "console", Enabled: true, Format: "colored"},
			{Type: "file", Enabled: true, Path: filepath.Join(baseDir, "deletions.jsonl")},
		},
	}
}

var (
	validate       = newValidator()
	tableNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and the settings each tagged union
// member requires. All problems are reported together.
func Validate(cfg *Config) error {
	var errs []error
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating config: %w", err)
		}
		for _, e := range verrs {
			errs = append(errs, fieldError(e))
		}
	}

	if cfg.State.Type == "sqlite" && cfg.State.DataDir == "" {
		errs = append(errs, errors.New("state.data_dir is required for type sqlite"))
	}
	if cfg.Diagnostics.Enabled && cfg.Diagnostics.Addr == "" {
		errs = append(errs, errors.New("diagnostics.addr is required when diagnostics are enabled"))
	}

	seen := make(map[string]bool)
	for i, s := range cfg.Sinks {
		name := s.SinkName()
		if seen[name] {
			errs = append(errs, fmt.Errorf("sinks[%d]: duplicate sink name %q", i, name))
		}
		seen[name] = true
		if err := validateSink(s); err != nil {
			errs = append(errs, fmt.Errorf("sinks[%d] (%s): %w", i, name, err))
		}
	}
	return errors.Join(errs...)
}

func validateSink(s SinkConfig) error {
	switch s.Type {
	case "file":
		if s.Path == "" {
			return errors.New("path is required")
		}
	case "table":
		if s.Path == "" {
			return errors.New("path is required")
		}
		if !tableNameRegex.MatchString(s.TableName) {
			return fmt.Errorf("invalid table_name %q", s.TableName)
		}
	case "webhook":
		if s.URL == "" {
			return errors.New("url is required")
		}
	case "archive":
		if s.Vault == nil {
			return errors.New("vault is required")
		}
		if s.Vault.Type == "s3" && s.Vault.S3Bucket == "" {
			return errors.New("vault.s3_bucket is required")
		}
		if s.Vault.Type == "filesystem" && s.Vault.FSVaultRoot == "" {
			return errors.New("vault.fs_vault_root is required")
		}
	}
	return nil
}

// ValidTableName reports whether name is a safe SQL identifier.
func ValidTableName(name string) bool {
	return tableNameRegex.MatchString(name)
}

func fieldError(e validator.FieldError) error {
	field := e.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch e.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "min":
		return fmt.Errorf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s (got %v)", field, e.Param(), e.Value())
	case "url":
		return fmt.Errorf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Errorf("%s must be host:port", field)
	default:
		return fmt.Errorf("%s is invalid", field)
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

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
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

// Init writes a new config file and refuses to overwrite an existing one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
