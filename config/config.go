// Package config loads and validates skusync run settings.
//
// Settings are loaded from multiple sources with proper precedence:
//   - Default values (set via SetConfigDefaults)
//   - Configuration file (--config, or skusync.yaml in ., $HOME/.skusync, /etc/skusync)
//   - Environment variables with prefix SKUSYNC_ (e.g. SKUSYNC_BUCKET_NAME)
//   - Command-line flags bound with BindFlags
//
// # Validation
//
// All checks live in one place. Config.Validate normalizes raw settings into a
// SyncConfig, and SyncConfig.Validate re-checks an already normalized value;
// the orchestrator calls the latter on entry so both entry points share the
// same rules.
//
// # Usage Example
//
//	loader := config.NewLoader("SKUSYNC")
//	loader.SetConfigDefaults()
//	var raw config.Config
//	if err := loader.Load(cfgFile, &raw); err != nil {
//	    return err
//	}
//	cfg, err := raw.Validate()
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"skusync.evalgo.org/common"
	"skusync.evalgo.org/sku"
)

// Limits enforced by validation.
const (
	MinBucketNameLength = 3
	MaxBucketNameLength = 63
	MinWorkers          = 1
	MaxWorkers          = 50
	MinRetries          = 1
	MaxRetries          = 10
)

// ErrInvalid marks every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validLevels = map[string]bool{
	common.LevelDebug:    true,
	common.LevelInfo:     true,
	common.LevelWarning:  true,
	common.LevelError:    true,
	common.LevelCritical: true,
}

var (
	bucketNamePattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)
	remotePrefixPattern = regexp.MustCompile(`^[a-zA-Z0-9!_.*()/-]*$`)
)

// StorageConfig holds S3 client settings. Credentials are never part of it;
// they come from the AWS default credential chain.
type StorageConfig struct {
	// Region overrides the region from the AWS shared config
	Region string `mapstructure:"region"`

	// Endpoint is a custom S3-compatible endpoint (MinIO, Hetzner, LakeFS)
	Endpoint string `mapstructure:"endpoint"`

	// UsePathStyle is required by most S3-compatible servers
	UsePathStyle bool `mapstructure:"use_path_style"`
}

// Config is the raw, unvalidated settings record as loaded by viper.
type Config struct {
	BucketName        string        `mapstructure:"bucket_name"`
	LocalDownloadPath string        `mapstructure:"local_download_path"`
	SKUSourcePath     string        `mapstructure:"sku_source_path"`
	SKUColumn         string        `mapstructure:"sku_column"`
	SKUSheet          string        `mapstructure:"sku_sheet"`
	RemotePrefix      string        `mapstructure:"remote_prefix"`
	MaxWorkers        int           `mapstructure:"max_workers"`
	LogLevel          string        `mapstructure:"log_level"`
	LogFormat         string        `mapstructure:"log_format"`
	Extensions        []string      `mapstructure:"extensions"`
	MaxRetries        int           `mapstructure:"max_retries"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
	BackoffUnit       time.Duration `mapstructure:"backoff_unit"`
	HistoryPath       string        `mapstructure:"history_path"`
	ReportPath        string        `mapstructure:"report_path"`
	DryRun            bool          `mapstructure:"dry_run"`
	Storage           StorageConfig `mapstructure:"storage"`
}

// SyncConfig is a validated Config. Treat it as immutable once built.
type SyncConfig struct {
	BucketName        string
	LocalDownloadPath string
	SKUSourcePath     string
	SKUColumn         string
	SKUSheet          string
	RemotePrefix      string
	MaxWorkers        int
	LogLevel          string
	LogFormat         string
	Extensions        []string
	MaxRetries        int
	TaskTimeout       time.Duration
	BackoffUnit       time.Duration
	HistoryPath       string
	ReportPath        string
	DryRun            bool
	Storage           StorageConfig
}

// Loader provides configuration loading functionality.
type Loader struct {
	v      *viper.Viper
	prefix string
}

// NewLoader creates a new configuration loader with the given environment prefix.
// The prefix is used for environment variables (e.g., "SKUSYNC" -> "SKUSYNC_MAX_WORKERS").
func NewLoader(envPrefix string) *Loader {
	return &Loader{
		v:      viper.New(),
		prefix: envPrefix,
	}
}

// SetConfigDefaults sets the skusync defaults. Every key gets a default so
// AutomaticEnv can override it during Unmarshal.
func (l *Loader) SetConfigDefaults() {
	l.v.SetDefault("bucket_name", "")
	l.v.SetDefault("local_download_path", "")
	l.v.SetDefault("sku_source_path", "")
	l.v.SetDefault("sku_column", sku.DefaultColumn)
	l.v.SetDefault("sku_sheet", "")
	l.v.SetDefault("remote_prefix", "")
	l.v.SetDefault("max_workers", 8)
	l.v.SetDefault("log_level", common.LevelInfo)
	l.v.SetDefault("log_format", "json")
	l.v.SetDefault("extensions", []string{".pdf"})
	l.v.SetDefault("max_retries", 3)
	l.v.SetDefault("task_timeout", "30s")
	l.v.SetDefault("backoff_unit", "1s")
	l.v.SetDefault("history_path", "")
	l.v.SetDefault("report_path", "")
	l.v.SetDefault("dry_run", false)

	l.v.SetDefault("storage.region", "")
	l.v.SetDefault("storage.endpoint", "")
	l.v.SetDefault("storage.use_path_style", false)
}

// BindFlags binds command-line flags to configuration keys.
// keys maps flag name to config key; flags that are not defined are skipped.
func (l *Loader) BindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for flagName, key := range keys {
		flag := flags.Lookup(flagName)
		if flag == nil {
			continue
		}
		if err := l.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flagName, err)
		}
	}
	return nil
}

// Load reads configuration from file and environment variables into target.
// If cfgFile is empty, searches for skusync.yaml in standard locations and
// carries on with defaults when none exists.
func (l *Loader) Load(cfgFile string, target interface{}) error {
	if cfgFile != "" {
		expanded, err := homedir.Expand(cfgFile)
		if err != nil {
			return fmt.Errorf("error expanding config path: %w", err)
		}
		l.v.SetConfigFile(expanded)
	} else {
		l.v.SetConfigName("skusync")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("$HOME/.skusync")
		l.v.AddConfigPath("/etc/skusync")
	}

	if err := l.v.ReadInConfig(); err != nil {
		if cfgFile != "" || !isConfigNotFound(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if l.prefix != "" {
		l.v.SetEnvPrefix(l.prefix)
	}
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.Unmarshal(target); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}
	return nil
}

// ConfigFileUsed returns the file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Validate normalizes c and validates the result. Every problem found is
// reported, each wrapping ErrInvalid.
func (c Config) Validate() (SyncConfig, error) {
	var result *multierror.Error

	cfg := SyncConfig{
		BucketName:   strings.ToLower(strings.TrimSpace(c.BucketName)),
		SKUColumn:    strings.TrimSpace(c.SKUColumn),
		SKUSheet:     c.SKUSheet,
		RemotePrefix: NormalizePrefix(c.RemotePrefix),
		MaxWorkers:   c.MaxWorkers,
		LogLevel:     strings.ToUpper(strings.TrimSpace(c.LogLevel)),
		LogFormat:    c.LogFormat,
		Extensions:   normalizeExtensions(c.Extensions),
		MaxRetries:   c.MaxRetries,
		TaskTimeout:  c.TaskTimeout,
		BackoffUnit:  c.BackoffUnit,
		DryRun:       c.DryRun,
		Storage:      c.Storage,
	}
	if cfg.SKUColumn == "" {
		cfg.SKUColumn = sku.DefaultColumn
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}

	var err error
	if cfg.LocalDownloadPath, err = absPath(c.LocalDownloadPath); err != nil {
		result = multierror.Append(result, invalid("local_download_path", err.Error()))
	}
	if cfg.SKUSourcePath, err = absPath(c.SKUSourcePath); err != nil {
		result = multierror.Append(result, invalid("sku_source_path", err.Error()))
	} else if cfg.SKUSourcePath == "" {
		result = multierror.Append(result, invalid("sku_source_path", "is required"))
	}
	if cfg.HistoryPath, err = absPath(c.HistoryPath); err != nil {
		result = multierror.Append(result, invalid("history_path", err.Error()))
	}
	if cfg.ReportPath, err = absPath(c.ReportPath); err != nil {
		result = multierror.Append(result, invalid("report_path", err.Error()))
	}
	if err := sku.ValidateExtensions(cfg.Extensions); err != nil {
		result = multierror.Append(result, invalid("extensions", err.Error()))
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		result = multierror.Append(result, invalid("log_format", fmt.Sprintf("%q must be json or text", cfg.LogFormat)))
	}

	if err := cfg.Validate(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return SyncConfig{}, err
	}
	return cfg, nil
}

// Validate checks an already normalized SyncConfig. It has no side effects;
// creating the download directory is the orchestrator's job. Extensions are
// not checked here: the orchestrator validates the list it is handed.
func (c SyncConfig) Validate() error {
	var result *multierror.Error

	if err := ValidateBucketName(c.BucketName); err != nil {
		result = multierror.Append(result, err)
	}
	if c.LocalDownloadPath == "" {
		result = multierror.Append(result, invalid("local_download_path", "is required"))
	} else if !filepath.IsAbs(c.LocalDownloadPath) {
		result = multierror.Append(result, invalid("local_download_path", fmt.Sprintf("%q is not absolute", c.LocalDownloadPath)))
	}
	if err := ValidateRemotePrefix(c.RemotePrefix); err != nil {
		result = multierror.Append(result, err)
	}
	if c.MaxWorkers < MinWorkers || c.MaxWorkers > MaxWorkers {
		result = multierror.Append(result, invalid("max_workers", fmt.Sprintf("%d is outside %d-%d", c.MaxWorkers, MinWorkers, MaxWorkers)))
	}
	if !validLevels[c.LogLevel] {
		result = multierror.Append(result, invalid("log_level", fmt.Sprintf("%q must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL", c.LogLevel)))
	}
	if c.MaxRetries < MinRetries || c.MaxRetries > MaxRetries {
		result = multierror.Append(result, invalid("max_retries", fmt.Sprintf("%d is outside %d-%d", c.MaxRetries, MinRetries, MaxRetries)))
	}
	if c.TaskTimeout < 0 {
		result = multierror.Append(result, invalid("task_timeout", "must not be negative"))
	}
	if c.BackoffUnit <= 0 {
		result = multierror.Append(result, invalid("backoff_unit", "must be positive"))
	}

	return result.ErrorOrNil()
}

// ValidateBucketName applies the S3 bucket naming rules used by skusync.
func ValidateBucketName(name string) error {
	if name == "" {
		return invalid("bucket_name", "is required")
	}
	if len(name) < MinBucketNameLength || len(name) > MaxBucketNameLength {
		return invalid("bucket_name", fmt.Sprintf("%q must be %d-%d characters", name, MinBucketNameLength, MaxBucketNameLength))
	}
	if !bucketNamePattern.MatchString(name) {
		return invalid("bucket_name", fmt.Sprintf("%q must match %s", name, bucketNamePattern))
	}
	return nil
}

// ValidateRemotePrefix checks a normalized key prefix.
func ValidateRemotePrefix(prefix string) error {
	if strings.Contains(prefix, "..") {
		return invalid("remote_prefix", fmt.Sprintf("%q must not contain \"..\"", prefix))
	}
	if !remotePrefixPattern.MatchString(prefix) {
		return invalid("remote_prefix", fmt.Sprintf("%q must match %s", prefix, remotePrefixPattern))
	}
	return nil
}

// NormalizePrefix trims the prefix and makes sure a non-empty one ends with "/".
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		out = append(out, ext)
	}
	return out
}

// absPath expands "~" and makes p absolute. Empty stays empty.
func absPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}

func invalid(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalid, field, reason)
}

// isConfigNotFound reports whether err means no config file was found.
func isConfigNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
