package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sagarc03/stowdrive/database"
	drivehttp "github.com/sagarc03/stowdrive/http"
	"github.com/sagarc03/stowdrive/s3store"
)

// configKey is the context key for storing the loaded configuration.
type configKey struct{}

// WithContext returns a new context with the config stored.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config from context.
// Returns an error if config is not found.
func FromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not found in context")
	}
	return cfg, nil
}

// Config is the root configuration struct for stowdrive.
type Config struct {
	Env        string               `mapstructure:"env" validate:"required,oneof=dev prod"`
	Server     ServerConfig         `mapstructure:"server"`
	Auth       AuthConfig           `mapstructure:"auth"`
	Store      StoreConfig          `mapstructure:"store"`
	Shares     SharesConfig         `mapstructure:"shares"`
	Thumbnails ThumbnailsConfig     `mapstructure:"thumbnails"`
	Gateway    GatewayConfig        `mapstructure:"gateway"`
	CORS       drivehttp.CORSConfig `mapstructure:"cors"`
	Log        LogConfig            `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port      int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	BasePath  string `mapstructure:"base_path" validate:"required,startswith=/"`
	SharePath string `mapstructure:"share_path" validate:"required,startswith=/,nefield=BasePath"`
	// PublicURL is the origin clients and the resizer reach the server at.
	PublicURL       string `mapstructure:"public_url" validate:"omitempty,url"`
	MaxUploadSize   int64  `mapstructure:"max_upload_size" validate:"min=0"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" validate:"min=1"`
}

// AuthConfig holds the direct credential and the capability secret.
type AuthConfig struct {
	Username string `mapstructure:"username" validate:"required_with=Password"`
	Password string `mapstructure:"password" validate:"required_with=Username"`
	Secret   string `mapstructure:"secret"`
}

// Enabled reports whether any authentication method is configured.
func (a AuthConfig) Enabled() bool {
	return a.Username != "" || a.Secret != ""
}

// StoreConfig selects the object store.
type StoreConfig struct {
	Type string         `mapstructure:"type" validate:"required,oneof=filesystem s3"`
	Path string         `mapstructure:"path" validate:"required_if=Type filesystem"`
	S3   s3store.Config `mapstructure:"s3"`
}

// SharesConfig selects the share backend.
type SharesConfig struct {
	database.Config `mapstructure:",squash"`
	// MaintenanceSchedule is a cron spec for purging expired shares.
	// Empty disables it.
	MaintenanceSchedule string `mapstructure:"maintenance_schedule"`
}

// ThumbnailsConfig holds the thumbnail pipeline configuration.
type ThumbnailsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ResizeURL    string `mapstructure:"resize_url" validate:"omitempty,url"`
	ResizeToken  string `mapstructure:"resize_token"`
	MarkerHeader string `mapstructure:"marker_header"`
	Width        int    `mapstructure:"width" validate:"min=0"`
	Height       int    `mapstructure:"height" validate:"min=0"`
	// SourceBaseURL is the public URL of the store. Empty makes the
	// resizer read through signed gateway URLs.
	SourceBaseURL string        `mapstructure:"source_base_url" validate:"omitempty,url"`
	SignedURLTTL  time.Duration `mapstructure:"signed_url_ttl"`
	Concurrency   int           `mapstructure:"concurrency" validate:"min=0"`
	// Schedule is a cron spec for a full thumbnail pass. Empty disables it.
	Schedule string `mapstructure:"schedule"`
}

// GatewayConfig bounds recursive operations.
type GatewayConfig struct {
	CopyConcurrency   int     `mapstructure:"copy_concurrency" validate:"min=1"`
	DeleteConcurrency int     `mapstructure:"delete_concurrency" validate:"min=1"`
	DeleteRate        float64 `mapstructure:"delete_rate" validate:"min=0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// flagToViperKey maps CLI flag names to viper configuration keys.
var flagToViperKey = map[string]string{
	"db-type":    "shares.type",
	"db-dsn":     "shares.dsn",
	"store-type": "store.type",
	"store-path": "store.path",
	"port":       "server.port",
	"base-path":  "server.base_path",
	"public-url": "server.public_url",
}

// bindFlags binds CLI flags to viper keys with custom name mapping.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		// Use custom mapping if it exists, otherwise use flag name as-is
		viperKey := f.Name
		if mapped, ok := flagToViperKey[viperKey]; ok {
			viperKey = mapped
		}

		// Only bind if the flag was explicitly set
		if f.Changed {
			_ = v.BindPFlag(viperKey, f)
		}
	})
}

// setDefaults configures default values on the viper instance. Every key
// needs a default so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")

	v.SetDefault("server.port", 5708)
	v.SetDefault("server.base_path", "/dav")
	v.SetDefault("server.share_path", "/s")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.max_upload_size", 0) // 0 means no limit
	v.SetDefault("server.shutdown_timeout", 30) // seconds

	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.secret", "")

	v.SetDefault("store.type", "filesystem")
	v.SetDefault("store.path", "./data")
	v.SetDefault("store.s3.bucket", "")
	v.SetDefault("store.s3.region", "")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.s3.access_key_id", "")
	v.SetDefault("store.s3.secret_access_key", "")
	v.SetDefault("store.s3.key_prefix", "")
	v.SetDefault("store.s3.max_retries", 5)

	v.SetDefault("shares.type", "sqlite")
	v.SetDefault("shares.dsn", "stowdrive.db")
	v.SetDefault("shares.table", "stowdrive_shares")
	v.SetDefault("shares.maintenance_schedule", "@hourly")

	v.SetDefault("thumbnails.enabled", false)
	v.SetDefault("thumbnails.resize_url", "")
	v.SetDefault("thumbnails.resize_token", "")
	v.SetDefault("thumbnails.marker_header", "X-Resized")
	v.SetDefault("thumbnails.width", 256)
	v.SetDefault("thumbnails.height", 256)
	v.SetDefault("thumbnails.source_base_url", "")
	v.SetDefault("thumbnails.signed_url_ttl", "5m")
	v.SetDefault("thumbnails.concurrency", 2)
	v.SetDefault("thumbnails.schedule", "")

	v.SetDefault("gateway.copy_concurrency", 5)
	v.SetDefault("gateway.delete_concurrency", 4)
	v.SetDefault("gateway.delete_rate", 0)

	v.SetDefault("cors.enabled", false)

	v.SetDefault("log.level", "info")
}

// validateStore checks the fields a store type needs that struct tags
// cannot express across the nested s3 block.
func validateStore(sl validator.StructLevel) {
	store, _ := sl.Current().Interface().(StoreConfig)
	if store.Type != "s3" {
		return
	}
	if store.S3.Bucket == "" {
		sl.ReportError(store.S3.Bucket, "S3.Bucket", "Bucket", "required_if", "s3")
	}
	if store.S3.Region == "" {
		sl.ReportError(store.S3.Region, "S3.Region", "Region", "required_if", "s3")
	}
}

// validateThumbnails checks an enabled pipeline has a resizer, a size and
// either a public store URL or a public server URL the resizer can fetch
// signed sources from.
func validateThumbnails(sl validator.StructLevel) {
	cfg, _ := sl.Current().Interface().(Config)
	thumbs := cfg.Thumbnails
	if !thumbs.Enabled {
		return
	}
	if thumbs.ResizeURL == "" {
		sl.ReportError(thumbs.ResizeURL, "Thumbnails.ResizeURL", "ResizeURL", "required_if", "Enabled")
	}
	if thumbs.Width == 0 && thumbs.Height == 0 {
		sl.ReportError(thumbs.Width, "Thumbnails.Width", "Width", "required_without", "Height")
	}
	if thumbs.SourceBaseURL == "" && (cfg.Server.PublicURL == "" || cfg.Auth.Secret == "") {
		sl.ReportError(thumbs.SourceBaseURL, "Thumbnails.SourceBaseURL", "SourceBaseURL", "required_without_signing", "")
	}
}

// Load reads configuration and returns a validated Config struct.
// Order of precedence (highest to lowest): flags > env > config files > defaults
//
// Parameters:
//   - configFiles: list of config file paths (later files override earlier ones)
//   - flags: cobra flag set for flag binding (can be nil)
func Load(configFiles []string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Read config files
	if len(configFiles) > 0 {
		v.SetConfigFile(configFiles[0])
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("error reading config file", "file", configFiles[0], "err", err)
		}

		for _, cf := range configFiles[1:] {
			v.SetConfigFile(cf)
			if err := v.MergeInConfig(); err != nil {
				slog.Warn("error merging config file", "file", cf, "err", err)
			}
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				slog.Warn("error reading config file", "err", err)
			}
		}
	}

	// 3. Bind environment variables
	v.SetEnvPrefix("STOWDRIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Bind flags (if provided)
	if flags != nil {
		bindFlags(v, flags)
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 6. Validate using go-playground/validator
	validate := validator.New()
	validate.RegisterStructValidation(validateStore, StoreConfig{})
	validate.RegisterStructValidation(validateThumbnails, Config{})
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
