package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config is the on-disk configuration for surfacerec. Recording fields hold
// the caller-level overrides; zero FPS/Bitrate mean "use the preset".
type Config struct {
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file,omitempty"`

	FFmpegPath string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`

	Format     string `mapstructure:"format" yaml:"format"`
	Preset     string `mapstructure:"preset" yaml:"preset"`
	DurationMs int    `mapstructure:"duration_ms" yaml:"duration_ms"`
	FPS        int    `mapstructure:"fps" yaml:"fps,omitempty"`
	Bitrate    int    `mapstructure:"bitrate" yaml:"bitrate,omitempty"`

	DeliveryWorkers   int `mapstructure:"delivery_workers" yaml:"delivery_workers"`
	DeliveryQueueSize int `mapstructure:"delivery_queue_size" yaml:"delivery_queue_size"`

	Sink  SinkConfig  `mapstructure:"sink" yaml:"sink"`
	Panel PanelConfig `mapstructure:"panel" yaml:"panel"`
}

// SinkConfig selects where finished recordings are delivered.
type SinkConfig struct {
	Type string `mapstructure:"type" yaml:"type"` // local, s3, gcs, azure, b2

	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`

	Bucket   string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Region   string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty"`

	ConnectionString string `mapstructure:"connection_string" yaml:"connection_string,omitempty"`
	Container        string `mapstructure:"container" yaml:"container,omitempty"`

	AccountID      string `mapstructure:"account_id" yaml:"account_id,omitempty"`
	ApplicationKey string `mapstructure:"application_key" yaml:"application_key,omitempty"`

	// Retries is how often a failed delivery is retried; 0 disables retry.
	Retries int `mapstructure:"retries" yaml:"retries"`
}

// PanelConfig configures the control panel. Hidden is read once when the
// panel is constructed and suppresses it entirely.
type PanelConfig struct {
	Hidden             bool   `mapstructure:"hidden" yaml:"hidden"`
	Listen             string `mapstructure:"listen" yaml:"listen"`
	RevokeAfterSeconds int    `mapstructure:"revoke_after_seconds" yaml:"revoke_after_seconds"`
}

func Default() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		FFmpegPath:        "ffmpeg",
		Format:            "webm",
		Preset:            "default",
		DurationMs:        5000,
		DeliveryWorkers:   2,
		DeliveryQueueSize: 16,
		Sink: SinkConfig{
			Type:    "local",
			Dir:     defaultOutputDir(),
			Retries: 3,
		},
		Panel: PanelConfig{
			Listen:             "127.0.0.1:7878",
			RevokeAfterSeconds: 5,
		},
	}
}

// Load reads the config file (explicit path, or surfacerec.yaml in the
// config dir / working dir) and applies SURFACEREC_* environment overrides.
// A missing config file is not an error.
func Load(cfgFile string) (*Config, error) {
	v := newViper()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("surfacerec")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveTo writes cfg as YAML. An empty path writes to the default location.
func SaveTo(cfg *Config, cfgFile string) (string, error) {
	v := viper.New()
	for key, value := range flatten(cfg) {
		v.Set(key, value)
	}

	path := cfgFile
	if path == "" {
		path = filepath.Join(configDir(), "surfacerec.yaml")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", err
		}
	}
	if err := v.WriteConfigAs(path); err != nil {
		return "", err
	}

	// May hold cloud credentials.
	return path, os.Chmod(path, 0o600)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SURFACEREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can see it during Unmarshal.
	for key, value := range flatten(Default()) {
		v.SetDefault(key, value)
	}
	return v
}

func flatten(cfg *Config) map[string]any {
	return map[string]any{
		"log_level":                  cfg.LogLevel,
		"log_format":                 cfg.LogFormat,
		"log_file":                   cfg.LogFile,
		"ffmpeg_path":                cfg.FFmpegPath,
		"format":                     cfg.Format,
		"preset":                     cfg.Preset,
		"duration_ms":                cfg.DurationMs,
		"fps":                        cfg.FPS,
		"bitrate":                    cfg.Bitrate,
		"delivery_workers":           cfg.DeliveryWorkers,
		"delivery_queue_size":        cfg.DeliveryQueueSize,
		"sink.type":                  cfg.Sink.Type,
		"sink.dir":                   cfg.Sink.Dir,
		"sink.bucket":                cfg.Sink.Bucket,
		"sink.prefix":                cfg.Sink.Prefix,
		"sink.region":                cfg.Sink.Region,
		"sink.endpoint":              cfg.Sink.Endpoint,
		"sink.access_key_id":         cfg.Sink.AccessKeyID,
		"sink.secret_access_key":     cfg.Sink.SecretAccessKey,
		"sink.credentials_file":      cfg.Sink.CredentialsFile,
		"sink.connection_string":     cfg.Sink.ConnectionString,
		"sink.container":             cfg.Sink.Container,
		"sink.account_id":            cfg.Sink.AccountID,
		"sink.application_key":       cfg.Sink.ApplicationKey,
		"sink.retries":               cfg.Sink.Retries,
		"panel.hidden":               cfg.Panel.Hidden,
		"panel.listen":               cfg.Panel.Listen,
		"panel.revoke_after_seconds": cfg.Panel.RevokeAfterSeconds,
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze", "surfacerec")
	case "darwin":
		return "/Library/Application Support/Breeze/surfacerec"
	default:
		if dir, err := os.UserConfigDir(); err == nil {
			return filepath.Join(dir, "surfacerec")
		}
		return "/etc/surfacerec"
	}
}

func defaultOutputDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Videos", "surfacerec")
	}
	return filepath.Join(os.TempDir(), "surfacerec")
}
