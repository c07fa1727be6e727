package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Reaper   ReaperConfig   `yaml:"reaper"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Name           string   `yaml:"name"`
	Host           string   `yaml:"host" env:"MEDIHAN_HOST"`
	Port           int      `yaml:"port" env:"MEDIHAN_PORT"`
	BaseURL        string   `yaml:"base_url" env:"MEDIHAN_BASE_URL"`
	SecureCookies  bool     `yaml:"secure_cookies" env:"MEDIHAN_SECURE_COOKIES"`
	TrustedOrigins []string `yaml:"trusted_origins"`
	// Where the OAuth callback sends the browser after login and when
	// onboarding is needed. Relative paths resolve against BaseURL.
	SuccessPath    string `yaml:"success_path"`
	OnboardingPath string `yaml:"onboarding_path"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"MEDIHAN_DB_DRIVER"`
	Path   string `yaml:"path" env:"MEDIHAN_DB_PATH"`
	DSN    string `yaml:"dsn" env:"MEDIHAN_DB_DSN"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type AuthConfig struct {
	AccessSecret     string        `yaml:"access_secret" env:"MEDIHAN_ACCESS_SECRET"`
	RefreshSecret    string        `yaml:"refresh_secret" env:"MEDIHAN_REFRESH_SECRET"`
	SessionSecret    string        `yaml:"session_secret" env:"MEDIHAN_SESSION_SECRET"`
	AccessTokenTTL   time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL  time.Duration `yaml:"refresh_token_ttl"`
	TempSessionTTL   time.Duration `yaml:"temp_session_ttl"`
	LegacySessionTTL time.Duration `yaml:"legacy_session_ttl"`
}

type ReaperConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Retention  time.Duration `yaml:"retention"`
	BatchSize  int           `yaml:"batch_size"`
	CronSecret string        `yaml:"cron_secret" env:"MEDIHAN_CRON_SECRET"`
	Disabled   bool          `yaml:"disabled" env:"MEDIHAN_REAPER_DISABLED"`
}

type OAuthConfig struct {
	Kakao ProviderConfig `yaml:"kakao" envPrefix:"MEDIHAN_KAKAO_"`
	Naver ProviderConfig `yaml:"naver" envPrefix:"MEDIHAN_NAVER_"`
}

type ProviderConfig struct {
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURL  string `yaml:"redirect_url" env:"REDIRECT_URL"`
}

// Enabled reports whether the provider has credentials configured.
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != ""
}

type MetricsConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"MEDIHAN_LOG_LEVEL"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// applyEnvOverrides replaces fields whose MEDIHAN_* variable is set. Unset
// variables leave the YAML value alone.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parsing environment overrides: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	secrets := []struct {
		name  string
		value string
	}{
		{"auth.access_secret", c.Auth.AccessSecret},
		{"auth.refresh_secret", c.Auth.RefreshSecret},
		{"auth.session_secret", c.Auth.SessionSecret},
	}
	for _, s := range secrets {
		if s.value == "" {
			return fmt.Errorf("%s is required", s.name)
		}
		if len(s.value) < 32 {
			return fmt.Errorf("%s must be at least 32 characters", s.name)
		}
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return fmt.Errorf("auth.access_secret and auth.refresh_secret must differ")
	}

	switch c.Database.Driver {
	case "", DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}

	if c.Reaper.CronSecret != "" && len(c.Reaper.CronSecret) < 16 {
		return fmt.Errorf("reaper.cron_secret must be at least 16 characters")
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Name == "" {
		c.Server.Name = "Medihan"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Server.SuccessPath == "" {
		c.Server.SuccessPath = "/auth/success"
	}
	if c.Server.OnboardingPath == "" {
		c.Server.OnboardingPath = "/onboarding/profile"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/medihan.db"
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 30 * time.Minute
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = 14 * 24 * time.Hour
	}
	if c.Auth.TempSessionTTL == 0 {
		c.Auth.TempSessionTTL = 24 * time.Hour
	}
	if c.Auth.LegacySessionTTL == 0 {
		c.Auth.LegacySessionTTL = 7 * 24 * time.Hour
	}
	if c.Reaper.Interval == 0 {
		c.Reaper.Interval = time.Hour
	}
	if c.Reaper.Retention == 0 {
		c.Reaper.Retention = 24 * time.Hour
	}
	if c.Reaper.BatchSize == 0 {
		c.Reaper.BatchSize = 100
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.OAuth.Kakao.RedirectURL == "" {
		c.OAuth.Kakao.RedirectURL = c.Server.BaseURL + "/api/v1/auth/kakao/callback"
	}
	if c.OAuth.Naver.RedirectURL == "" {
		c.OAuth.Naver.RedirectURL = c.Server.BaseURL + "/api/v1/auth/naver/callback"
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LogLevel returns the configured slog level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	level, _ := parseLevel(c.Log.Level)
	return level
}

func parseLevel(raw string) (slog.Level, error) {
	if raw == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q is invalid", raw)
	}
	return level, nil
}
