package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  port: 9090
  base_url: https://medihan.example.com/
auth:
  access_secret: access-secret-access-secret-0123456789
  refresh_secret: refresh-secret-refresh-secret-0123456789
  session_secret: session-secret-session-secret-0123456789
oauth:
  kakao:
    client_id: kakao-client
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Addr() != "0.0.0.0:9090" {
		t.Fatalf("Addr() = %q, want 0.0.0.0:9090", cfg.Addr())
	}
	if cfg.Server.BaseURL != "https://medihan.example.com" {
		t.Fatalf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Fatalf("Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Auth.AccessTokenTTL != 30*time.Minute || cfg.Auth.RefreshTokenTTL != 14*24*time.Hour {
		t.Fatalf("token TTLs = %v/%v", cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	}
	if cfg.Auth.TempSessionTTL != 24*time.Hour || cfg.Auth.LegacySessionTTL != 7*24*time.Hour {
		t.Fatalf("session TTLs = %v/%v", cfg.Auth.TempSessionTTL, cfg.Auth.LegacySessionTTL)
	}
	if cfg.Reaper.Retention != 24*time.Hour || cfg.Reaper.BatchSize != 100 {
		t.Fatalf("reaper = %+v", cfg.Reaper)
	}
	if !cfg.OAuth.Kakao.Enabled() || cfg.OAuth.Naver.Enabled() {
		t.Fatalf("oauth = %+v", cfg.OAuth)
	}
	if cfg.OAuth.Kakao.RedirectURL != "https://medihan.example.com/api/v1/auth/kakao/callback" {
		t.Fatalf("Kakao.RedirectURL = %q", cfg.OAuth.Kakao.RedirectURL)
	}
	if cfg.LogLevel() != slog.LevelInfo {
		t.Fatalf("LogLevel() = %v, want info", cfg.LogLevel())
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("MEDIHAN_ACCESS_SECRET", "env-access-secret-env-access-secret-01")
	t.Setenv("MEDIHAN_NAVER_CLIENT_ID", "naver-from-env")
	t.Setenv("MEDIHAN_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.AccessSecret != "env-access-secret-env-access-secret-01" {
		t.Fatalf("AccessSecret = %q, want env value", cfg.Auth.AccessSecret)
	}
	if cfg.OAuth.Naver.ClientID != "naver-from-env" {
		t.Fatalf("Naver.ClientID = %q, want env value", cfg.OAuth.Naver.ClientID)
	}
	if cfg.Auth.RefreshSecret != "refresh-secret-refresh-secret-0123456789" {
		t.Fatalf("RefreshSecret = %q, want yaml value", cfg.Auth.RefreshSecret)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Fatalf("LogLevel() = %v, want debug", cfg.LogLevel())
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing secrets",
			yaml:    "server:\n  port: 8080\n",
			wantErr: "auth.access_secret is required",
		},
		{
			name: "short session secret",
			yaml: `
auth:
  access_secret: access-secret-access-secret-0123456789
  refresh_secret: refresh-secret-refresh-secret-0123456789
  session_secret: short
`,
			wantErr: "auth.session_secret must be at least 32 characters",
		},
		{
			name: "shared token secret",
			yaml: `
auth:
  access_secret: same-secret-same-secret-same-secret-01
  refresh_secret: same-secret-same-secret-same-secret-01
  session_secret: session-secret-session-secret-0123456789
`,
			wantErr: "must differ",
		},
		{
			name:    "unknown driver",
			yaml:    validYAML + "database:\n  driver: mysql\n",
			wantErr: "database.driver",
		},
		{
			name:    "postgres without dsn",
			yaml:    validYAML + "database:\n  driver: postgres\n",
			wantErr: "database.dsn is required",
		},
		{
			name:    "bad log level",
			yaml:    validYAML + "log:\n  level: loud\n",
			wantErr: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() error = nil, want error")
	}
}
