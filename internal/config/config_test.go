package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  url: "file:test.db"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Port != "8080" || cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Booking.TransitionPolicy != "permissive" || cfg.Booking.MeetingDomain != "meet.jit.si" {
		t.Errorf("booking = %+v", cfg.Booking)
	}
	if cfg.Fraud.SeverityWeights["high"] != 90 || cfg.Fraud.DefaultWeight != 0.2 || cfg.Fraud.ReviewThreshold != 60 {
		t.Errorf("fraud = %+v", cfg.Fraud)
	}
	if cfg.Chat.PollInterval != 3*time.Second || cfg.Chat.Lookback != 5*time.Minute || cfg.Chat.MaxLimit != 200 {
		t.Errorf("chat = %+v", cfg.Chat)
	}
	if cfg.Gdpr.AuditCompletion {
		t.Error("gdpr.audit_completion defaults to true, want false")
	}
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
  url: "postgres://${DB_USER}@localhost/booklessons"
booking:
  transition_policy: permissive
`)
	t.Setenv("DB_USER", "tutor")
	t.Setenv("BOOKLESSONS_BOOKING_TRANSITION_POLICY", "strict")
	t.Setenv("BOOKLESSONS_CHAT_POLL_INTERVAL", "750ms")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.URL != "postgres://tutor@localhost/booklessons" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.Booking.TransitionPolicy != "strict" {
		t.Errorf("transition policy = %q, want strict", cfg.Booking.TransitionPolicy)
	}
	if cfg.Chat.PollInterval != 750*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.Chat.PollInterval)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"unknown driver": `
database:
  driver: mysql
  url: "x"
`,
		"missing url": `
database:
  driver: sqlite
`,
		"unknown policy": `
database:
  driver: sqlite
  url: "file:x.db"
booking:
  transition_policy: lenient
`,
		"auth without secret": `
database:
  driver: sqlite
  url: "file:x.db"
auth:
  enabled: true
`,
		"bot without token": `
database:
  driver: sqlite
  url: "file:x.db"
review_bot:
  enabled: true
  chat_id: 12
`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, body)); err == nil {
				t.Error("LoadConfig succeeded, want error")
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("LoadConfig of a missing file succeeded")
	}
}

func TestShippedConfigLoads(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "config.yml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
}
