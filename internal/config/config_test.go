package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Messaging.SMSMaxLength != 612 {
		t.Errorf("sms_max_length = %d, want 612", cfg.Messaging.SMSMaxLength)
	}
	if cfg.ClickSend.FromName != "Smart Doc Chaser" {
		t.Errorf("from_name = %q", cfg.ClickSend.FromName)
	}
	if cfg.ClickSend.Timeout != 15*time.Second {
		t.Errorf("timeout = %v, want 15s", cfg.ClickSend.Timeout)
	}
	if cfg.Reminders.Interval != 0 {
		t.Errorf("interval = %v, want 0", cfg.Reminders.Interval)
	}
	if cfg.Reminders.Concurrency != 4 {
		t.Errorf("concurrency = %d, want 4", cfg.Reminders.Concurrency)
	}
	if cfg.Broker.HasChannel() {
		t.Error("expected no broker channel by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("BROKER_PHONE", "+1 555 0100")
	t.Setenv("CLICKSEND_API_KEY", "key-123")
	t.Setenv("CRON_SECRET", "s3cret")
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("REMINDERS_INTERVAL", "15m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.Phone != "+1 555 0100" {
		t.Errorf("broker.phone = %q", cfg.Broker.Phone)
	}
	if cfg.ClickSend.APIKey != "key-123" {
		t.Errorf("clicksend.api_key = %q", cfg.ClickSend.APIKey)
	}
	if cfg.Reminders.Secret != "s3cret" {
		t.Errorf("reminders.secret = %q, want value from CRON_SECRET", cfg.Reminders.Secret)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("database.driver = %q", cfg.Database.Driver)
	}
	if cfg.Reminders.Interval != 15*time.Minute {
		t.Errorf("interval = %v, want 15m", cfg.Reminders.Interval)
	}
	if !cfg.Broker.HasChannel() {
		t.Error("expected broker channel")
	}
}

func TestLoad_File(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "custom.yaml")
	content := []byte(`
app:
  base_url: https://docs.example.com/
broker:
  email: broker@example.com
storage:
  driver: s3
  s3_bucket: uploads
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.App.TrackerURL(); got != "https://docs.example.com/tracker" {
		t.Errorf("TrackerURL = %q", got)
	}
	if cfg.Storage.Driver != "s3" || cfg.Storage.S3Bucket != "uploads" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:  DatabaseConfig{Driver: "memory"},
			Storage:   StorageConfig{Driver: "local", LocalDir: "uploads"},
			Messaging: MessagingConfig{SMSProvider: "clicksend", EmailProvider: "smtp"},
			Reminders: RemindersConfig{Concurrency: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"postgres without url", func(c *Config) { c.Database.Driver = "postgres" }},
		{"unknown database driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Driver = "s3" }},
		{"unknown sms provider", func(c *Config) { c.Messaging.SMSProvider = "twilio" }},
		{"unknown email provider", func(c *Config) { c.Messaging.EmailProvider = "ses" }},
		{"zero concurrency", func(c *Config) { c.Reminders.Concurrency = 0 }},
		{"negative interval", func(c *Config) { c.Reminders.Interval = -time.Second }},
		{"upload limit without burst", func(c *Config) { c.Server.UploadsPerMinute = 6 }},
		{"negative health interval", func(c *Config) { c.Health.Interval = -time.Second }},
		{"kafka without topic", func(c *Config) { c.Kafka.Brokers = []string{"localhost:9092"} }},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("baseline config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}
