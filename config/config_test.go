package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.True(t, cfg.Notifications.Enabled)
	assert.Equal(t, time.Second, cfg.Notifications.PollInterval)
	assert.Equal(t, 0, cfg.Notifications.MaxFailures)
	assert.Equal(t, "emails.txt", cfg.OneTimeEmail.AddressesFile)
	assert.Equal(t, "content.txt", cfg.OneTimeEmail.ContentFile)
	assert.Equal(t, "ulearn.notifier", cfg.Service)
}

func TestLoadConfig_FileAndSecrets(t *testing.T) {
	dir := t.TempDir()
	yml := `
service: notifier-test
notifications:
  enabled: false
  poll_interval: 2s
  max_failures: 10
  workers: 3
email:
  provider: smtp
  sender_email: noreply@example.com
  smtp:
    host: smtp.example.com
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(yml), 0o644))
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("NOTIFIER_DB_PASSWORD", "secret")
	t.Setenv("NOTIFIER_SMTP_PASSWORD", "smtp-secret")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "notifier-test", cfg.Service)
	assert.False(t, cfg.Notifications.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Notifications.PollInterval)
	assert.Equal(t, "secret", cfg.Database.Password)

	ec := cfg.ToEmailConfig()
	assert.Equal(t, "smtp.example.com", ec.SMTPHost)
	assert.Equal(t, "smtp-secret", ec.SMTPPassword)
	assert.Equal(t, 587, ec.SMTPPort)

	dc := cfg.ToDispatcherConfig()
	assert.Equal(t, 3, dc.Workers)
	assert.Equal(t, 10, cfg.Notifications.MaxFailures)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		t.Setenv("CONFIG_FILE", "")
		cfg, err := LoadConfig(t.TempDir())
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Notifications.Lease = time.Second
	assert.ErrorContains(t, cfg.Validate(), "lease")

	cfg = base()
	cfg.Notifications.Storage = "files"
	assert.ErrorContains(t, cfg.Validate(), "storage")

	cfg = base()
	cfg.ChatBot.Enabled = true
	cfg.Redis.URL = ""
	assert.ErrorContains(t, cfg.Validate(), "redis")

	cfg = base()
	cfg.Notifications.Retention = 24 * time.Hour
	cfg.Notifications.CleanupInterval = 0
	assert.ErrorContains(t, cfg.Validate(), "cleanup_interval")

	cfg = base()
	cfg.Email.Provider = "pigeon"
	assert.ErrorContains(t, cfg.Validate(), "email.provider")
}
