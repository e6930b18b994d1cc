package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 3, cfg.Delivery.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Delivery.Timeout)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 25 * time.Second}, cfg.Delivery.Backoff)
	assert.Equal(t, "platform.events", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Webhooks.Secrets.Stripe)
	// breaker off: defaults keep the plain 3-attempt schedule
	assert.Zero(t, cfg.Delivery.Breaker.FailThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Delivery.Breaker.MaxWait)
}

func TestLoad_SecretEnv(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET_STRIPE", "whsec_test")
	t.Setenv("WEBHOOK_SECRET_GITHUB", "gh-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "whsec_test", cfg.Webhooks.Secrets.Stripe)
	assert.Equal(t, "gh-secret", cfg.Webhooks.Secrets.GitHub)
	assert.Empty(t, cfg.Webhooks.Secrets.Generic)
}

func TestLoad_PrefixedEnvOverride(t *testing.T) {
	t.Setenv("HOOKGW_HTTP_ADDR", ":9999")
	t.Setenv("HOOKGW_DELIVERY_MAX_ATTEMPTS", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 5, cfg.Delivery.MaxAttempts)
}

func TestLoad_FileMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte("delivery:\n  user_agent: \"Acme/2.0\"\nadmin:\n  api_keys: [\"k1\", \"k2\"]\n"), 0o600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Acme/2.0", cfg.Delivery.UserAgent)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Admin.APIKeys)
	// untouched keys keep their defaults
	assert.Equal(t, 3, cfg.Delivery.MaxAttempts)
}
