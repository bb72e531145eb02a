package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetenv(t, "ENV", "PORT", "JWT_SECRET", "WALLET_PARTNER_CODE", "WALLET_SECRET_KEY",
		"OUTBOX_RELAY_INTERVAL", "OUTBOX_RELAY_BATCH")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DefaultJWTSecret, cfg.Auth.JWTSecret)
	assert.False(t, cfg.Wallet.Enabled())
	assert.Equal(t, time.Second, cfg.Business.OutboxInterval)
	assert.Equal(t, 100, cfg.Business.OutboxBatch)
}

func TestLoadRejectsDefaultSecretInProduction(t *testing.T) {
	t.Setenv("ENV", "production")

	t.Setenv("JWT_SECRET", DefaultJWTSecret)
	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "a-real-secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "a-real-secret", cfg.Auth.JWTSecret)
}

func TestLoadRejectsNegativeShippingFee(t *testing.T) {
	t.Setenv("SHIPPING_FEE", "-1")
	_, err := Load()
	assert.Error(t, err)
}
