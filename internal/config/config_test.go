package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("QCHAIN_SESSION_FILE", "/tmp/qchain-test.json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.HashServiceURL)
	assert.Equal(t, 30*time.Second, cfg.HashTimeout)
	assert.Equal(t, 10, cfg.ConfirmationRounds)
	assert.Equal(t, "/tmp/qchain-test.json", cfg.SessionFile)
	assert.False(t, cfg.AutoApprove)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("QCHAIN_DEFAULT_NETWORK", "algorand-testnet")
	t.Setenv("QCHAIN_HASH_SERVICE_URL", "https://hash.example")
	t.Setenv("QCHAIN_HASH_TIMEOUT", "5s")
	t.Setenv("QCHAIN_CONFIRMATION_ROUNDS", "20")
	t.Setenv("QCHAIN_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("QCHAIN_AUTO_APPROVE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "algorand-testnet", cfg.DefaultNetwork)
	assert.Equal(t, "https://hash.example", cfg.HashServiceURL)
	assert.Equal(t, 5*time.Second, cfg.HashTimeout)
	assert.Equal(t, 20, cfg.ConfirmationRounds)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.True(t, cfg.AutoApprove)
	assert.NotEmpty(t, cfg.SessionFile)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"non-numeric rounds", map[string]string{"QCHAIN_CONFIRMATION_ROUNDS": "ten"}},
		{"zero rounds", map[string]string{"QCHAIN_CONFIRMATION_ROUNDS": "0"}},
		{"negative timeout", map[string]string{"QCHAIN_HASH_TIMEOUT": "-1s"}},
		{"both evm secrets", map[string]string{
			"QCHAIN_EVM_MNEMONIC":    "abandon abandon",
			"QCHAIN_EVM_PRIVATE_KEY": "0x01",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
