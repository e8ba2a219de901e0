package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 24*time.Hour, cfg.PendingOrderTTL)
	rate, err := cfg.Fee()
	require.NoError(t, err)
	assert.Equal(t, "0.1", rate.String())
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	for _, v := range []string{"", "   "} {
		t.Setenv("JWT_SECRET", v)
		_, err := Load()
		assert.EqualError(t, err, "JWT_SECRET must be set", "%q", v)
	}
}

func TestLoadRejectsBadFeeRate(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	for _, v := range []string{"abc", "-0.1", "1"} {
		t.Setenv("MARKETPLACE_FEE_RATE", v)
		_, err := Load()
		assert.Error(t, err, v)
	}
}

func TestBrokers(t *testing.T) {
	cfg := Config{KafkaBrokers: " k1:9092, ,k2:9092 "}
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
}
