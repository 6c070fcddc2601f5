package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, time.Hour, cfg.Approval.ChallengeRetention)
	assert.Equal(t, 5, cfg.Approval.MaxAttempts)
	assert.Equal(t, DeliveryDriverLog, cfg.Delivery.Driver)
	assert.Equal(t, 2, cfg.Notifications.Workers)
	assert.Equal(t, 15*time.Minute, cfg.Storage.SignedURLTTL)
}

func TestLoadRequiresLarkCredentials(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DELIVERY_DRIVER", "lark")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("LARK_APP_ID", "cli_a")
	t.Setenv("LARK_APP_SECRET", "secret")
	t.Setenv("LARK_BASE_URL", " https://open.larksuite.com ")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DeliveryDriverLark, cfg.Delivery.Driver)
	assert.Equal(t, "https://open.larksuite.com", cfg.Delivery.LarkBaseURL)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a, ,b "))
}
