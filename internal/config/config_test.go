package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir changes into dir for the duration of the test, like t.Chdir
// (which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		require.NoError(t, os.Chdir(old))
	})
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir()) // no config.yaml present

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://portal.fis.tum.de/en/publications/", cfg.Portal.BaseURL)
	assert.Equal(t, 1000, cfg.Portal.DelayMS)
	assert.Equal(t, 50, cfg.Portal.MaxPages)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.False(t, cfg.Store.AllowUnscored)
	assert.InDelta(t, 7.0, cfg.Score.Threshold, 1e-9)
	assert.False(t, cfg.Notify.Slack.Enabled)
	assert.False(t, cfg.Notify.Email.Enabled)
	assert.Equal(t, 840, cfg.Run.BudgetSecs)
	assert.Equal(t, 5, cfg.Run.StoreFailureLimit)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PUBSCOUT_SCORE_THRESHOLD", "8.5")
	t.Setenv("PUBSCOUT_NOTIFY_SLACK_ENABLED", "true")
	t.Setenv("PUBSCOUT_STORE_DRIVER", "postgres")
	t.Setenv("PUBSCOUT_OPENAI_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 8.5, cfg.Score.Threshold, 1e-9)
	assert.True(t, cfg.Notify.Slack.Enabled)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "sk-test", cfg.OpenAI.Key)
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}

func TestInitLogger_Console(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
}
