package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "https://api.telegram.org", cfg.BotAPIBaseURL)
	assert.Equal(t, "youtube", cfg.DefaultService)
	assert.Equal(t, 10, cfg.MaxQueueSize)
	assert.Equal(t, int64(400*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, 45*time.Second, cfg.IdleSweepInterval)
	assert.Equal(t, 15*time.Second, cfg.IdleGracePeriod)
	assert.Equal(t, 3, cfg.MembershipSweepAt)
	assert.True(t, cfg.AutoLeave)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SESSION_STRINGS", "aaa, bbb ,,ccc")
	t.Setenv("MAX_QUEUE_SIZE", "25")
	t.Setenv("IDLE_SWEEP_INTERVAL", "90s")
	t.Setenv("AUTO_LEAVE", "false")

	cfg := Load()
	assert.Equal(t, []string{"aaa", "bbb", "ccc"}, cfg.SessionStrings)
	assert.Equal(t, 25, cfg.MaxQueueSize)
	assert.Equal(t, 90*time.Second, cfg.IdleSweepInterval)
	assert.False(t, cfg.AutoLeave)
}

func TestValidate(t *testing.T) {
	cfg := &Config{DownloadsDir: filepath.Join(t.TempDir(), "music")}
	assert.ErrorContains(t, cfg.Validate(), "BOT_TOKEN")

	cfg.BotToken = "123:abc"
	assert.ErrorContains(t, cfg.Validate(), "SESSION_STRINGS")

	cfg.SessionStrings = []string{"s1"}
	require.NoError(t, cfg.Validate())
	assert.DirExists(t, cfg.DownloadsDir)
}
