package cmdrunner

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	c, err := LoadConfig("./testdata/config.toml")
	require.NoError(t, err, "Error loading config")

	assert.Equal(t, "test-token", c.Token)
	assert.Equal(t, "?", c.CommandPrefix)
	assert.Equal(t, 20*time.Second, c.ResponseTimeout.Duration)
	assert.Equal(t, time.Second, c.DispatchPauseMin.Duration)
	assert.Equal(t, "*/10 * * * *", c.CleanupSchedule)
	// Unset keys keep their defaults.
	assert.Equal(t, 30*time.Second, c.PendingMaxAge.Duration)
	assert.Equal(t, 120*time.Second, c.EditReplyTTL.Duration)
}

func TestLoadConfigExample(t *testing.T) {
	_, err := LoadConfig("./config.example.toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Token")
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	base := DefaultConfig()
	base.Token = "t"
	require.NoError(t, base.Validate())

	for name, mutate := range map[string]func(c *Config){
		"no prefix":       func(c *Config) { c.CommandPrefix = "" },
		"no data dir":     func(c *Config) { c.DataDir = "" },
		"zero timeout":    func(c *Config) { c.ResponseTimeout = Duration{} },
		"inverted pause":  func(c *Config) { c.DispatchPauseMin = Duration{10 * time.Second} },
		"negative typing": func(c *Config) { c.TypingMin = Duration{-time.Second} },
		"bad schedule":    func(c *Config) { c.CleanupSchedule = "whenever" },
	} {
		c := base
		mutate(&c)
		assert.Error(t, c.Validate(), name)
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestCreateSession(t *testing.T) {
	s, err := newSession("test", zerolog.Nop())
	require.NoError(t, err, "Error creating session")
	assert.NotEmpty(t, s.SessionID())
	assert.Empty(t, s.SelfID())
}
