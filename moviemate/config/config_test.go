package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/moviemate/moviemate"
	"github.com/ZanzyTHEbar/moviemate/moviemate/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	tempDir, err := os.MkdirTemp("", "moviemate-config-test-*")
	require.NoError(suite.T(), err)
	suite.tempDir = tempDir

	// Change to temp directory so the search path finds nothing
	err = os.Chdir(tempDir)
	require.NoError(suite.T(), err)
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
	if suite.tempDir != "" {
		os.RemoveAll(suite.tempDir)
	}
}

func (suite *ConfigTestSuite) writeConfig(content string) string {
	configFile := filepath.Join(suite.tempDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(content), 0o644)
	require.NoError(suite.T(), err)
	return configFile
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultConnectionDir, cfg.Channel.Dir)
	assert.Equal(suite.T(), internal.DefaultRequestSlot, cfg.Channel.RequestSlot)
	assert.Equal(suite.T(), internal.DefaultResponseSlot, cfg.Channel.ResponseSlot)
	assert.Equal(suite.T(), FramingPlain, cfg.Channel.Framing)
	assert.Equal(suite.T(), 3, cfg.Channel.MaxAttempts)
	assert.Equal(suite.T(), 2*time.Second, cfg.Channel.Interval)
	assert.Equal(suite.T(), channel.BackoffConstant, cfg.Channel.Backoff)
	assert.True(suite.T(), cfg.Channel.Watch)
	assert.True(suite.T(), cfg.Channel.Lock)
	assert.False(suite.T(), cfg.Channel.PerSession)

	assert.Equal(suite.T(), BackendFile, cfg.Conversations.Backend)
	assert.Equal(suite.T(), internal.DefaultConversationsDir, cfg.Conversations.Dir)
	assert.Equal(suite.T(), internal.DefaultPointerFile, cfg.Conversations.PointerFile)
	assert.Equal(suite.T(), internal.DefaultConversationName, cfg.Conversations.DefaultName)

	assert.Equal(suite.T(), "info", cfg.Logging.Level)
	assert.Equal(suite.T(), "console", cfg.Logging.Format)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configFile := suite.writeConfig(`
channel:
  dir: "./slots"
  framing: "envelope"
  max_attempts: 5
  interval: "250ms"
  backoff: "exponential"
  watch: false
conversations:
  backend: "libsql"
  database:
    dsn: "file:test.db"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := LoadConfig(configFile)

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), "./slots", cfg.Channel.Dir)
	assert.Equal(suite.T(), FramingEnvelope, cfg.Channel.Framing)
	assert.Equal(suite.T(), 5, cfg.Channel.MaxAttempts)
	assert.Equal(suite.T(), 250*time.Millisecond, cfg.Channel.Interval)
	assert.Equal(suite.T(), channel.BackoffExponential, cfg.Channel.Backoff)
	assert.False(suite.T(), cfg.Channel.Watch)
	assert.Equal(suite.T(), BackendLibSQL, cfg.Conversations.Backend)
	assert.Equal(suite.T(), "file:test.db", cfg.Conversations.Database.DSN)
	assert.Equal(suite.T(), "debug", cfg.Logging.Level)

	// Untouched keys keep their defaults
	assert.Equal(suite.T(), internal.DefaultRequestSlot, cfg.Channel.RequestSlot)
	assert.Equal(suite.T(), internal.DefaultConversationName, cfg.Conversations.DefaultName)
}

func (suite *ConfigTestSuite) TestLoadConfigEnvOverride() {
	suite.T().Setenv("MOVIEMATE_CHANNEL_MAX_ATTEMPTS", "7")
	suite.T().Setenv("MOVIEMATE_CONVERSATIONS_DEFAULT_NAME", "chathistory_9.txt")

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 7, cfg.Channel.MaxAttempts)
	assert.Equal(suite.T(), "chathistory_9.txt", cfg.Conversations.DefaultName)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	// An explicit path that does not exist is an error
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	configFile := suite.writeConfig(`
channel:
  dir: "./slots"
  max_attempts: [unclosed
`)

	cfg, err := LoadConfig(configFile)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigRejectsInvalidValues() {
	cases := map[string]string{
		"zero attempts":   "channel:\n  max_attempts: 0\n",
		"bad framing":     "channel:\n  framing: \"xml\"\n",
		"bad backoff":     "channel:\n  backoff: \"random\"\n",
		"same slots":      "channel:\n  request_slot: \"a.txt\"\n  response_slot: \"a.txt\"\n",
		"bad backend":     "conversations:\n  backend: \"mongo\"\n",
		"bad log format":  "logging:\n  format: \"xml\"\n",
		"negative period": "channel:\n  interval: \"-1s\"\n",
	}

	for name, content := range cases {
		suite.Run(name, func() {
			cfg, err := LoadConfig(suite.writeConfig(content))
			assert.Error(suite.T(), err)
			assert.Nil(suite.T(), cfg)
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, internal.DefaultMaxAttempts, cfg.Channel.MaxAttempts)
	assert.Equal(t, internal.DefaultInterval, cfg.Channel.Interval)
	assert.Equal(t, internal.DefaultLockTimeout, cfg.Channel.LockTimeout)
	assert.True(t, cfg.Channel.DiscardStale)
}
