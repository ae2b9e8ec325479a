package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Korivash/Evocore-sub000/evocore"
	"github.com/bwmarrin/discordgo"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t testing.TB, expected slog.Level, actual any) {
	t.Helper()
	levelVar, ok := actual.(*slog.LevelVar)
	require.Truef(t, ok, "expected *slog.LevelVar, got %T", actual)
	assert.Equal(t, expected, levelVar.Level())
}

func TestGetLogLevel(t *testing.T) {
	for _, expect := range []slog.Level{
		slog.LevelDebug,
		slog.LevelInfo,
		slog.LevelWarn,
		slog.LevelError,
	} {
		level, err := getLogLevel(expect.String())
		require.NoError(t, err)
		assert.Equal(t, expect, level)
	}

	_, err := getLogLevel("LOUD")
	require.Error(t, err)
}

func TestLevelToStringHookFunc(t *testing.T) {
	type target struct {
		Level *slog.LevelVar `mapstructure:"level"`
	}
	var out target
	decoder, err := mapstructure.NewDecoder(
		&mapstructure.DecoderConfig{
			Result:     &out,
			DecodeHook: LevelToStringHookFunc(),
		},
	)
	require.NoError(t, err)

	require.NoError(t, decoder.Decode(map[string]any{"level": "ERROR"}))
	require.NotNil(t, out.Level)
	assert.Equal(t, slog.LevelError, out.Level.Level())

	require.Error(t, decoder.Decode(map[string]any{"level": "LOUD"}))
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()

	// Set up the test environment file
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

EVO_DATABASE=/home/foo/evocore.sqlite3
EVO_DATABASE_TYPE=sqlite
EVO_DATABASE_LOG_LEVEL=INFO
EVO_DATABASE_SLOW_THRESHOLD=200ms
EVO_LOG_LEVEL=INFO
EVO_STARTUP_TIMEOUT=30s
EVO_SHUTDOWN_TIMEOUT=60s

# Discord bot config

EVO_DISCORD_TOKEN=your-discord-bot-token
EVO_DISCORD_APPLICATION_ID=your-discord-bot-app-id
EVO_DISCORD_GUILD_ID=
EVO_DISCORD_NOTIFICATION_CHANNEL_ID=chan123
EVO_DISCORD_STARTUP_MESSAGE="I'm here!"
EVO_DISCORD_LOG_LEVEL=WARN
EVO_DISCORD_DISCORDGO_LOG_LEVEL=WARN
EVO_DISCORD_GATEWAY_INTENTS=3243773

# Blizzard / Raider.IO config

EVO_BLIZZARD_CLIENT_ID=blizzard-client-id
EVO_BLIZZARD_CLIENT_SECRET=blizzard-client-secret
EVO_BLIZZARD_REGION=eu
EVO_BLIZZARD_MAX_REQUESTS_PER_SECOND=2.5
EVO_BLIZZARD_LOG_LEVEL=INFO

# OpenAI config

EVO_OPENAI_TOKEN=your-openai-token
EVO_OPENAI_MODEL=gpt-4o
EVO_OPENAI_SESSION_TTL=45m
EVO_OPENAI_SESSION_MAX_TURNS=5
EVO_OPENAI_LOG_LEVEL=INFO

# Leveling / trivia config

EVO_LEVELING_XP_PER_MESSAGE_MIN=10
EVO_LEVELING_XP_PER_MESSAGE_MAX=20
EVO_LEVELING_COOLDOWN=90s
EVO_TRIVIA_REWARD_XP=250

# API server

EVO_API_LISTEN=127.0.0.1:5000
EVO_API_LOG_LEVEL=DEBUG
EVO_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
EVO_API_CORS_ALLOW_CREDENTIALS=true
EVO_API_CORS_MAX_AGE=12h
EVO_API_READ_TIMEOUT=5s
EVO_API_READ_HEADER_TIMEOUT=5s
EVO_API_WRITE_TIMEOUT=10s
EVO_API_IDLE_TIMEOUT=30s
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/evocore.sqlite3", cfg.Database)
	assert.Equal(t, "/home/foo/evocore.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))

	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))

	assert.Equal(
		t,
		200*time.Millisecond,
		viper.GetDuration("database_slow_threshold"),
	)
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))

	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assert.Equal(
		t,
		"your-discord-bot-app-id",
		viper.GetString("discord.application_id"),
	)
	assert.Equal(t, "", viper.GetString("discord.guild_id"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.discordgo_log_level"))
	assert.Equal(t, "I'm here!", viper.GetString("discord.startup_message"))
	assert.Equal(t, 3243773, viper.GetInt("discord.gateway_intents"))

	assert.Equal(t, "blizzard-client-id", viper.GetString("blizzard.client_id"))
	assert.Equal(t, "eu", viper.GetString("blizzard.region"))
	assert.Equal(
		t,
		2.5,
		viper.GetFloat64("blizzard.max_requests_per_second"),
	)

	assert.Equal(t, "your-openai-token", viper.GetString("openai.token"))
	assert.Equal(t, "gpt-4o", viper.GetString("openai.model"))
	assert.Equal(t, 45*time.Minute, viper.GetDuration("openai.session_ttl"))
	assert.Equal(t, 5, viper.GetInt("openai.session_max_turns"))

	assert.Equal(t, 10, viper.GetInt("leveling.xp_per_message_min"))
	assert.Equal(t, 20, viper.GetInt("leveling.xp_per_message_max"))
	assert.Equal(t, 90*time.Second, viper.GetDuration("leveling.cooldown"))
	assert.Equal(t, 250, viper.GetInt("trivia.reward_xp"))

	assert.Equal(t, "127.0.0.1:5000", viper.GetString("api.listen"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	assert.True(t, viper.GetBool("api.cors.allow_credentials"))
	assert.Equal(t, 12*time.Hour, viper.GetDuration("api.cors.max_age"))

	// Unmarshal the configuration into an evocore.Config struct
	var config evocore.Config
	err = viper.Unmarshal(
		&config, viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
	assert.NoError(t, err)

	// Verify some key fields in the Config struct
	assert.Equal(t, "/home/foo/evocore.sqlite3", config.Database)
	assert.Equal(t, "sqlite", config.DatabaseType)
	assert.Equal(t, slog.LevelInfo, config.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, config.DatabaseSlowThreshold)
	assert.Equal(t, slog.LevelInfo, config.LogLevel.Level())
	assert.Equal(t, 30*time.Second, config.StartupTimeout)
	assert.Equal(t, 60*time.Second, config.ShutdownTimeout)

	assert.Equal(t, "your-discord-bot-token", config.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", config.Discord.ApplicationID)
	assert.Equal(t, "", config.Discord.GuildID)
	assert.Equal(t, "chan123", config.Discord.NotificationChannelID)
	assert.Equal(t, "I'm here!", config.Discord.StartupMessage)
	assert.Equal(t, slog.LevelWarn, config.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, config.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, discordgo.Intent(3243773), config.Discord.GatewayIntents)

	assert.Equal(t, "blizzard-client-id", config.Blizzard.ClientID)
	assert.Equal(t, "blizzard-client-secret", config.Blizzard.ClientSecret)
	assert.Equal(t, "eu", config.Blizzard.Region)
	assert.Equal(t, 2.5, config.Blizzard.MaxRequestsPerSecond)

	assert.Equal(t, "your-openai-token", config.OpenAI.Token)
	assert.Equal(t, "gpt-4o", config.OpenAI.Model)
	assert.Equal(t, 45*time.Minute, config.OpenAI.SessionTTL)
	assert.Equal(t, 5, config.OpenAI.SessionMaxTurns)

	assert.Equal(t, 10, config.Leveling.XPPerMessageMin)
	assert.Equal(t, 20, config.Leveling.XPPerMessageMax)
	assert.Equal(t, 90*time.Second, config.Leveling.Cooldown)
	assert.Equal(t, 250, config.Trivia.RewardXP)

	assert.Equal(t, "127.0.0.1:5000", config.API.Listen)
	assert.Equal(t, slog.LevelDebug, config.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		config.API.CORS.AllowOrigins,
	)
	assert.True(t, config.API.CORS.AllowCredentials)
	assert.Equal(t, 12*time.Hour, config.API.CORS.MaxAge)
	assert.Equal(t, 5*time.Second, config.API.ReadTimeout)
	assert.Equal(t, 5*time.Second, config.API.ReadHeaderTimeout)
	assert.Equal(t, 10*time.Second, config.API.WriteTimeout)
	assert.Equal(t, 30*time.Second, config.API.IdleTimeout)
}

func TestInitConfigRunsTwice(t *testing.T) {
	// cobra runs initConfig on every Execute; a second run must not
	// choke on the already-converted *slog.LevelVar values, and must
	// still pick up environment changes.
	t.Setenv("EVO_LOG_LEVEL", "WARN")
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assertLogLevel(t, slog.LevelWarn, viper.Get("log_level"))

	t.Setenv("EVO_LOG_LEVEL", "ERROR")
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assertLogLevel(t, slog.LevelError, viper.Get("log_level"))
}
