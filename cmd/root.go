package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/Korivash/Evocore-sub000/evocore"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = evocore.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "evocore [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc converts log level strings from the config
// into *slog.LevelVar values when unmarshaling.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", evocore.DefaultDatabase)
	viper.SetDefault("database_type", evocore.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		evocore.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault("database_log_level", evocore.DefaultLogLevel.String())

	viper.SetDefault("log_level", evocore.DefaultLogLevel.String())

	viper.SetDefault("startup_timeout", evocore.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", evocore.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault(
		"discord.log_level",
		evocore.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		evocore.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		evocore.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.startup_message",
		evocore.DefaultDiscordStartupMessage,
	)

	// Blizzard / Raider.IO config
	viper.SetDefault("blizzard.client_id", "")
	viper.SetDefault("blizzard.client_secret", "")
	viper.SetDefault("blizzard.region", evocore.DefaultBlizzardRegion)
	viper.SetDefault("blizzard.locale", evocore.DefaultBlizzardLocale)
	viper.SetDefault(
		"blizzard.raiderio_base_url",
		evocore.DefaultRaiderIOBaseURL,
	)
	viper.SetDefault(
		"blizzard.max_requests_per_second",
		evocore.DefaultBlizzardMaxRequestsPerSecond,
	)
	viper.SetDefault(
		"blizzard.log_level",
		evocore.DefaultBlizzardLogLevel.String(),
	)

	// OpenAI config
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.model", evocore.DefaultOpenAIModel)
	viper.SetDefault(
		"openai.max_requests_per_second",
		evocore.DefaultOpenAIMaxRequestsPerSecond,
	)
	viper.SetDefault("openai.session_ttl", evocore.DefaultChatSessionTTL)
	viper.SetDefault(
		"openai.session_max_turns",
		evocore.DefaultChatSessionMaxTurns,
	)
	viper.SetDefault("openai.log_level", evocore.DefaultOpenAILogLevel.String())

	// Leveling / trivia config
	viper.SetDefault(
		"leveling.xp_per_message_min",
		evocore.DefaultLevelingXPPerMessageMin,
	)
	viper.SetDefault(
		"leveling.xp_per_message_max",
		evocore.DefaultLevelingXPPerMessageMax,
	)
	viper.SetDefault("leveling.cooldown", evocore.DefaultLevelingCooldown)
	viper.SetDefault("trivia.reward_xp", evocore.DefaultTriviaRewardXP)

	// API config
	viper.SetDefault("api.listen", evocore.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", evocore.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", evocore.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		evocore.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", evocore.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", evocore.DefaultIdleTimeout)
	viper.SetDefault("api.development", false)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		evocore.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		evocore.DefaultCORSAllowMethods,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", evocore.DefaultCORSMaxAge)

	envPrefix := os.Getenv(evocore.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = evocore.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"blizzard.log_level",
		"openai.log_level",
		"api.log_level",
	} {
		raw := viper.GetString(key)
		if current, ok := viper.Get(key).(*slog.LevelVar); ok {
			// initConfig runs on every Execute. Once converted, the
			// viper.Set value shadows the environment, so re-read the
			// env var directly.
			envKey := fmt.Sprintf(
				"%s_%s",
				envPrefix,
				strings.ToUpper(replacer.Replace(key)),
			)
			raw = os.Getenv(envKey)
			if raw == "" {
				raw = current.Level().String()
			}
		}
		logLevelVar, err := levelStringToLevelVar(raw)
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
