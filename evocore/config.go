//nolint:lll // struct tags can't be split
package evocore

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "EVOCORE_ENV_PREFIX"
	DefaultEnvPrefix   = "EVO"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "evocore.sqlite3"
	DefaultLogLevel              = slog.LevelInfo
	DefaultStartupTimeout        = 30 * time.Second
	DefaultShutdownTimeout       = 60 * time.Second
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultDiscordLogLevel      = slog.LevelWarn
	DefaultDiscordgoLogLevel    = slog.LevelWarn
	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentsGuildMembers | discordgo.IntentMessageContent
	DefaultDiscordStartupMessage = "I'm here!"
	DefaultDiscordErrorMessage   = "sorry, something went wrong!"

	DefaultAPIListen         = "127.0.0.1:5000"
	DefaultAPILogLevel       = slog.LevelInfo
	defaultListenNetwork     = "tcp"
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
	DefaultCORSMaxAge        = 12 * time.Hour

	DefaultBlizzardRegion                = "us"
	DefaultBlizzardLocale                = "en_US"
	DefaultBlizzardMaxRequestsPerSecond  = 5
	DefaultRaiderIOBaseURL               = "https://raider.io/api/v1"
	DefaultBlizzardLogLevel              = slog.LevelInfo
	DefaultOpenAILogLevel                = slog.LevelInfo
	DefaultOpenAIModel                   = "gpt-4o-mini"
	DefaultOpenAIMaxRequestsPerSecond    = 1
	DefaultChatSessionTTL                = 30 * time.Minute
	DefaultChatSessionMaxTurns           = 10
	DefaultLevelingCooldown              = time.Minute
	DefaultLevelingXPPerMessageMin       = 15
	DefaultLevelingXPPerMessageMax       = 25
	DefaultTriviaRewardXP                = 100
	discordMaxMessageLength              = 2000
	discordMaxSelectOptionsPerMenu       = 25
	discordEventRosterFieldNameMaxLength = 256
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
	}
)

var structValidator = validator.New()

//nolint:gochecknoinits // gotta register the validator tag name
func init() {
	structValidator.SetTagName("binding")
}

// Config is the top-level bot configuration, loaded via viper in cmd/.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Discord configures the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Blizzard configures the WoW game-data lookup layer
	Blizzard *BlizzardConfig `yaml:"blizzard" mapstructure:"blizzard" json:"blizzard"`

	// OpenAI configures AI-assisted replies
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// API configures the operator HTTP API
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Leveling configures the message-XP economy
	Leveling LevelingConfig `yaml:"leveling" mapstructure:"leveling" json:"leveling"`

	// Trivia configures trivia rounds
	Trivia TriviaConfig `yaml:"trivia" mapstructure:"trivia" json:"trivia"`

	HTTPClient *http.Client `log:"[redacted]"`
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// If set, the bot sends StartupMessage to this channel whenever it
	// connects to the gateway
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// StartupMessage is sent to NotificationChannelID on connect, if both are set
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// BlizzardConfig configures Blizzard and Raider.IO API access.
type BlizzardConfig struct {
	// OAuth client ID for the Blizzard API
	ClientID string `yaml:"client_id" mapstructure:"client_id" json:"client_id"`

	// OAuth client secret for the Blizzard API
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret" json:"client_secret" log:"[redacted]"`

	// API region ('us', 'eu', ...)
	Region string `yaml:"region" mapstructure:"region" json:"region"`

	// Response locale
	Locale string `yaml:"locale" mapstructure:"locale" json:"locale"`

	// Raider.IO API base URL
	RaiderIOBaseURL string `yaml:"raiderio_base_url" mapstructure:"raiderio_base_url" json:"raiderio_base_url"`

	// Client-side request rate limit, shared across Blizzard and Raider.IO
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"min=0"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// OpenAIConfig configures AI-assisted replies.
type OpenAIConfig struct {
	// OpenAI API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// Chat completion model
	Model string `yaml:"model" mapstructure:"model" json:"model"`

	// Client-side request rate limit
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"min=0"`

	// Per-user chat session time-to-live. Sessions idle longer than this
	// are evicted.
	SessionTTL time.Duration `yaml:"session_ttl" mapstructure:"session_ttl" json:"session_ttl" binding:"min=0"`

	// Maximum user/assistant turn pairs retained per session
	SessionMaxTurns int `yaml:"session_max_turns" mapstructure:"session_max_turns" json:"session_max_turns" binding:"min=1"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// APIConfig configures the operator HTTP API server.
type APIConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=1s"`

	// Development relaxes CORS for local work
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		AllowCredentials: c.AllowCredentials,
	}
}

// LevelingConfig configures XP awarded per qualifying guild message.
type LevelingConfig struct {
	// Minimum XP awarded per qualifying message
	XPPerMessageMin int `yaml:"xp_per_message_min" mapstructure:"xp_per_message_min" json:"xp_per_message_min" binding:"min=0"`

	// Maximum XP awarded per qualifying message
	XPPerMessageMax int `yaml:"xp_per_message_max" mapstructure:"xp_per_message_max" json:"xp_per_message_max" binding:"min=0,gtefield=XPPerMessageMin"`

	// Cooldown between XP awards for the same user
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown" json:"cooldown" binding:"min=0"`
}

// TriviaConfig configures trivia rounds.
type TriviaConfig struct {
	// XP awarded to the first correct answer
	RewardXP int `yaml:"reward_xp" mapstructure:"reward_xp" json:"reward_xp" binding:"min=0"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}
	blizzardLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)
	blizzardLogLevel.Set(DefaultBlizzardLogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultDiscordStartupMessage,
		},
		Blizzard: &BlizzardConfig{
			Region:               DefaultBlizzardRegion,
			Locale:               DefaultBlizzardLocale,
			RaiderIOBaseURL:      DefaultRaiderIOBaseURL,
			MaxRequestsPerSecond: DefaultBlizzardMaxRequestsPerSecond,
			LogLevel:             blizzardLogLevel,
		},
		OpenAI: &OpenAIConfig{
			Model:                DefaultOpenAIModel,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
			SessionTTL:           DefaultChatSessionTTL,
			SessionMaxTurns:      DefaultChatSessionMaxTurns,
			LogLevel:             openaiLogLevel,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS: CORSConfig{
				AllowMethods: DefaultCORSAllowMethods,
				AllowHeaders: DefaultCORSAllowHeaders,
				MaxAge:       DefaultCORSMaxAge,
			},
		},
		Leveling: LevelingConfig{
			XPPerMessageMin: DefaultLevelingXPPerMessageMin,
			XPPerMessageMax: DefaultLevelingXPPerMessageMax,
			Cooldown:        DefaultLevelingCooldown,
		},
		Trivia: TriviaConfig{
			RewardXP: DefaultTriviaRewardXP,
		},
	}
}
