//nolint:lll // struct tags can't be split
package parley

import (
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"
)

const (
	EnvvarSetEnvPrefix = "PARLEY_ENV_PREFIX"
	DefaultEnvPrefix   = "PARLEY"

	DefaultSnapshotPath    = "parley.json"
	DefaultLogLevel        = slog.LevelInfo
	DefaultShutdownTimeout = 30 * time.Second

	DefaultOpenAIModel                = openai.GPT4oMini
	DefaultOpenAIMaxTokens            = 1000
	DefaultOpenAIMaxRequestsPerSecond = 1
	DefaultOpenAILogLevel             = slog.LevelInfo

	DefaultDiscordLogLevel         = slog.LevelWarn
	DefaultDiscordgoLogLevel       = slog.LevelWarn
	DefaultDiscordCustomStatus     = "/setup a channel and chat with me!"
	DefaultDiscordOnlineStatus     = string(discordgo.StatusOnline)
	DefaultDiscordActivity         = "with /setup"
	DefaultDiscordStartupMessage   = "I'm here!"
	DefaultDiscordSuccessColor     = 0x57F287
	DefaultDiscordErrorColor       = 0xED4245
	DefaultDiscordGatewayIntents   = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent | discordgo.IntentsDirectMessages
	discordMaxMessageLength        = 2000
	DefaultAPIListen               = "127.0.0.1:5000"
	defaultListenNetwork           = "tcp"
	DefaultAPILogLevel             = slog.LevelInfo
	DefaultReadTimeout             = 5 * time.Second
	DefaultReadHeaderTimeout       = 5 * time.Second
	DefaultWriteTimeout            = 10 * time.Second
	DefaultIdleTimeout             = 30 * time.Second
	DefaultAPICORSAllowCredentials = false
	DefaultCORSMaxAge              = 12 * time.Hour
)

var structValidator = validator.New()

//nolint:gochecknoinits // validator tag name has to be registered somewhere
func init() {
	structValidator.SetTagName("binding")
}

// Config is the top-level configuration for the bot
type Config struct {
	// SnapshotPath is the path of the JSON file the channel/blacklist
	// registry is persisted to
	SnapshotPath string `yaml:"snapshot_path" mapstructure:"snapshot_path" json:"snapshot_path" binding:"required"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// OpenAI holds the configuration for OpenAI integration
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// API configures the status/health API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// OwnerID is the Discord user ID allowed to use the owner-only
	// commands (/blacklist, /servers, /leaveserver), and the recipient
	// of forwarded /feedback
	OwnerID string `yaml:"owner_id" mapstructure:"owner_id" json:"owner_id"`

	// CustomStatus is set as the bot's status on connect
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// OnlineStatus is the presence status set when the gateway reports ready
	OnlineStatus string `yaml:"online_status" mapstructure:"online_status" json:"online_status" binding:"omitempty,oneof=online idle dnd invisible"`

	// Activity is shown as a "Playing ..." presence activity, if set
	Activity string `yaml:"activity" mapstructure:"activity" json:"activity"`

	// If set, along with NotificationChannelID, the bot sends this message
	// to that channel whenever it connects to the discord gateway
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// NotificationChannelID is the channel the startup message is sent to
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// InviteURL is shown by /botinfo, if set
	InviteURL string `yaml:"invite_url" mapstructure:"invite_url" json:"invite_url"`

	// SuccessColor is the accent color of the AI response embed
	SuccessColor int `yaml:"success_color" mapstructure:"success_color" json:"success_color"`

	// ErrorColor is the accent color of error/fallback embeds
	ErrorColor int `yaml:"error_color" mapstructure:"error_color" json:"error_color"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`
}

// OpenAIConfig configures OpenAI API integration and completion parameters
type OpenAIConfig struct {
	// OpenAI API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Model is the chat completion model to use
	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required"`

	// MaxTokens caps the completion response size
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" binding:"min=1"`

	// MaxRequestsPerSecond limits completion API calls
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"min=1"`

	// OpenAI base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// APIConfig configures the status/health API server
type APIConfig struct {
	// Enabled determines whether the API server is started at all
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
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

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     []string{"GET", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		SnapshotPath:    DefaultSnapshotPath,
		LogLevel:        mainLogLevel,
		ShutdownTimeout: DefaultShutdownTimeout,
		OpenAI: &OpenAIConfig{
			Model:                DefaultOpenAIModel,
			MaxTokens:            DefaultOpenAIMaxTokens,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
			LogLevel:             openaiLogLevel,
		},
		Discord: &DiscordConfig{
			CustomStatus:      DefaultDiscordCustomStatus,
			OnlineStatus:      DefaultDiscordOnlineStatus,
			Activity:          DefaultDiscordActivity,
			StartupMessage:    DefaultDiscordStartupMessage,
			SuccessColor:      DefaultDiscordSuccessColor,
			ErrorColor:        DefaultDiscordErrorColor,
			GatewayIntents:    DefaultDiscordGatewayIntents,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			CORS:              DefaultCORSConfig(),
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}
