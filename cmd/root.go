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

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/parleybot/parley/parley"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = parley.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "parley [flags]",
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

// LevelToStringHookFunc decodes log level strings into *slog.LevelVar
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

// Execute runs the root command, cancelling its context on SIGINT/SIGTERM
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
	if err := rootCmd.ExecuteContext(ctx); err != nil {
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
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("unable to load env from %s", configFile)
		}
	}

	viper.SetDefault("snapshot_path", parley.DefaultSnapshotPath)
	viper.SetDefault("log_level", parley.DefaultLogLevel.String())
	viper.SetDefault("shutdown_timeout", parley.DefaultShutdownTimeout)

	// OpenAI config
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.model", parley.DefaultOpenAIModel)
	viper.SetDefault("openai.max_tokens", parley.DefaultOpenAIMaxTokens)
	viper.SetDefault(
		"openai.max_requests_per_second",
		parley.DefaultOpenAIMaxRequestsPerSecond,
	)
	viper.SetDefault("openai.log_level", parley.DefaultOpenAILogLevel.String())

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.owner_id", "")
	viper.SetDefault("discord.custom_status", parley.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.online_status", parley.DefaultDiscordOnlineStatus)
	viper.SetDefault("discord.activity", parley.DefaultDiscordActivity)
	viper.SetDefault("discord.startup_message", parley.DefaultDiscordStartupMessage)
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault("discord.invite_url", "")
	viper.SetDefault("discord.success_color", parley.DefaultDiscordSuccessColor)
	viper.SetDefault("discord.error_color", parley.DefaultDiscordErrorColor)
	viper.SetDefault(
		"discord.gateway_intents",
		parley.DefaultDiscordGatewayIntents,
	)
	viper.SetDefault("discord.log_level", parley.DefaultDiscordLogLevel.String())
	viper.SetDefault(
		"discord.discordgo_log_level",
		parley.DefaultDiscordgoLogLevel.String(),
	)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", parley.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", parley.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", parley.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", parley.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", parley.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", parley.DefaultIdleTimeout)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", parley.DefaultCORSMaxAge)

	envPrefix := os.Getenv(parley.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = parley.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	for _, key := range []string{
		"log_level",
		"openai.log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
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

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to use",
	)
}
