package cmd

import (
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/parleybot/parley/parley"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"DEBUG", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{"TRACE", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
	}
	for _, tc := range tests {
		t.Run(
			tc.in, func(t *testing.T) {
				lvl, err := getLogLevel(tc.in)
				if tc.wantErr {
					assert.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.want, lvl)
			},
		)
	}
}

func TestLevelToStringHookFunc(t *testing.T) {
	hook := LevelToStringHookFunc()
	levelVarType := reflect.TypeOf(&slog.LevelVar{})

	rv, err := hook(
		reflect.TypeOf(""),
		levelVarType,
		"WARN",
	)
	require.NoError(t, err)
	lvlVar, ok := rv.(*slog.LevelVar)
	require.True(t, ok)
	assert.Equal(t, slog.LevelWarn, lvlVar.Level())

	// non-string sources and non-LevelVar targets pass through untouched
	rv, err = hook(reflect.TypeOf(0), levelVarType, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, rv)

	rv, err = hook(reflect.TypeOf(""), reflect.TypeOf(""), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", rv)

	_, err = hook(reflect.TypeOf(""), levelVarType, "NOPE")
	assert.Error(t, err)
}

func TestConfigPlumbingFromEnv(t *testing.T) {
	t.Setenv("PARLEY_DISCORD_TOKEN", "env-discord-token")
	t.Setenv("PARLEY_OPENAI_TOKEN", "env-openai-token")
	t.Setenv("PARLEY_SHUTDOWN_TIMEOUT", "45s")

	t.Cleanup(
		func() {
			viper.Reset()
			cfg = parley.DefaultConfig()
		},
	)

	initConfig()
	rootCmd.PersistentPreRun(rootCmd, nil)

	assert.Equal(t, "env-discord-token", cfg.Discord.Token)
	assert.Equal(t, "env-openai-token", cfg.OpenAI.Token)
	assert.Equal(t, 45*time.Second, cfg.ShutdownTimeout)
	// unset keys keep their defaults
	assert.Equal(t, parley.DefaultOpenAIModel, cfg.OpenAI.Model)
	assert.Equal(t, parley.DefaultSnapshotPath, cfg.SnapshotPath)
}

func TestLevelStringToLevelVar(t *testing.T) {
	lvl, err := levelStringToLevelVar("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl.Level())

	_, err = levelStringToLevelVar("bogus")
	assert.Error(t, err)
}
