package parley

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const loggerNameKey = "logger"

var discordGoLogLevels = map[int]slog.Level{
	discordgo.LogDebug:         slog.LevelDebug,
	discordgo.LogError:         slog.LevelError,
	discordgo.LogWarning:       slog.LevelWarn,
	discordgo.LogInformational: slog.LevelInfo,
}

// discordgoLoggerFunc bridges discordgo's leveled logger into slog,
// so library output lands in the same place as everything else.
func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler)
	return func(
		msgL int,
		_ int,
		format string,
		args ...any,
	) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(
			ctx,
			level,
			strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""),
		)
	}
}
