package parley

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/parleybot/parley/parley.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var defaultLogWriter io.Writer = os.Stdout

// Parley represents the main application struct for the bot.
//
// It wires together the Discord integration, the OpenAI completion client,
// the channel/blacklist registry, and the status API, and owns the message
// handling pipeline: gate, history fetch, conversation log assembly,
// completion, reply.
type Parley struct {
	config *Config

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Channel bindings and blacklists, persisted as a JSON snapshot
	registry *Registry

	// Handles discord integration, sessions
	discord *Discord

	// Handles OpenAI API integration
	openai *OpenAI

	// Serves the status/health endpoints
	api *API

	httpClient *http.Client

	// The bot's own user ID, set by the gateway Ready event. Falls back
	// to the configured application ID until then.
	botUserID atomic.Value

	// The time Run was called
	startedAt time.Time

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	metricMessagesHandled atomic.Int64
	metricRepliesSent     atomic.Int64
	metricFallbackReplies atomic.Int64
}

// New creates and initializes a new Parley instance.
//
// This sets up logging for each component, the OpenAI client, the Discord
// integration and the status API. Initialization errors are collected and
// returned as a single error.
//
// Note: After calling New(), call Run() to connect to Discord and begin
// processing messages.
func New(config *Config) (*Parley, error) {
	var errs []error

	if config.Discord == nil || config.OpenAI == nil || config.API == nil {
		return nil, errors.New("incomplete config (did you start from DefaultConfig?)")
	}

	p := &Parley{
		config:     config,
		httpClient: http.DefaultClient,
	}

	p.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	p.logger = slog.New(p.logHandler)
	slog.SetDefault(p.logger)

	p.openai = newOpenAI(config.OpenAI, p.httpClient)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	disc := newDiscord(config.Discord)
	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")
	disc.p = p
	p.discord = disc

	api, err := newAPI(p, config.API)
	if err != nil {
		errs = append(errs, err)
	}
	p.api = api

	return p, errors.Join(errs...)
}

// ValidateConfig checks the configuration for missing required credentials.
// A failure here is fatal at startup.
func (p *Parley) ValidateConfig() error {
	return structValidator.Struct(p.config)
}

// BotUserID returns the bot's own user ID as reported by the gateway, or
// the configured application ID if the Ready event hasn't arrived yet
func (p *Parley) BotUserID() string {
	if v, ok := p.botUserID.Load().(string); ok && v != "" {
		return v
	}
	return p.config.Discord.ApplicationID
}

// Uptime returns the time elapsed since Run was called
func (p *Parley) Uptime() time.Duration {
	return time.Since(p.startedAt)
}

// Stop signals a running bot to shut down
func (p *Parley) Stop() {
	select {
	case p.signalStop <- struct{}{}:
	default:
	}
}

// Run connects to Discord and processes events until the given context is
// cancelled or Stop is called.
//
// It validates the config, loads the registry snapshot, opens the gateway
// session, registers the slash commands, and starts the status API (when
// enabled). On shutdown, the session is closed within the configured
// shutdown timeout.
func (p *Parley) Run(ctx context.Context) error {
	// prevents concurrent runs
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.signalStop = make(chan struct{}, 1)
	p.startedAt = time.Now()
	logger := p.logger

	if err := p.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}
	logger.Info("starting", "version", Version, slog.Any("config", p.config))

	p.registry = LoadRegistry(p.config.SnapshotPath, p.logger)

	session, err := p.discord.newSession(p.httpClient)
	if err != nil {
		logger.Error("error creating discord session", tint.Err(err))
		return err
	}
	p.discord.session = session

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.signalStop:
			cancel()
		case <-runCtx.Done():
			//
		}
	}()

	p.registerHandlers(runCtx)

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(
			context.Background(),
			p.config.ShutdownTimeout,
		)
		defer closeCancel()
		done := make(chan error, 1)
		go func() {
			done <- session.Close()
		}()
		select {
		case closeErr := <-done:
			if closeErr != nil {
				logger.Error("error closing discord session", tint.Err(closeErr))
			}
		case <-closeCtx.Done():
			logger.Warn("timed out closing discord session")
		}
	}()

	if _, err = p.discord.registerCommands(); err != nil {
		return fmt.Errorf("error registering discord commands: %w", err)
	}

	g, gctx := errgroup.WithContext(runCtx)
	if p.config.API.Enabled {
		g.Go(
			func() error {
				return p.api.Serve(gctx)
			},
		)
	}
	g.Go(
		func() error {
			<-gctx.Done()
			return nil
		},
	)

	logger.Info("parley is running", "version", Version)
	err = g.Wait()
	logger.Info("shutting down")
	return err
}

// registerHandlers adds the gateway event handlers to the session
func (p *Parley) registerHandlers(ctx context.Context) {
	session := p.discord.session
	session.AddHandler(p.discord.handlerReady())
	session.AddHandler(p.discord.handlerConnect())
	session.AddHandler(p.discord.handlerDisconnect())
	session.AddHandler(
		func(s *discordgo.Session, m *discordgo.MessageCreate) {
			p.handleDiscordMessage(ctx, m)
		},
	)
	session.AddHandler(
		func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			p.handleInteraction(ctx, i)
		},
	)
	session.AddHandler(
		func(s *discordgo.Session, g *discordgo.GuildDelete) {
			p.handleGuildDelete(g)
		},
	)
	session.AddHandler(
		func(s *discordgo.Session, c *discordgo.ChannelDelete) {
			p.handleChannelDelete(c)
		},
	)
}

// handleDiscordMessage processes an incoming Discord message. The gate
// decides whether the bot responds at all; accepted messages are answered
// with a completion built from recent channel history.
func (p *Parley) handleDiscordMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	p.metricMessagesHandled.Add(1)

	reason := evaluateMessageGate(m.Message, p.BotUserID(), p.registry)
	if reason != gateAccepted {
		// rejects aren't errors - blacklist rejects in particular are
		// logged at debug only
		p.logger.Debug(
			"message gate rejected",
			"reason", reason,
			"channel_id", m.ChannelID,
			"guild_id", m.GuildID,
		)
		return
	}

	p.respondToMessage(ctx, m.Message)
}

// respondToMessage fetches recent channel history, builds the conversation
// log, requests a completion, and replies. Any failure along the way is
// converted into the fallback reply - the user always receives a response.
func (p *Parley) respondToMessage(ctx context.Context, m *discordgo.Message) {
	logger := p.logger.With(
		"channel_id", m.ChannelID,
		"message_id", m.ID,
	)
	session := p.discord.session

	if err := session.ChannelTyping(m.ChannelID); err != nil {
		logger.Warn("error sending typing indicator", tint.Err(err))
	}

	reply, err := p.completeFromHistory(ctx, m)
	if err != nil {
		logger.Error("falling back to error reply", tint.Err(err))
		p.metricFallbackReplies.Add(1)
		if _, sendErr := session.ChannelMessageSendEmbedReply(
			m.ChannelID,
			p.errorEmbed(completionFallbackMessage),
			m.Reference(),
		); sendErr != nil {
			logger.Error("error sending fallback reply", tint.Err(sendErr))
		}
		return
	}

	if _, err = session.ChannelMessageSendEmbedReply(
		m.ChannelID,
		p.responseEmbed(reply, m.Author),
		m.Reference(),
	); err != nil {
		logger.Error("error sending reply", tint.Err(err))
		return
	}
	p.metricRepliesSent.Add(1)
}

// completeFromHistory assembles the conversation log for the trigger
// message and submits it, returning the bounded reply text
func (p *Parley) completeFromHistory(
	ctx context.Context,
	m *discordgo.Message,
) (string, error) {
	history, err := p.discord.session.ChannelMessages(
		m.ChannelID, conversationHistoryLimit, "", "", "",
	)
	if err != nil {
		return "", fmt.Errorf("error fetching channel history: %w", err)
	}

	conversation := buildConversationLog(history, m, p.BotUserID())
	reply, err := p.openai.Complete(ctx, conversation)
	if err != nil {
		return "", err
	}
	return truncateReply(reply), nil
}

// handleGuildDelete prunes every channel binding owned by a guild that
// removed the bot (or was deleted)
func (p *Parley) handleGuildDelete(g *discordgo.GuildDelete) {
	removed := p.registry.UnbindGuildChannels(g.ID)
	p.logger.Info(
		"guild removed",
		"guild_id", g.ID,
		"bindings_removed", removed,
	)
}

// handleChannelDelete removes the binding of a deleted channel, if any
func (p *Parley) handleChannelDelete(c *discordgo.ChannelDelete) {
	p.registry.UnbindChannel(c.ID)
	p.logger.Info("channel removed", "channel_id", c.ID)
}

// responseEmbed renders a successful completion as a discord embed
func (p *Parley) responseEmbed(
	content string,
	requestedBy *discordgo.User,
) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "\U0001F916 AI Response",
		Description: content,
		Color:       p.config.Discord.SuccessColor,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if requestedBy != nil {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Requested by %s", requestedBy.Username),
		}
	}
	return embed
}

// errorEmbed renders an error notice as a discord embed
func (p *Parley) errorEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "❌ AI Error",
		Description: description,
		Color:       p.config.Discord.ErrorColor,
	}
}
