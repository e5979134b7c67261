package parley

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandSetup       = "setup"
	DiscordSlashCommandDisable     = "disable"
	DiscordSlashCommandBlacklist   = "blacklist"
	DiscordSlashCommandBotInfo     = "botinfo"
	DiscordSlashCommandFeedback    = "feedback"
	DiscordSlashCommandServers     = "servers"
	DiscordSlashCommandLeaveServer = "leaveserver"

	blacklistGroupUser   = "user"
	blacklistGroupServer = "server"

	blacklistSubcommandAdd    = "add"
	blacklistSubcommandRemove = "remove"
	blacklistSubcommandList   = "list"

	commandOptionID       = "id"
	commandOptionGuildID  = "guild_id"
	commandOptionFeedback = "message"

	feedbackMinLength = 5
	feedbackMaxLength = 2000
)

// Discord represents the Discord integration for Parley.
//
// It manages the Discord session, registers the bot's slash commands, and
// tracks gateway connection state.
type Discord struct {
	session           DiscordSessionHandler
	config            *DiscordConfig
	logger            *slog.Logger
	metricConnects    atomic.Int64
	metricDisconnects atomic.Int64
	connected         atomic.Bool
	p                 *Parley
}

func newDiscord(config *DiscordConfig) *Discord {
	return &Discord{config: config}
}

// newSession initializes a new Discord session for the Discord struct.
func (d *Discord) newSession(httpClient *http.Client) (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc
	if httpClient != nil {
		disc.Client = httpClient
	}

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}

	return session, nil
}

// appCommandSetup creates the ApplicationCommand enabling AI responses in
// the channel it's invoked from
func (*Discord) appCommandSetup() *discordgo.ApplicationCommand {
	managePerm := int64(discordgo.PermissionManageServer)
	dmPerm := false
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandSetup,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Enable AI responses in this channel",
		DefaultMemberPermissions: &managePerm,
		DMPermission:             &dmPerm,
	}
}

// appCommandDisable creates the ApplicationCommand disabling AI responses
// in the channel it's invoked from
func (*Discord) appCommandDisable() *discordgo.ApplicationCommand {
	managePerm := int64(discordgo.PermissionManageServer)
	dmPerm := false
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandDisable,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Disable AI responses in this channel",
		DefaultMemberPermissions: &managePerm,
		DMPermission:             &dmPerm,
	}
}

func blacklistSubcommands(noun string) []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        blacklistSubcommandAdd,
			Description: fmt.Sprintf("Blacklist a %s", noun),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionID,
					Description: fmt.Sprintf("%s ID", noun),
					Required:    true,
				},
			},
		},
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        blacklistSubcommandRemove,
			Description: fmt.Sprintf("Remove a %s from the blacklist", noun),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionID,
					Description: fmt.Sprintf("%s ID", noun),
					Required:    true,
				},
			},
		},
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        blacklistSubcommandList,
			Description: fmt.Sprintf("List blacklisted %ss", noun),
		},
	}
}

// appCommandBlacklist creates the owner-only blacklist management command
func (*Discord) appCommandBlacklist() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandBlacklist,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Manage the user/server blacklist (owner only)",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
				Name:        blacklistGroupUser,
				Description: "User blacklist",
				Options:     blacklistSubcommands("user"),
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
				Name:        blacklistGroupServer,
				Description: "Server blacklist",
				Options:     blacklistSubcommands("server"),
			},
		},
	}
}

func (*Discord) appCommandBotInfo() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandBotInfo,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Show uptime, latency and other bot info",
	}
}

func (*Discord) appCommandFeedback() *discordgo.ApplicationCommand {
	minLength := feedbackMinLength
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandFeedback,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Send feedback to the bot owner",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        commandOptionFeedback,
				Description: "What would you like to tell the owner?",
				Required:    true,
				MinLength:   &minLength,
				MaxLength:   feedbackMaxLength,
			},
		},
	}
}

func (*Discord) appCommandServers() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandServers,
		Type:        discordgo.ChatApplicationCommand,
		Description: "List the servers the bot is in (owner only)",
	}
}

func (*Discord) appCommandLeaveServer() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandLeaveServer,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Leave a server (owner only)",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        commandOptionGuildID,
				Description: "Guild ID",
				Required:    true,
			},
		},
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	commands := []*discordgo.ApplicationCommand{
		d.appCommandSetup(),
		d.appCommandDisable(),
		d.appCommandBlacklist(),
		d.appCommandBotInfo(),
		d.appCommandFeedback(),
		d.appCommandServers(),
		d.appCommandLeaveServer(),
	}

	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name)
	}

	return created, nil
}

// updateStatusComplex sets the bot's full presence in a single gateway call
func (d *Discord) updateStatusComplex(data discordgo.UpdateStatusData) error {
	return d.session.UpdateStatusComplex(data)
}

// readyPresence builds the presence set when the gateway reports ready: the
// online status, the "Playing" activity and the custom status, whichever of
// those are configured
func (d *Discord) readyPresence() discordgo.UpdateStatusData {
	data := discordgo.UpdateStatusData{Status: d.config.OnlineStatus}
	if d.config.Activity != "" {
		data.Activities = append(
			data.Activities, &discordgo.Activity{
				Name: d.config.Activity,
				Type: discordgo.ActivityTypeGame,
			},
		)
	}
	if d.config.CustomStatus != "" {
		data.Activities = append(
			data.Activities, &discordgo.Activity{
				Name:  "Custom Status",
				Type:  discordgo.ActivityTypeCustom,
				State: d.config.CustomStatus,
			},
		)
	}
	return data
}

// channelMessageSend sends the given message to the given discord channel ID
func (d *Discord) channelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) error {
	_, err := d.session.ChannelMessageSend(channelID, message, opts...)
	return err
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info(
			"Ready",
			"session_id", r.SessionID,
			"user_id", r.User.ID,
			"username", r.User.Username,
		)
		d.p.botUserID.Store(r.User.ID)

		if err := d.updateStatusComplex(d.readyPresence()); err != nil {
			d.logger.Error("error setting presence", tint.Err(err))
		}
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, r *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("Connected", "session_id", sessionID)

		if d.config.NotificationChannelID != "" && d.config.StartupMessage != "" {
			if sendErr := d.channelMessageSend(
				d.config.NotificationChannelID,
				d.config.StartupMessage,
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); sendErr != nil {
				d.logger.Error("unable to send startup message", tint.Err(sendErr))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, r *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Info("disconnected")
	}
}

// DiscordSessionHandler defines the interface for handling Discord
// sessions. This basically defines methods from `discordgo.Session` which
// are used in this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// ChannelMessages returns up to limit messages from the given channel,
	// newest first
	ChannelMessages(
		channelID string,
		limit int,
		beforeID string,
		afterID string,
		aroundID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Message, error)

	// ChannelTyping shows the typing indicator in the given channel
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error

	// ChannelMessageSend sends a message to a specified channel
	ChannelMessageSend(
		channelID string,
		message string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendEmbedReply sends an embed to the given channel, as
	// a reply to the referenced message
	ChannelMessageSendEmbedReply(
		channelID string,
		embed *discordgo.MessageEmbed,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ApplicationCommandBulkOverwrite overwrites Discord application
	// commands in bulk
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// UserChannelCreate creates (or returns the existing) DM channel with
	// the given user
	UserChannelCreate(
		recipientID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// GuildLeave makes the bot leave the given guild
	GuildLeave(guildID string, options ...discordgo.RequestOption) error

	// UserGuilds returns up to limit guilds the bot is a member of
	UserGuilds(
		limit int,
		beforeID string,
		afterID string,
		withCounts bool,
		options ...discordgo.RequestOption,
	) ([]*discordgo.UserGuild, error)

	// UpdateStatusComplex sets the bot user's full presence: online status
	// and activities (including the custom status)
	UpdateStatusComplex(data discordgo.UpdateStatusData) error

	// HeartbeatLatency returns the round-trip time to the discord gateway
	HeartbeatLatency() time.Duration

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID string,
	afterID string,
	aroundID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	return d.session.ChannelMessages(
		channelID, limit, beforeID, afterID, aroundID, options...,
	)
}

func (d DiscordSession) ChannelTyping(
	channelID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelTyping(channelID, options...)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, message, options...)
}

func (d DiscordSession) ChannelMessageSendEmbedReply(
	channelID string,
	embed *discordgo.MessageEmbed,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendEmbedReply(
		channelID, embed, reference, options...,
	)
	if err != nil {
		d.logger.Error(
			"error sending embed reply",
			tint.Err(err),
			"channel_id", channelID,
			"reference", reference,
		)
	}
	return msg, err
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return d.session.ApplicationCommandBulkOverwrite(
		appID, guildID, commands, options...,
	)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) UserChannelCreate(
	recipientID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.UserChannelCreate(recipientID, options...)
}

func (d DiscordSession) GuildLeave(
	guildID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildLeave(guildID, options...)
}

func (d DiscordSession) UserGuilds(
	limit int,
	beforeID string,
	afterID string,
	withCounts bool,
	options ...discordgo.RequestOption,
) ([]*discordgo.UserGuild, error) {
	return d.session.UserGuilds(limit, beforeID, afterID, withCounts, options...)
}

func (d DiscordSession) UpdateStatusComplex(
	data discordgo.UpdateStatusData,
) error {
	return d.session.UpdateStatusComplex(data)
}

func (d DiscordSession) HeartbeatLatency() time.Duration {
	return d.session.HeartbeatLatency()
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

// getDiscordUser returns the [discordgo.User] associated with the
// interaction. Users don't always appear in the same place in the
// interaction object, so this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}
