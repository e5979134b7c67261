package parley

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	ownerOnlyNotice    = "This command is restricted to the bot owner."
	serverOnlyNotice   = "This command can only be used inside a server."
	noneBlacklisted    = "Nothing is blacklisted."
	maxUserGuildsFetch = 100
)

// handleInteraction dispatches slash command invocations to their handlers
func (p *Parley) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	user := getDiscordUser(i)
	if user == nil {
		p.logger.Warn("couldn't find user in interaction", "interaction_id", i.ID)
		return
	}
	data := i.ApplicationCommandData()
	logger := p.logger.With(
		"interaction_id", i.ID,
		"command", data.Name,
		"user_id", user.ID,
	)

	switch data.Name {
	case DiscordSlashCommandSetup:
		p.handleSetupCommand(logger, i)
	case DiscordSlashCommandDisable:
		p.handleDisableCommand(logger, i)
	case DiscordSlashCommandBlacklist:
		p.handleBlacklistCommand(logger, i, user)
	case DiscordSlashCommandBotInfo:
		p.handleBotInfoCommand(logger, i)
	case DiscordSlashCommandFeedback:
		p.handleFeedbackCommand(logger, i, user)
	case DiscordSlashCommandServers:
		p.handleServersCommand(logger, i, user)
	case DiscordSlashCommandLeaveServer:
		p.handleLeaveServerCommand(logger, i, user)
	default:
		logger.Warn("unknown command")
	}
}

// isOwner reports whether the given user is the configured bot owner
func (p *Parley) isOwner(user *discordgo.User) bool {
	return p.config.Discord.OwnerID != "" && user.ID == p.config.Discord.OwnerID
}

// interactionReply sends an ephemeral text response to an interaction
func (p *Parley) interactionReply(
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
	content string,
) {
	if err := p.discord.session.InteractionRespond(
		i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	); err != nil {
		logger.Error("error responding to interaction", tint.Err(err))
	}
}

func (p *Parley) handleSetupCommand(
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
) {
	if i.GuildID == "" {
		p.interactionReply(logger, i, serverOnlyNotice)
		return
	}
	p.registry.BindChannel(i.ChannelID, i.GuildID)
	logger.Info(
		"channel bound",
		"channel_id", i.ChannelID,
		"guild_id", i.GuildID,
	)
	p.interactionReply(
		logger, i, "AI responses are now enabled in this channel.",
	)
}

func (p *Parley) handleDisableCommand(
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
) {
	if _, bound := p.registry.ChannelGuild(i.ChannelID); !bound {
		p.interactionReply(
			logger, i, "AI responses weren't enabled in this channel.",
		)
		return
	}
	p.registry.UnbindChannel(i.ChannelID)
	logger.Info("channel unbound", "channel_id", i.ChannelID)
	p.interactionReply(
		logger, i, "AI responses are now disabled in this channel.",
	)
}

func (p *Parley) handleBlacklistCommand(
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) {
	if !p.isOwner(user) {
		p.interactionReply(logger, i, ownerOnlyNotice)
		return
	}

	data := i.ApplicationCommandData()
	if len(data.Options) == 0 || len(data.Options[0].Options) == 0 {
		logger.Warn("malformed blacklist command payload")
		return
	}
	group := data.Options[0]
	sub := group.Options[0]

	var id string
	if len(sub.Options) > 0 {
		id = sub.Options[0].StringValue()
	}

	switch group.Name {
	case blacklistGroupUser:
		switch sub.Name {
		case blacklistSubcommandAdd:
			p.registry.BlacklistUser(id)
			logger.Info("user blacklisted", "target_id", id)
			p.interactionReply(logger, i, fmt.Sprintf("User `%s` blacklisted.", id))
		case blacklistSubcommandRemove:
			p.registry.UnblacklistUser(id)
			logger.Info("user unblacklisted", "target_id", id)
			p.interactionReply(
				logger, i, fmt.Sprintf("User `%s` removed from the blacklist.", id),
			)
		case blacklistSubcommandList:
			p.interactionReply(
				logger, i, formatBlacklist("Blacklisted users", p.registry.BlacklistedUsers()),
			)
		}
	case blacklistGroupServer:
		switch sub.Name {
		case blacklistSubcommandAdd:
			p.registry.BlacklistServer(id)
			logger.Info("server blacklisted", "target_id", id)
			p.interactionReply(logger, i, fmt.Sprintf("Server `%s` blacklisted.", id))
		case blacklistSubcommandRemove:
			p.registry.UnblacklistServer(id)
			logger.Info("server unblacklisted", "target_id", id)
			p.interactionReply(
				logger, i, fmt.Sprintf("Server `%s` removed from the blacklist.", id),
			)
		case blacklistSubcommandList:
			p.interactionReply(
				logger, i,
				formatBlacklist("Blacklisted servers", p.registry.BlacklistedServers()),
			)
		}
	}
}

func formatBlacklist(title string, ids []string) string {
	if len(ids) == 0 {
		return noneBlacklisted
	}
	lines := make([]string, 0, len(ids)+1)
	lines = append(lines, fmt.Sprintf("**%s (%d):**", title, len(ids)))
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("- `%s`", id))
	}
	return truncateReply(strings.Join(lines, "\n"))
}

func (p *Parley) handleBotInfoCommand(
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
) {
	session := p.discord.session

	serverCount := "unknown"
	guilds, err := session.UserGuilds(maxUserGuildsFetch, "", "", false)
	if err != nil {
		logger.Warn("error fetching guilds", tint.Err(err))
	} else {
		serverCount = fmt.Sprintf("%d", len(guilds))
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Version", Value: Version, Inline: true},
		{Name: "Uptime", Value: humanizeDuration(p.Uptime()), Inline: true},
		{
			Name:   "Latency",
			Value:  fmt.Sprintf("%dms", session.HeartbeatLatency().Milliseconds()),
			Inline: true,
		},
		{Name: "Servers", Value: serverCount, Inline: true},
		{
			Name:   "Enabled channels",
			Value:  fmt.Sprintf("%d", p.registry.BindingCount()),
			Inline: true,
		},
	}
	if p.config.Discord.InviteURL != "" {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:  "Invite",
				Value: p.config.Discord.InviteURL,
			},
		)
	}

	embed := &discordgo.MessageEmbed{
		Title:     "Bot info",
		Color:     p.config.Discord.SuccessColor,
		Fields:    fields,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err = session.InteractionRespond(
		i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{embed},
				Flags:  discordgo.MessageFlagsEphemeral,
			},
		},
	); err != nil {
		logger.Error("error responding to interaction", tint.Err(err))
	}
}

func (p *Parley) handleFeedbackCommand(
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) {
	if p.config.Discord.OwnerID == "" {
		p.interactionReply(logger, i, "Feedback isn't configured for this bot.")
		return
	}

	options := discordInteractionOptions(i)
	feedback, ok := options[commandOptionFeedback]
	if !ok {
		logger.Warn("feedback command missing message option")
		return
	}

	dmChannel, err := p.discord.session.UserChannelCreate(p.config.Discord.OwnerID)
	if err != nil {
		logger.Error("error creating owner DM channel", tint.Err(err))
		p.interactionReply(
			logger, i, "Sorry, your feedback couldn't be delivered right now.",
		)
		return
	}
	content := fmt.Sprintf(
		"Feedback from **%s** (`%s`):\n%s",
		user.Username,
		user.ID,
		feedback.StringValue(),
	)
	if _, err = p.discord.session.ChannelMessageSend(
		dmChannel.ID, truncateReply(content),
	); err != nil {
		logger.Error("error forwarding feedback", tint.Err(err))
		p.interactionReply(
			logger, i, "Sorry, your feedback couldn't be delivered right now.",
		)
		return
	}
	logger.Info("feedback forwarded")
	p.interactionReply(logger, i, "Thanks for the feedback!")
}

func (p *Parley) handleServersCommand(
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) {
	if !p.isOwner(user) {
		p.interactionReply(logger, i, ownerOnlyNotice)
		return
	}

	guilds, err := p.discord.session.UserGuilds(maxUserGuildsFetch, "", "", false)
	if err != nil {
		logger.Error("error fetching guilds", tint.Err(err))
		p.interactionReply(logger, i, "Couldn't fetch the server list.")
		return
	}
	if len(guilds) == 0 {
		p.interactionReply(logger, i, "I'm not in any servers.")
		return
	}
	lines := make([]string, 0, len(guilds)+1)
	lines = append(lines, fmt.Sprintf("**Servers (%d):**", len(guilds)))
	for _, g := range guilds {
		lines = append(lines, fmt.Sprintf("- %s (`%s`)", g.Name, g.ID))
	}
	p.interactionReply(logger, i, truncateReply(strings.Join(lines, "\n")))
}

func (p *Parley) handleLeaveServerCommand(
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) {
	if !p.isOwner(user) {
		p.interactionReply(logger, i, ownerOnlyNotice)
		return
	}

	options := discordInteractionOptions(i)
	guildOption, ok := options[commandOptionGuildID]
	if !ok {
		logger.Warn("leaveserver command missing guild_id option")
		return
	}
	guildID := guildOption.StringValue()

	if err := p.discord.session.GuildLeave(guildID); err != nil {
		logger.Error("error leaving guild", tint.Err(err), "guild_id", guildID)
		p.interactionReply(
			logger, i, fmt.Sprintf("Couldn't leave server `%s`.", guildID),
		)
		return
	}
	logger.Info("left guild", "guild_id", guildID)
	p.interactionReply(logger, i, fmt.Sprintf("Left server `%s`.", guildID))
}
