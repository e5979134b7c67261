package parley

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// legacyCommandPrefix marks messages handled by the legacy prefix command
// path - those never reach the AI gate.
const legacyCommandPrefix = "!"

// gateRejectReason identifies which stage of the message gate rejected an
// inbound message
type gateRejectReason string

const (
	gateAccepted                gateRejectReason = ""
	gateRejectBotAuthor         gateRejectReason = "bot_author"
	gateRejectUnboundChannel    gateRejectReason = "unbound_channel"
	gateRejectCommandPrefix     gateRejectReason = "command_prefix"
	gateRejectUserBlacklisted   gateRejectReason = "user_blacklisted"
	gateRejectServerBlacklisted gateRejectReason = "server_blacklisted"
)

func (g gateRejectReason) String() string {
	return string(g)
}

// evaluateMessageGate decides whether the bot should respond to the given
// message at all. It's a pure function of the message, the bot's own user
// ID and the registry - no I/O, no state changes.
//
// Stages run in fixed order, short-circuiting on the first reject:
//
//  1. automated authors (any bot, including this one) never trigger a response
//  2. the channel must have a binding
//  3. legacy prefix commands are handled elsewhere
//  4. blacklisted users are ignored
//  5. blacklisted guilds are ignored (DMs have no guild and skip this stage)
func evaluateMessageGate(
	m *discordgo.Message,
	botUserID string,
	registry *Registry,
) gateRejectReason {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == botUserID {
		return gateRejectBotAuthor
	}
	if _, ok := registry.ChannelGuild(m.ChannelID); !ok {
		return gateRejectUnboundChannel
	}
	if strings.HasPrefix(m.Content, legacyCommandPrefix) {
		return gateRejectCommandPrefix
	}
	if registry.UserBlacklisted(m.Author.ID) {
		return gateRejectUserBlacklisted
	}
	if m.GuildID != "" && registry.ServerBlacklisted(m.GuildID) {
		return gateRejectServerBlacklisted
	}
	return gateAccepted
}
