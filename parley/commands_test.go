package parley

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOwnerID = "owner-1"

// commandInteraction builds an InteractionCreate for the given slash
// command, invoked from a guild channel
func commandInteraction(
	userID string,
	data discordgo.ApplicationCommandInteractionData,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction-1",
			Type:      discordgo.InteractionApplicationCommand,
			ChannelID: "chan-1",
			GuildID:   "guild-1",
			Member: &discordgo.Member{
				User: &discordgo.User{ID: userID, Username: "alice"},
			},
			Data: data,
		},
	}
}

func stringOption(
	name string,
	value string,
) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func blacklistInteraction(
	userID string,
	group string,
	sub string,
	id string,
) *discordgo.InteractionCreate {
	subOption := &discordgo.ApplicationCommandInteractionDataOption{
		Name: sub,
		Type: discordgo.ApplicationCommandOptionSubCommand,
	}
	if id != "" {
		subOption.Options = []*discordgo.ApplicationCommandInteractionDataOption{
			stringOption(commandOptionID, id),
		}
	}
	return commandInteraction(
		userID, discordgo.ApplicationCommandInteractionData{
			Name: DiscordSlashCommandBlacklist,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{
					Name:    group,
					Type:    discordgo.ApplicationCommandOptionSubCommandGroup,
					Options: []*discordgo.ApplicationCommandInteractionDataOption{subOption},
				},
			},
		},
	)
}

func TestSetupCommandBindsChannel(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	p := newTestParley(t, session, nil)

	i := commandInteraction(
		"user-a",
		discordgo.ApplicationCommandInteractionData{Name: DiscordSlashCommandSetup},
	)
	p.handleInteraction(context.Background(), i)

	guildID, bound := p.registry.ChannelGuild("chan-1")
	require.True(t, bound)
	assert.Equal(t, "guild-1", guildID)
	assert.Contains(t, session.lastInteractionContent(t), "enabled")
}

func TestSetupCommandRejectedInDM(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	p := newTestParley(t, session, nil)

	i := commandInteraction(
		"user-a",
		discordgo.ApplicationCommandInteractionData{Name: DiscordSlashCommandSetup},
	)
	i.GuildID = ""
	i.Member = nil
	i.User = &discordgo.User{ID: "user-a", Username: "alice"}

	p.handleInteraction(context.Background(), i)

	_, bound := p.registry.ChannelGuild("chan-1")
	assert.False(t, bound)
	assert.Equal(t, serverOnlyNotice, session.lastInteractionContent(t))
}

func TestDisableCommand(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	p := newTestParley(t, session, nil)

	i := commandInteraction(
		"user-a",
		discordgo.ApplicationCommandInteractionData{Name: DiscordSlashCommandDisable},
	)

	// disabling an unbound channel is a no-op with a distinct notice
	p.handleInteraction(context.Background(), i)
	assert.Contains(t, session.lastInteractionContent(t), "weren't enabled")

	p.registry.BindChannel("chan-1", "guild-1")
	p.handleInteraction(context.Background(), i)
	_, bound := p.registry.ChannelGuild("chan-1")
	assert.False(t, bound)
	assert.Contains(t, session.lastInteractionContent(t), "now disabled")
}

func TestBlacklistCommandOwnerOnly(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	p := newTestParley(t, session, nil)

	p.handleInteraction(
		context.Background(),
		blacklistInteraction("user-a", blacklistGroupUser, blacklistSubcommandAdd, "123"),
	)

	assert.False(t, p.registry.UserBlacklisted("123"))
	assert.Equal(t, ownerOnlyNotice, session.lastInteractionContent(t))
}

func TestBlacklistCommandUserLifecycle(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	p := newTestParley(t, session, nil)

	p.handleInteraction(
		context.Background(),
		blacklistInteraction(testOwnerID, blacklistGroupUser, blacklistSubcommandAdd, "123"),
	)
	assert.True(t, p.registry.UserBlacklisted("123"))

	p.handleInteraction(
		context.Background(),
		blacklistInteraction(testOwnerID, blacklistGroupUser, blacklistSubcommandList, ""),
	)
	listing := session.lastInteractionContent(t)
	assert.Contains(t, listing, "Blacklisted users")
	assert.Contains(t, listing, "`123`")

	p.handleInteraction(
		context.Background(),
		blacklistInteraction(testOwnerID, blacklistGroupUser, blacklistSubcommandRemove, "123"),
	)
	assert.False(t, p.registry.UserBlacklisted("123"))

	p.handleInteraction(
		context.Background(),
		blacklistInteraction(testOwnerID, blacklistGroupUser, blacklistSubcommandList, ""),
	)
	assert.Equal(t, noneBlacklisted, session.lastInteractionContent(t))
}

func TestBlacklistCommandServerLifecycle(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	p := newTestParley(t, session, nil)

	p.handleInteraction(
		context.Background(),
		blacklistInteraction(
			testOwnerID, blacklistGroupServer, blacklistSubcommandAdd, "bad-guild",
		),
	)
	assert.True(t, p.registry.ServerBlacklisted("bad-guild"))

	p.handleInteraction(
		context.Background(),
		blacklistInteraction(
			testOwnerID, blacklistGroupServer, blacklistSubcommandRemove, "bad-guild",
		),
	)
	assert.False(t, p.registry.ServerBlacklisted("bad-guild"))
}

func TestBotInfoCommand(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	session.userGuilds = []*discordgo.UserGuild{
		{ID: "guild-1", Name: "First"},
		{ID: "guild-2", Name: "Second"},
	}
	p := newTestParley(t, session, nil)
	p.registry.BindChannel("chan-1", "guild-1")

	p.handleInteraction(
		context.Background(),
		commandInteraction(
			"user-a",
			discordgo.ApplicationCommandInteractionData{Name: DiscordSlashCommandBotInfo},
		),
	)

	require.Len(t, session.interactionResponses, 1)
	resp := session.interactionResponses[0]
	require.NotNil(t, resp.Data)
	require.Len(t, resp.Data.Embeds, 1)

	fields := map[string]string{}
	for _, f := range resp.Data.Embeds[0].Fields {
		fields[f.Name] = f.Value
	}
	assert.Equal(t, "2", fields["Servers"])
	assert.Equal(t, "1", fields["Enabled channels"])
	assert.Equal(t, "40ms", fields["Latency"])
	assert.Equal(t, Version, fields["Version"])
}

func TestFeedbackCommandForwardsToOwner(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	session.dmChannel = &discordgo.Channel{ID: "dm-1"}
	p := newTestParley(t, session, nil)

	p.handleInteraction(
		context.Background(),
		commandInteraction(
			"user-a", discordgo.ApplicationCommandInteractionData{
				Name: DiscordSlashCommandFeedback,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					stringOption(commandOptionFeedback, "great bot, thanks"),
				},
			},
		),
	)

	require.Len(t, session.sentMessages["dm-1"], 1)
	forwarded := session.sentMessages["dm-1"][0]
	assert.Contains(t, forwarded, "great bot, thanks")
	assert.Contains(t, forwarded, "alice")
	assert.Contains(t, session.lastInteractionContent(t), "Thanks")
}

func TestServersCommand(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	session.userGuilds = []*discordgo.UserGuild{
		{ID: "guild-1", Name: "First"},
		{ID: "guild-2", Name: "Second"},
	}
	p := newTestParley(t, session, nil)

	serversData := discordgo.ApplicationCommandInteractionData{
		Name: DiscordSlashCommandServers,
	}

	p.handleInteraction(
		context.Background(), commandInteraction("user-a", serversData),
	)
	assert.Equal(t, ownerOnlyNotice, session.lastInteractionContent(t))

	p.handleInteraction(
		context.Background(), commandInteraction(testOwnerID, serversData),
	)
	listing := session.lastInteractionContent(t)
	assert.Contains(t, listing, "Servers (2)")
	assert.Contains(t, listing, "First (`guild-1`)")
	assert.Contains(t, listing, "Second (`guild-2`)")
}

func TestLeaveServerCommand(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	p := newTestParley(t, session, nil)

	leaveData := discordgo.ApplicationCommandInteractionData{
		Name: DiscordSlashCommandLeaveServer,
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			stringOption(commandOptionGuildID, "guild-2"),
		},
	}

	p.handleInteraction(
		context.Background(), commandInteraction("user-a", leaveData),
	)
	assert.Empty(t, session.leftGuilds)
	assert.Equal(t, ownerOnlyNotice, session.lastInteractionContent(t))

	p.handleInteraction(
		context.Background(), commandInteraction(testOwnerID, leaveData),
	)
	assert.Equal(t, []string{"guild-2"}, session.leftGuilds)
	assert.Contains(t, session.lastInteractionContent(t), "Left server")
}
