package parley

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newestFirst reverses a chronological message slice into the order the
// channel messages endpoint returns
func newestFirst(chronological []*discordgo.Message) []*discordgo.Message {
	reversed := make([]*discordgo.Message, 0, len(chronological))
	for i := len(chronological) - 1; i >= 0; i-- {
		reversed = append(reversed, chronological[i])
	}
	return reversed
}

func botMessage(content string) *discordgo.Message {
	return &discordgo.Message{
		Content: content,
		Author:  &discordgo.User{ID: testBotUserID, Username: "parley", Bot: true},
	}
}

func userMessage(userID string, username string, content string) *discordgo.Message {
	return &discordgo.Message{
		Content: content,
		Author:  &discordgo.User{ID: userID, Username: username},
	}
}

func TestBuildConversationLogPersonaFirst(t *testing.T) {
	t.Parallel()

	log := buildConversationLog(nil, nil, testBotUserID)
	require.Len(t, log, 1)
	assert.Equal(t, roleSystem, log[0].Role)
	assert.Equal(t, personaPrompt, log[0].Content)

	trigger := userMessage("user-a", "alice", "hi")
	log = buildConversationLog(
		newestFirst([]*discordgo.Message{trigger}), trigger, testBotUserID,
	)
	require.NotEmpty(t, log)
	assert.Equal(t, roleSystem, log[0].Role)
	assert.Equal(t, personaPrompt, log[0].Content)
}

func TestBuildConversationLogDropsBystanders(t *testing.T) {
	t.Parallel()

	trigger := userMessage("user-a", "alice", "what about now?")
	chronological := []*discordgo.Message{
		botMessage("hello!"),
		userMessage("user-a", "alice", "hi bot"),
		userMessage("user-b", "bob", "I am a bystander"),
		trigger,
	}

	log := buildConversationLog(newestFirst(chronological), trigger, testBotUserID)

	require.Len(t, log, 4)
	assert.Equal(t, roleSystem, log[0].Role)
	assert.Equal(t, roleAssistant, log[1].Role)
	assert.Equal(t, "hello!", log[1].Content)
	assert.Equal(t, roleUser, log[2].Role)
	assert.Equal(t, "hi bot", log[2].Content)
	assert.Equal(t, roleUser, log[3].Role)
	assert.Equal(t, "what about now?", log[3].Content)

	for _, turn := range log {
		assert.NotContains(t, turn.Content, "bystander")
	}
}

func TestBuildConversationLogSkipsPrefixedAndOtherBots(t *testing.T) {
	t.Parallel()

	trigger := userMessage("user-a", "alice", "real question")
	chronological := []*discordgo.Message{
		userMessage("user-a", "alice", "!legacy command"),
		{
			Content: "automated announcement",
			Author:  &discordgo.User{ID: "other-bot", Username: "announcer", Bot: true},
		},
		botMessage("!I start with the prefix"),
		trigger,
	}

	log := buildConversationLog(newestFirst(chronological), trigger, testBotUserID)

	require.Len(t, log, 2)
	assert.Equal(t, roleSystem, log[0].Role)
	assert.Equal(t, roleUser, log[1].Role)
	assert.Equal(t, "real question", log[1].Content)
}

func TestBuildConversationLogUsesTriggerAuthorName(t *testing.T) {
	t.Parallel()

	trigger := userMessage("user-a", "Alice Smith!", "second message")
	chronological := []*discordgo.Message{
		// historical message from the trigger author, different display
		// details don't matter - the trigger author's username is used
		userMessage("user-a", "whatever", "first message"),
		botMessage("a reply"),
		trigger,
	}

	log := buildConversationLog(newestFirst(chronological), trigger, testBotUserID)

	require.Len(t, log, 4)
	assert.Equal(t, "Alice_Smith", log[1].Name)
	assert.Equal(t, roleAssistant, log[2].Role)
	assert.Equal(t, "parley", log[2].Name)
	assert.Equal(t, "Alice_Smith", log[3].Name)
}

func TestSanitizeDisplayName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"alice", "alice"},
		{"Alice Smith", "Alice_Smith"},
		{"we!rd@name", "werdname"},
		{"a  b\tc", "a_b_c"},
		{"__ok__", "__ok__"},
		{"émile", "mile"},
		{"", ""},
	}
	for _, tc := range tests {
		t.Run(
			tc.in, func(t *testing.T) {
				assert.Equal(t, tc.want, sanitizeDisplayName(tc.in))
			},
		)
	}
}

func TestTruncateReply(t *testing.T) {
	t.Parallel()

	short := "short reply"
	assert.Equal(t, short, truncateReply(short))

	exact := strings.Repeat("a", discordMaxMessageLength)
	assert.Equal(t, exact, truncateReply(exact))

	long := strings.Repeat("a", 2500)
	truncated := truncateReply(long)
	assert.Len(t, []rune(truncated), discordMaxMessageLength)
	assert.True(t, strings.HasSuffix(truncated, replyEllipsis))
}
