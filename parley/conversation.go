package parley

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

const (
	// conversationHistoryLimit is the number of recent channel messages
	// fetched when assembling a conversation log
	conversationHistoryLimit = 15

	// personaPrompt is the fixed system turn opening every conversation log
	personaPrompt = "You are a friendly chatbot."

	// completionFallbackMessage is delivered when the history fetch or the
	// completion request fails - the user always gets a reply
	completionFallbackMessage = "Failed to get AI response. Please try again later."

	replyEllipsis = "..."
)

const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
)

// ConversationTurn is a single role-tagged entry in a conversation log
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

var (
	displayNameDisallowed = regexp.MustCompile(`[^\w\s]`)
	displayNameWhitespace = regexp.MustCompile(`\s+`)
)

// sanitizeDisplayName strips characters OpenAI rejects in the `name` field:
// anything outside the alphanumeric/underscore/whitespace set is removed,
// then whitespace runs are collapsed to single underscores.
func sanitizeDisplayName(name string) string {
	name = displayNameDisallowed.ReplaceAllString(name, "")
	return displayNameWhitespace.ReplaceAllString(name, "_")
}

// buildConversationLog folds recent channel history into a bounded,
// ordered conversation log for the completion API.
//
// history is expected newest-first, as returned by the channel messages
// endpoint, and is reversed into chronological order before folding. The
// log always opens with a single system persona turn. Messages starting
// with the legacy command prefix are skipped, as are messages from bots
// other than this one. Bot messages become assistant turns; messages from
// the trigger's author become user turns carrying the trigger author's
// sanitized username. Messages from anyone else contribute nothing.
func buildConversationLog(
	history []*discordgo.Message,
	trigger *discordgo.Message,
	botUserID string,
) []ConversationTurn {
	log := make([]ConversationTurn, 0, len(history)+1)
	log = append(log, ConversationTurn{Role: roleSystem, Content: personaPrompt})

	triggerAuthorID := ""
	triggerAuthorName := ""
	if trigger != nil && trigger.Author != nil {
		triggerAuthorID = trigger.Author.ID
		triggerAuthorName = sanitizeDisplayName(trigger.Author.Username)
	}

	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m == nil || m.Author == nil {
			continue
		}
		if strings.HasPrefix(m.Content, legacyCommandPrefix) {
			continue
		}
		switch {
		case m.Author.ID == botUserID:
			log = append(
				log, ConversationTurn{
					Role:    roleAssistant,
					Content: m.Content,
					Name:    sanitizeDisplayName(m.Author.Username),
				},
			)
		case m.Author.Bot:
			// other bots never contribute turns
		case m.Author.ID == triggerAuthorID:
			log = append(
				log, ConversationTurn{
					Role:    roleUser,
					Content: m.Content,
					Name:    triggerAuthorName,
				},
			)
		default:
			// bystanders in multi-user channels are dropped, not merged
		}
	}
	return log
}

// truncateReply bounds a completion result to the discord message length
// limit, cutting and appending an ellipsis if necessary
func truncateReply(s string) string {
	if utf8.RuneCountInString(s) <= discordMaxMessageLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:discordMaxMessageLength-len(replyEllipsis)]) + replyEllipsis
}
