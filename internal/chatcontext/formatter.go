package chatcontext

import (
	"fmt"
	"strings"
)

// Message is a provider-shaped chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FormatForChatAPI projects a context window into the role/content list a
// chat-completion provider expects. A non-empty systemPrompt is prepended as
// a system message. Assistant turns that carry an image reference are
// rewritten into a textual caption of the generating prompt, since the chat
// API receives no image payloads.
func FormatForChatAPI(turns []ContextTurn, systemPrompt string) []Message {
	messages := make([]Message, 0, len(turns)+1)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	for _, t := range turns {
		messages = append(messages, Message{Role: t.Role, Content: displayContent(t)})
	}
	return messages
}

// FormatAsNarrative projects a context window into a single prose block for
// providers that take one prompt string. The caller appends the current
// request text after the trailing "Current request:" sentinel. An empty
// window produces only the optional system-prompt prefix.
func FormatAsNarrative(turns []ContextTurn, systemPrompt string) string {
	var b strings.Builder
	if systemPrompt != "" {
		b.WriteString("System: ")
		b.WriteString(systemPrompt)
		b.WriteString("\n\n")
	}
	if len(turns) == 0 {
		return b.String()
	}

	b.WriteString("Previous conversation:\n")
	for _, t := range turns {
		b.WriteString(roleLabel(t.Role))
		b.WriteString(": ")
		b.WriteString(displayContent(t))
		b.WriteString("\n")
	}
	b.WriteString("\nCurrent request:\n")
	return b.String()
}

func displayContent(t ContextTurn) string {
	if t.Role == RoleAssistant && t.ImageRef != "" {
		return fmt.Sprintf("[Generated image for prompt: \"%s\"]", t.Content)
	}
	return t.Content
}

func roleLabel(role string) string {
	switch role {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	}
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
}
