package chatcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForChatAPI_PrependsSystemPrompt(t *testing.T) {
	turns := []ContextTurn{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there"},
		{Role: RoleUser, Content: "draw a sunset"},
	}
	got := FormatForChatAPI(turns, "SYS")

	require.Len(t, got, 4)
	assert.Equal(t, Message{Role: RoleSystem, Content: "SYS"}, got[0])
	assert.Equal(t, Message{Role: RoleUser, Content: "hello"}, got[1])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "hi there"}, got[2])
	assert.Equal(t, Message{Role: RoleUser, Content: "draw a sunset"}, got[3])
}

func TestFormatForChatAPI_NoSystemPrompt(t *testing.T) {
	got := FormatForChatAPI([]ContextTurn{{Role: RoleUser, Content: "hey"}}, "")
	require.Len(t, got, 1)
	assert.Equal(t, RoleUser, got[0].Role)
}

func TestFormatForChatAPI_RewritesAssistantImageTurns(t *testing.T) {
	turns := []ContextTurn{
		{Role: RoleAssistant, Content: "a cat", ImageRef: "https://cdn/cat.png"},
	}
	got := FormatForChatAPI(turns, "")

	require.Len(t, got, 1)
	assert.Equal(t, `[Generated image for prompt: "a cat"]`, got[0].Content)
}

func TestFormatForChatAPI_UserImageTurnsPassThrough(t *testing.T) {
	turns := []ContextTurn{
		{Role: RoleUser, Content: "make it bluer", ImageRef: "https://cdn/cat.png"},
	}
	got := FormatForChatAPI(turns, "")

	require.Len(t, got, 1)
	assert.Equal(t, "make it bluer", got[0].Content)
}

func TestFormatAsNarrative_FullTranscript(t *testing.T) {
	turns := []ContextTurn{
		{Role: RoleUser, Content: "draw a fox"},
		{Role: RoleAssistant, Content: "a fox", ImageRef: "https://cdn/fox.png"},
	}
	got := FormatAsNarrative(turns, "Be painterly.")

	want := "System: Be painterly.\n\n" +
		"Previous conversation:\n" +
		"User: draw a fox\n" +
		"Assistant: [Generated image for prompt: \"a fox\"]\n" +
		"\nCurrent request:\n"
	assert.Equal(t, want, got)
}

func TestFormatAsNarrative_EmptyTurnsOnlyPrefix(t *testing.T) {
	assert.Equal(t, "System: SP\n\n", FormatAsNarrative(nil, "SP"))
}

func TestFormatAsNarrative_EmptyEverything(t *testing.T) {
	assert.Equal(t, "", FormatAsNarrative(nil, ""))
}

func TestFormatAsNarrative_NoSystemPrompt(t *testing.T) {
	got := FormatAsNarrative([]ContextTurn{{Role: RoleUser, Content: "hi"}}, "")
	want := "Previous conversation:\nUser: hi\n\nCurrent request:\n"
	assert.Equal(t, want, got)
}

func TestEndToEnd_SelectThenFormat(t *testing.T) {
	src := &fakeSource{turns: []Turn{
		userTurn("draw a sunset"),
		assistantTurn("hi there"),
		userTurn("hello"),
	}}
	a := newTestAssembler(src, Options{})

	window := a.SelectRecent(context.Background(), "s1", 1000)
	require.Len(t, window, 3)

	total := 0
	for _, ct := range window {
		total += wordCount(ct.Content)
	}
	assert.Equal(t, 6, total)

	msgs := FormatForChatAPI(window, "SYS")
	require.Len(t, msgs, 4)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, "draw a sunset", msgs[3].Content)
}
