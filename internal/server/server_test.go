package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/pixelchat/internal/assets"
	"github.com/stupiduntilnot/pixelchat/internal/chatcontext"
	"github.com/stupiduntilnot/pixelchat/internal/config"
	"github.com/stupiduntilnot/pixelchat/internal/db"
	"github.com/stupiduntilnot/pixelchat/internal/model"
)

type stubText struct {
	mu          sync.Mutex
	reply       string
	err         error
	calls       int
	gotMessages []chatcontext.Message
}

func (s *stubText) GenerateText(_ context.Context, messages []chatcontext.Message) (model.TextResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.gotMessages = messages
	if s.err != nil {
		return model.TextResult{}, s.err
	}
	return model.TextResult{Content: s.reply, InputTokens: 12, OutputTokens: 7}, nil
}

type stubImage struct {
	mu        sync.Mutex
	data      []byte
	err       error
	calls     int
	gotPrompt string
	gotSource []byte
}

func (s *stubImage) GenerateImage(_ context.Context, prompt string, _ model.ImageOptions) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.gotPrompt = prompt
	return s.data, s.err
}

func (s *stubImage) EditImage(_ context.Context, image []byte, prompt string, _ model.ImageOptions) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.gotPrompt = prompt
	s.gotSource = image
	return s.data, s.err
}

type testEnv struct {
	srv   *httptest.Server
	db    *sql.DB
	text  *stubText
	image *stubImage
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.DBPath = filepath.Join(dir, "test.db")
	cfg.AssetRoot = filepath.Join(dir, "assets")
	// Keep failure-path tests fast: no retries unless a test asks for them.
	cfg.ProviderMaxAttempts = 1
	if mutate != nil {
		mutate(&cfg)
	}

	database, err := db.OpenDB(cfg.DBPath)
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(database))
	t.Cleanup(func() { database.Close() })

	logger := zerolog.Nop()
	store := assets.NewStore(cfg.AssetRoot, cfg.AssetBaseURL, database, logger)
	assembler := chatcontext.NewAssembler(&db.TurnSource{DB: database}, chatcontext.Options{
		RecentFetchLimit:   cfg.RecentFetchLimit,
		RelevantFetchLimit: cfg.RelevantFetchLimit,
		RecencyWeight:      cfg.RecencyWeight,
	}, logger)

	text := &stubText{reply: "a fine reply"}
	image := &stubImage{data: []byte("fake-png-bytes")}
	srv := httptest.NewServer(New(cfg, database, assembler, text, image, store, logger).Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, db: database, text: text, image: image}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func (e *testEnv) grant(t *testing.T, userID string, amount int64) {
	t.Helper()
	resp := e.postJSON(t, "/api/credits/grant", map[string]any{"user_id": userID, "amount": amount})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestChat_HappyPath(t *testing.T) {
	env := newTestEnv(t, nil)
	env.grant(t, "alice", 5)

	resp := env.postJSON(t, "/api/chat", chatRequest{SessionID: "s1", UserID: "alice", Message: "draw me a red fox"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[chatResponse](t, resp)

	assert.Equal(t, "a fine reply", out.Reply)
	assert.Equal(t, int64(4), out.Balance)
	assert.Equal(t, 12, out.InputTokens)

	// System prompt leads, current message rides last.
	require.NotEmpty(t, env.text.gotMessages)
	assert.Equal(t, chatcontext.RoleSystem, env.text.gotMessages[0].Role)
	last := env.text.gotMessages[len(env.text.gotMessages)-1]
	assert.Equal(t, chatcontext.RoleUser, last.Role)
	assert.Equal(t, "draw me a red fox", last.Content)

	// Both turns persisted.
	listResp, err := http.Get(env.srv.URL + "/api/sessions/s1/turns")
	require.NoError(t, err)
	turns := decodeBody[[]turnDoc](t, listResp)
	require.Len(t, turns, 2)
	assert.Equal(t, chatcontext.RoleUser, turns[0].Role)
	assert.Equal(t, "a fine reply", turns[1].Text)
}

func TestChat_ContextCarriesHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.grant(t, "alice", 10)

	first := env.postJSON(t, "/api/chat", chatRequest{SessionID: "s1", UserID: "alice", Message: "a castle on a hill"})
	require.Equal(t, http.StatusOK, first.StatusCode)
	first.Body.Close()

	second := env.postJSON(t, "/api/chat", chatRequest{SessionID: "s1", UserID: "alice", Message: "make the castle purple"})
	require.Equal(t, http.StatusOK, second.StatusCode)
	second.Body.Close()

	var sawHistory bool
	for _, m := range env.text.gotMessages {
		if m.Content == "a castle on a hill" {
			sawHistory = true
		}
	}
	assert.True(t, sawHistory, "second call should carry the first exchange in context")
}

func TestChat_MissingSessionIDStartsNewSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.grant(t, "alice", 5)

	resp := env.postJSON(t, "/api/chat", chatRequest{UserID: "alice", Message: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[chatResponse](t, resp)
	require.NotEmpty(t, out.SessionID)

	listResp, err := http.Get(env.srv.URL + "/api/sessions/" + out.SessionID + "/turns")
	require.NoError(t, err)
	turns := decodeBody[[]turnDoc](t, listResp)
	assert.Len(t, turns, 2)
}

func TestChat_ZeroCostSkipsLedger(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.ChatCost = 0
	})

	// No grant: a free chat must succeed with an untouched ledger.
	resp := env.postJSON(t, "/api/chat", chatRequest{SessionID: "s1", UserID: "alice", Message: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[chatResponse](t, resp)
	assert.Equal(t, "a fine reply", out.Reply)
	assert.Equal(t, int64(0), out.Balance)

	entries, err := db.ListCreditEntries(env.db, "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChat_ZeroCostProviderFailureSkipsRefund(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.ChatCost = 0
	})
	env.text.err = fmt.Errorf("upstream exploded")

	resp := env.postJSON(t, "/api/chat", chatRequest{SessionID: "s1", UserID: "alice", Message: "hello"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	entries, err := db.ListCreditEntries(env.db, "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChat_InsufficientCredits(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.postJSON(t, "/api/chat", chatRequest{SessionID: "s1", UserID: "broke", Message: "hello"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, 0, env.text.calls)
}

func TestChat_ProviderFailureRefunds(t *testing.T) {
	env := newTestEnv(t, nil)
	env.text.err = fmt.Errorf("upstream exploded")
	env.grant(t, "alice", 5)

	resp := env.postJSON(t, "/api/chat", chatRequest{SessionID: "s1", UserID: "alice", Message: "hello"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	balance, err := db.Balance(env.db, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)

	entries, err := db.ListCreditEntries(env.db, "alice", 10)
	require.NoError(t, err)
	reasons := make([]string, 0, len(entries))
	for _, e := range entries {
		reasons = append(reasons, e.Reason)
	}
	assert.Contains(t, reasons, "chat")
	assert.Contains(t, reasons, "refund")
}

func TestChat_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.BreakerThreshold = 1
	})
	env.text.err = fmt.Errorf("upstream exploded")
	env.grant(t, "alice", 10)

	first := env.postJSON(t, "/api/chat", chatRequest{SessionID: "s1", UserID: "alice", Message: "one"})
	first.Body.Close()
	assert.Equal(t, http.StatusBadGateway, first.StatusCode)

	second := env.postJSON(t, "/api/chat", chatRequest{SessionID: "s1", UserID: "alice", Message: "two"})
	second.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, second.StatusCode)
	assert.Equal(t, 1, env.text.calls, "open breaker must not reach the provider")

	// Both debits refunded.
	balance, err := db.Balance(env.db, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestChat_BadRequest(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.postJSON(t, "/api/chat", chatRequest{SessionID: "s1", UserID: "alice", Message: "   "})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateImage_StoresAssetAndTurn(t *testing.T) {
	env := newTestEnv(t, nil)
	env.grant(t, "alice", 20)

	resp := env.postJSON(t, "/api/images/generate", imageRequest{SessionID: "s1", UserID: "alice", Prompt: "a red fox"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[imageResponse](t, resp)
	assert.Equal(t, int64(10), out.Balance)
	require.NotEmpty(t, out.URL)

	// The stored file is served back over /assets/.
	u, err := url.Parse(out.URL)
	require.NoError(t, err)
	served, err := http.Get(env.srv.URL + u.Path)
	require.NoError(t, err)
	defer served.Body.Close()
	require.Equal(t, http.StatusOK, served.StatusCode)

	listResp, err := http.Get(env.srv.URL + "/api/sessions/s1/turns")
	require.NoError(t, err)
	turns := decodeBody[[]turnDoc](t, listResp)
	require.Len(t, turns, 2)
	assert.Equal(t, out.URL, turns[1].ImageRef)
	assert.Equal(t, "a red fox", turns[1].PromptText)

	// Narrative context precedes the request in the provider prompt.
	assert.Contains(t, env.image.gotPrompt, "a red fox")
}

func TestEditImage_RoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	env.grant(t, "alice", 30)

	gen := env.postJSON(t, "/api/images/generate", imageRequest{SessionID: "s1", UserID: "alice", Prompt: "a red fox"})
	require.Equal(t, http.StatusOK, gen.StatusCode)
	genOut := decodeBody[imageResponse](t, gen)

	env.image.data = []byte("edited-png-bytes")
	edit := env.postJSON(t, "/api/images/edit", imageEditRequest{
		SessionID: "s1",
		UserID:    "alice",
		ImageURL:  genOut.URL,
		Prompt:    "make it blue",
	})
	require.Equal(t, http.StatusOK, edit.StatusCode)
	editOut := decodeBody[imageResponse](t, edit)

	assert.NotEqual(t, genOut.URL, editOut.URL)
	assert.Equal(t, []byte("fake-png-bytes"), env.image.gotSource)
	assert.Equal(t, int64(10), editOut.Balance)

	// Edits carry the session narrative ahead of the request, like generate.
	assert.Contains(t, env.image.gotPrompt, "Previous conversation:")
	assert.Contains(t, env.image.gotPrompt, "a red fox")
	assert.Contains(t, env.image.gotPrompt, "make it blue")
}

func TestEditImage_UnknownURL(t *testing.T) {
	env := newTestEnv(t, nil)
	env.grant(t, "alice", 30)

	resp := env.postJSON(t, "/api/images/edit", imageEditRequest{
		SessionID: "s1",
		UserID:    "alice",
		ImageURL:  "http://elsewhere/assets/s1/x.png",
		Prompt:    "make it blue",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Rejected before any debit.
	balance, err := db.Balance(env.db, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
}

func TestDeleteSession_RemovesTurnsAndAssets(t *testing.T) {
	env := newTestEnv(t, nil)
	env.grant(t, "alice", 20)

	gen := env.postJSON(t, "/api/images/generate", imageRequest{SessionID: "s1", UserID: "alice", Prompt: "a red fox"})
	require.Equal(t, http.StatusOK, gen.StatusCode)
	genOut := decodeBody[imageResponse](t, gen)

	req, err := http.NewRequest(http.MethodDelete, env.srv.URL+"/api/sessions/s1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	listResp, err := http.Get(env.srv.URL + "/api/sessions/s1/turns")
	require.NoError(t, err)
	turns := decodeBody[[]turnDoc](t, listResp)
	assert.Empty(t, turns)

	u, err := url.Parse(genOut.URL)
	require.NoError(t, err)
	served, err := http.Get(env.srv.URL + u.Path)
	require.NoError(t, err)
	served.Body.Close()
	assert.Equal(t, http.StatusNotFound, served.StatusCode)
}

func TestCredits_GrantAndQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	env.grant(t, "bob", 7)

	resp, err := http.Get(env.srv.URL + "/api/credits?user_id=bob")
	require.NoError(t, err)
	out := decodeBody[balanceResponse](t, resp)
	assert.Equal(t, int64(7), out.Balance)
	require.Len(t, out.Entries, 1)
	assert.Equal(t, "grant", out.Entries[0].Reason)
	assert.Equal(t, int64(7), out.Entries[0].Amount)
}

func TestCredits_EntriesCarrySignedDeltas(t *testing.T) {
	env := newTestEnv(t, nil)
	env.grant(t, "bob", 7)

	chat := env.postJSON(t, "/api/chat", chatRequest{SessionID: "s1", UserID: "bob", Message: "hello"})
	require.Equal(t, http.StatusOK, chat.StatusCode)
	chat.Body.Close()

	resp, err := http.Get(env.srv.URL + "/api/credits?user_id=bob")
	require.NoError(t, err)
	out := decodeBody[balanceResponse](t, resp)
	assert.Equal(t, int64(6), out.Balance)

	amounts := map[string]int64{}
	for _, e := range out.Entries {
		amounts[e.Reason] = e.Amount
	}
	assert.Equal(t, int64(7), amounts["grant"])
	assert.Equal(t, int64(-1), amounts["chat"])
}

func TestCredits_UnknownUserHasZeroBalance(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.srv.URL + "/api/credits?user_id=nobody")
	require.NoError(t, err)
	out := decodeBody[balanceResponse](t, resp)
	assert.Equal(t, int64(0), out.Balance)
	assert.Empty(t, out.Entries)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
