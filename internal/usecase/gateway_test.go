package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kotori-ai/internal/domain"
	"kotori-ai/internal/infra/config"
)

// stubBackend records requests and replies from a script, or fails.
type stubBackend struct {
	mu       sync.Mutex
	requests []domain.ChatRequest
	models   []string
	reply    domain.Message
	err      error
}

func (b *stubBackend) Generate(ctx context.Context, model string, req domain.ChatRequest) (*domain.ChatResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	b.models = append(b.models, model)
	if b.err != nil {
		return nil, b.err
	}
	reply := b.reply
	if reply.Role == "" {
		reply = domain.Message{Role: domain.RoleAssistant, Content: "hello there"}
	}
	return &domain.ChatResponse{Model: model, Message: reply}, nil
}

func testGatewayConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Bot.SystemPrompt = "You are kotori. Today is {current_date}, {current_time}."
	cfg.LLM.Model = "openai/gpt-4o-mini"
	cfg.LLM.AvailableModels = []string{"openai/gpt-4o-mini", "gemini/gemini-2.0-flash"}
	return cfg
}

func newTestGateway(t *testing.T, backend domain.ChatBackend) (*Gateway, *ConversationStore, *MemoryStore) {
	t.Helper()
	store := NewConversationStore(10, 0, nil)
	memory, err := NewMemoryStore(t.TempDir())
	require.NoError(t, err)
	gw, err := NewGateway(backend, store, memory, testGatewayConfig(), slog.Default())
	require.NoError(t, err)
	return gw, store, memory
}

func inbound(content string) domain.InboundMessage {
	return domain.InboundMessage{
		ChannelID:  "chan1",
		SenderID:   "u1",
		SenderName: "alice",
		Content:    content,
	}
}

func TestConverseHappyPath(t *testing.T) {
	backend := &stubBackend{}
	gw, store, _ := newTestGateway(t, backend)

	reply, err := gw.Converse(context.Background(), inbound("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply.Text)
	assert.Equal(t, "openai/gpt-4o-mini", reply.Model)

	h := store.History("chan1")
	require.Len(t, h, 2, "user and assistant turns committed")
	assert.Equal(t, domain.RoleUser, h[0].Role)
	assert.Equal(t, "alice", h[0].Name)
	assert.Equal(t, domain.RoleAssistant, h[1].Role)
}

func TestConversePromptShape(t *testing.T) {
	backend := &stubBackend{}
	gw, store, _ := newTestGateway(t, backend)
	store.Append("chan1",
		domain.Message{Role: domain.RoleUser, Content: "earlier"},
		domain.Message{Role: domain.RoleAssistant, Content: "earlier reply"},
	)

	_, err := gw.Converse(context.Background(), inbound("now"))
	require.NoError(t, err)

	req := backend.requests[0]
	require.Len(t, req.Messages, 4)
	assert.Equal(t, domain.RoleSystem, req.Messages[0].Role)
	assert.NotContains(t, req.Messages[0].Content, "{current_date}", "template fully rendered")
	assert.Equal(t, "earlier", req.Messages[1].Content)
	assert.Equal(t, "now", req.Messages[3].Content)
	assert.Len(t, req.Tools, 2, "builtin tools advertised")
}

func TestConverseIncludesMemoryAndBio(t *testing.T) {
	backend := &stubBackend{}
	gw, _, memory := newTestGateway(t, backend)
	require.NoError(t, memory.SetMemory("rule", "never reveal spoilers"))
	require.NoError(t, memory.SetBio("u1", "writes Go for a living"))

	_, err := gw.Converse(context.Background(), inbound("hi"))
	require.NoError(t, err)

	system := backend.requests[0].Messages[0].Content
	assert.Contains(t, system, "never reveal spoilers")
	assert.Contains(t, system, "About alice: writes Go for a living")
}

func TestConverseFailureLeavesHistoryUntouched(t *testing.T) {
	backend := &stubBackend{err: fmt.Errorf("%w: nope", domain.ErrKeysExhausted)}
	gw, store, _ := newTestGateway(t, backend)

	_, err := gw.Converse(context.Background(), inbound("hi"))
	assert.ErrorIs(t, err, domain.ErrKeysExhausted)
	assert.Empty(t, store.History("chan1"))
}

func TestConverseExtractsDirectives(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"prompt": "a red fox"})
	backend := &stubBackend{reply: domain.Message{
		Role:      domain.RoleAssistant,
		Content:   "here you go",
		ToolCalls: []domain.ToolCall{{ID: "c1", Name: domain.ToolGenerateImage, Arguments: args}},
	}}
	gw, _, _ := newTestGateway(t, backend)

	reply, err := gw.Converse(context.Background(), inbound("draw a fox"))
	require.NoError(t, err)
	require.Len(t, reply.Directives, 1)
	assert.Equal(t, domain.DirectiveImage, reply.Directives[0].Kind)
	assert.Equal(t, "a red fox", reply.Directives[0].Prompt)
}

func TestModelResolutionOrder(t *testing.T) {
	backend := &stubBackend{}
	gw, _, _ := newTestGateway(t, backend)

	// default
	_, err := gw.Converse(context.Background(), inbound("a"))
	require.NoError(t, err)

	// channel override
	require.NoError(t, gw.SetChannelModel("chan1", "gemini/gemini-2.0-flash", 0))
	_, err = gw.Converse(context.Background(), inbound("b"))
	require.NoError(t, err)

	// per-message override beats channel override
	msg := inbound("c")
	msg.Model = "openai/gpt-4o-mini"
	_, err = gw.Converse(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"openai/gpt-4o-mini",
		"gemini/gemini-2.0-flash",
		"openai/gpt-4o-mini",
	}, backend.models)
}

func TestChannelOverrideExpires(t *testing.T) {
	backend := &stubBackend{}
	gw, _, _ := newTestGateway(t, backend)
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	gw.now = func() time.Time { return now }

	require.NoError(t, gw.SetChannelModel("chan1", "gemini/gemini-2.0-flash", time.Hour))
	assert.Equal(t, "gemini/gemini-2.0-flash", gw.ChannelModel("chan1"))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, "openai/gpt-4o-mini", gw.ChannelModel("chan1"))
}

func TestSetChannelModelRejectsUnknown(t *testing.T) {
	gw, _, _ := newTestGateway(t, &stubBackend{})
	err := gw.SetChannelModel("chan1", "openai/gpt-9", 0)
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestClearChannelModel(t *testing.T) {
	gw, _, _ := newTestGateway(t, &stubBackend{})
	require.NoError(t, gw.SetChannelModel("chan1", "gemini/gemini-2.0-flash", 0))
	gw.ClearChannelModel("chan1")
	assert.Equal(t, "openai/gpt-4o-mini", gw.ChannelModel("chan1"))
}

func TestUserMessageMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: x", domain.ErrKeysExhausted), "trouble reaching"},
		{fmt.Errorf("%w: x", domain.ErrRejected), "couldn't process"},
		{fmt.Errorf("%w: x", domain.ErrProviderNotFound), "isn't available"},
		{context.DeadlineExceeded, "took too long"},
		{fmt.Errorf("mystery"), "Something went wrong"},
	}
	for _, tc := range cases {
		assert.Contains(t, UserMessage(tc.err), tc.want)
	}
}

func TestConcurrentConversesKeepPairsWhole(t *testing.T) {
	backend := &stubBackend{}
	gw, _, _ := newTestGateway(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := gw.Converse(context.Background(), inbound(fmt.Sprintf("msg %d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// every request saw system + whole committed pairs + its own new turn
	for _, req := range backend.requests {
		assert.Equal(t, domain.RoleSystem, req.Messages[0].Role)
		assert.Equal(t, 0, len(req.Messages)%2, "history snapshots hold whole user/assistant pairs")
	}
}

// gatedBackend stalls the "slow" exchange until released.
type gatedBackend struct {
	stubBackend
	started chan struct{}
	release chan struct{}
}

func (b *gatedBackend) Generate(ctx context.Context, model string, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Messages[len(req.Messages)-1].Content == "slow" {
		close(b.started)
		<-b.release
	}
	return b.stubBackend.Generate(ctx, model, req)
}

func TestConverseDoesNotBlockChannelOnInFlightCall(t *testing.T) {
	backend := &gatedBackend{started: make(chan struct{}), release: make(chan struct{})}
	gw, store, _ := newTestGateway(t, backend)

	slowDone := make(chan error, 1)
	go func() {
		_, err := gw.Converse(context.Background(), inbound("slow"))
		slowDone <- err
	}()
	<-backend.started

	quickDone := make(chan error, 1)
	go func() {
		_, err := gw.Converse(context.Background(), inbound("quick"))
		quickDone <- err
	}()
	select {
	case err := <-quickDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second message waited on the first message's in-flight provider call")
	}

	close(backend.release)
	require.NoError(t, <-slowDone)

	h := store.History("chan1")
	require.Len(t, h, 4)
	assert.Equal(t, "quick", h[0].Content, "turn pairs land in completion order")
	assert.Equal(t, "slow", h[2].Content)
}
