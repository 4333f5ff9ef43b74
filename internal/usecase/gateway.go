package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"kotori-ai/internal/domain"
	"kotori-ai/internal/infra/config"
	"kotori-ai/internal/infra/tracer"
)

// Gateway is the single entry point for chat exchanges. It assembles the
// prompt (system template, global memories, sender bio, channel history),
// resolves the model, calls the backend, and commits the exchange to history
// only when the provider answered.
type Gateway struct {
	backend domain.ChatBackend
	store   *ConversationStore
	memory  *MemoryStore
	logger  *slog.Logger

	botCfg       config.BotConfig
	defaultModel string
	allowed      map[string]bool // models users may select

	overrideMu sync.Mutex
	overrides  map[string]modelOverride

	location *time.Location
	now      func() time.Time // test hook
}

type modelOverride struct {
	model   string
	expires time.Time // zero = until cleared
}

// NewGateway wires the facade. The timezone in botCfg drives the date and
// time substitutions in the system prompt.
func NewGateway(backend domain.ChatBackend, store *ConversationStore, memory *MemoryStore, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	loc, err := time.LoadLocation(cfg.Bot.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Bot.Timezone, err)
	}

	allowed := make(map[string]bool, len(cfg.LLM.AvailableModels))
	for _, m := range cfg.LLM.AvailableModels {
		allowed[m] = true
	}
	allowed[cfg.LLM.Model] = true

	return &Gateway{
		backend:      backend,
		store:        store,
		memory:       memory,
		logger:       logger,
		botCfg:       cfg.Bot,
		defaultModel: cfg.LLM.Model,
		allowed:      allowed,
		overrides:    make(map[string]modelOverride),
		location:     loc,
		now:          time.Now,
	}, nil
}

// Converse runs one full exchange for an inbound message. The provider call
// holds no per-channel lock, so concurrent messages in the same channel
// proceed in parallel; each exchange's turn pair commits atomically when its
// call completes, so history stays whole pairs in completion order.
func (g *Gateway) Converse(ctx context.Context, msg domain.InboundMessage) (*domain.Reply, error) {
	requestID := ulid.Make().String()
	ctx = domain.ContextWithRequestID(ctx, requestID)

	ctx, span := tracer.StartSpan(ctx, "gateway.converse",
		trace.WithAttributes(tracer.StringAttr("channel_id", msg.ChannelID)))
	defer span.End()

	model := g.resolveModel(msg)
	userTurn := domain.Message{
		Role:      domain.RoleUser,
		Content:   msg.Content,
		Name:      msg.SenderName,
		Images:    msg.Images,
		Timestamp: g.now(),
	}

	req := domain.ChatRequest{
		Messages: g.assemblePrompt(msg, userTurn),
		Tools:    builtinTools(),
	}

	g.logger.Info("conversing",
		"request_id", requestID,
		"channel_id", msg.ChannelID,
		"model", model,
		"history_turns", len(req.Messages)-2,
	)

	resp, err := g.backend.Generate(ctx, model, req)
	if err != nil {
		tracer.RecordError(span, err)
		g.logger.Error("exchange failed",
			"request_id", requestID,
			"channel_id", msg.ChannelID,
			"model", model,
			"error_code", domain.ErrorCodeOf(err),
			"error", err,
		)
		return nil, domain.WrapOp("Gateway.Converse", err)
	}

	// Commit only successful exchanges; a failed request leaves history
	// untouched so a retry sees the same context.
	assistantTurn := resp.Message
	if assistantTurn.Timestamp.IsZero() {
		assistantTurn.Timestamp = g.now()
	}
	g.store.Append(msg.ChannelID, userTurn, assistantTurn)

	tracer.SetOK(span)
	return &domain.Reply{
		Text:       resp.Message.Content,
		Model:      resp.Model,
		Directives: domain.DirectivesFromToolCalls(resp.Message.ToolCalls),
		Usage:      resp.Usage,
	}, nil
}

// assemblePrompt builds system turn + history snapshot + the new user turn.
func (g *Gateway) assemblePrompt(msg domain.InboundMessage, userTurn domain.Message) []domain.Message {
	history := g.store.History(msg.ChannelID)

	msgs := make([]domain.Message, 0, len(history)+2)
	msgs = append(msgs, domain.Message{
		Role:      domain.RoleSystem,
		Content:   g.systemPrompt(msg.SenderID, msg.SenderName),
		Timestamp: g.now(),
	})
	msgs = append(msgs, history...)
	return append(msgs, userTurn)
}

// systemPrompt renders the configured template and appends the memory and
// bio sections when present.
func (g *Gateway) systemPrompt(senderID, senderName string) string {
	now := g.now().In(g.location)
	prompt := strings.NewReplacer(
		"{current_date}", now.Format("Monday, January 2, 2006"),
		"{current_time}", now.Format("15:04"),
	).Replace(g.botCfg.SystemPrompt)

	var b strings.Builder
	b.WriteString(prompt)

	if memories := g.memory.Memories(); len(memories) > 0 {
		b.WriteString("\n\nThings you remember:")
		for _, m := range memories {
			fmt.Fprintf(&b, "\n- %s: %s", m.Key, m.Value)
		}
	}

	if bio, err := g.memory.Bio(senderID); err == nil {
		fmt.Fprintf(&b, "\n\nAbout %s: %s", senderName, bio)
	}

	return b.String()
}

// resolveModel picks the model for this exchange: per-message override, then
// channel override, then the configured default. Expired channel overrides
// are dropped on read.
func (g *Gateway) resolveModel(msg domain.InboundMessage) string {
	if msg.Model != "" && g.allowed[msg.Model] {
		return msg.Model
	}

	g.overrideMu.Lock()
	defer g.overrideMu.Unlock()
	if ov, ok := g.overrides[msg.ChannelID]; ok {
		if ov.expires.IsZero() || g.now().Before(ov.expires) {
			return ov.model
		}
		delete(g.overrides, msg.ChannelID)
	}
	return g.defaultModel
}

// SetChannelModel overrides the model for a channel. A zero ttl keeps the
// override until cleared. The model must be in the configured allow list.
func (g *Gateway) SetChannelModel(channelID, model string, ttl time.Duration) error {
	if !g.allowed[model] {
		return fmt.Errorf("%w: model %q is not in available_models", domain.ErrProviderNotFound, model)
	}

	ov := modelOverride{model: model}
	if ttl > 0 {
		ov.expires = g.now().Add(ttl)
	}

	g.overrideMu.Lock()
	defer g.overrideMu.Unlock()
	g.overrides[channelID] = ov
	return nil
}

// ClearChannelModel removes a channel's model override.
func (g *Gateway) ClearChannelModel(channelID string) {
	g.overrideMu.Lock()
	defer g.overrideMu.Unlock()
	delete(g.overrides, channelID)
}

// ChannelModel returns the model currently in effect for a channel.
func (g *Gateway) ChannelModel(channelID string) string {
	return g.resolveModel(domain.InboundMessage{ChannelID: channelID})
}

// AvailableModels lists the models users may switch to.
func (g *Gateway) AvailableModels() []string {
	models := make([]string, 0, len(g.allowed))
	for m := range g.allowed {
		models = append(models, m)
	}
	return models
}

// ResetConversation clears a channel's history.
func (g *Gateway) ResetConversation(channelID string) bool {
	return g.store.Reset(channelID)
}

// UserMessage maps an exchange error to text fit for the channel. Internal
// detail (key slots, HTTP bodies) never reaches chat.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrKeysExhausted):
		return "I'm having trouble reaching my language model right now. Please try again in a minute."
	case errors.Is(err, domain.ErrRejected):
		return "I couldn't process that message. It may be too long or contain something the model refused."
	case errors.Is(err, domain.ErrProviderNotFound):
		return "That model isn't available. Use !model to see the options."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "That took too long and I gave up. Please try again."
	default:
		return "Something went wrong on my end. Please try again."
	}
}

// builtinTools advertises the external capabilities a reply may request.
func builtinTools() []domain.ToolSchema {
	return []domain.ToolSchema{
		{
			Name:        domain.ToolGenerateImage,
			Description: "Generate an image from a text prompt. Use when the user asks for a picture, drawing, or visual.",
			Parameters: []byte(`{
				"type": "object",
				"properties": {
					"prompt": {"type": "string", "description": "Detailed description of the image to generate"}
				},
				"required": ["prompt"]
			}`),
		},
		{
			Name:        domain.ToolSynthesizeSpeech,
			Description: "Convert text to spoken audio. Use when the user asks to hear something out loud.",
			Parameters: []byte(`{
				"type": "object",
				"properties": {
					"text": {"type": "string", "description": "The text to speak"},
					"voice": {"type": "string", "description": "Optional voice name"}
				},
				"required": ["text"]
			}`),
		},
	}
}
