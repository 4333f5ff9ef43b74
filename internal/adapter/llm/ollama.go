package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"kotori-ai/internal/domain"
	"kotori-ai/internal/infra/config"
	"kotori-ai/internal/infra/tracer"
)

// OllamaProvider implements domain.Provider for a local Ollama server. It
// ignores the credential secret; local providers have no keys, but routing
// them through the same pool keeps the failover loop uniform.
type OllamaProvider struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOllamaProvider creates a provider for a local Ollama server.
func NewOllamaProvider(name string, cfg config.ProviderConfig, logger *slog.Logger) *OllamaProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}

	return &OllamaProvider{
		name:    name,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Invoke implements domain.Provider.
func (p *OllamaProvider) Invoke(ctx context.Context, cred domain.Credential, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.invoke",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	body, err := json.Marshal(toOllamaRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/api/chat", body, nil)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var ollResp ollamaResponse
	if err := json.Unmarshal(respBody, &ollResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := fromOllamaResponse(ollResp)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, cred.Slot, result)

	return result, nil
}

// Name implements domain.Provider.
func (p *OllamaProvider) Name() string { return p.name }

// --- Ollama API wire types ---

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	CreatedAt       time.Time     `json:"created_at"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func toOllamaRequest(req domain.ChatRequest) ollamaRequest {
	msgs := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		content := m.Content
		for _, url := range m.Images {
			content += "\n[attachment] " + url
		}
		msgs = append(msgs, ollamaMessage{Role: m.Role, Content: content})
	}

	ollReq := ollamaRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   false,
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		ollReq.Options = &ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		}
	}
	return ollReq
}

func fromOllamaResponse(resp ollamaResponse) *domain.ChatResponse {
	createdAt := resp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &domain.ChatResponse{
		Model: resp.Model,
		Message: domain.Message{
			Role:      domain.RoleAssistant,
			Content:   resp.Message.Content,
			Timestamp: createdAt,
		},
		Usage: domain.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
		CreatedAt: createdAt,
	}
}
