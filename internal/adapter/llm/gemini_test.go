package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kotori-ai/internal/domain"
	"kotori-ai/internal/infra/config"
)

func TestGeminiRequestMapping(t *testing.T) {
	req := toGeminiRequest(domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, Content: "hello"},
		},
	})

	require.NotNil(t, req.SystemInstruction)
	assert.Equal(t, "be brief", req.SystemInstruction.Parts[0].Text)

	require.Len(t, req.Contents, 2, "system turn lifted out of contents")
	assert.Equal(t, "user", req.Contents[0].Role)
	assert.Equal(t, "model", req.Contents[1].Role)
}

func TestGeminiAttachmentsRideAlongAsText(t *testing.T) {
	req := toGeminiRequest(domain.ChatRequest{
		Messages: []domain.Message{{
			Role:    domain.RoleUser,
			Content: "look",
			Images:  []string{"https://cdn.example/cat.png"},
		}},
	})

	text := req.Contents[0].Parts[0].Text
	assert.Contains(t, text, "look")
	assert.Contains(t, text, "https://cdn.example/cat.png")
}

func TestGeminiInvokeSendsKeyInHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		assert.NotContains(t, r.URL.RawQuery, "key", "no key in the URL")
		assert.Contains(t, r.URL.Path, "gemini-2.0-flash:generateContent")
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{Content: geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: "hello"}},
			}}},
			UsageMetadata: &geminiUsage{PromptTokenCount: 7, CandidatesTokenCount: 3, TotalTokenCount: 10},
		})
	}))
	defer srv.Close()

	p := NewGeminiProvider("gemini", config.ProviderConfig{BaseURL: srv.URL}, slog.Default())
	resp, err := p.Invoke(context.Background(), domain.Credential{Secret: "g-key"}, domain.ChatRequest{
		Model:    "gemini-2.0-flash",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Message.Content)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestGeminiParsesFunctionCalls(t *testing.T) {
	resp := fromGeminiResponse(geminiResponse{
		Candidates: []geminiCandidate{{Content: geminiContent{
			Parts: []geminiPart{
				{Text: "on it"},
				{FunctionCall: &geminiFunctionCall{Name: "generate_image", Args: []byte(`{"prompt":"a fox"}`)}},
			},
		}}},
	})

	assert.Equal(t, "on it", resp.Message.Content)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "generate_image", resp.Message.ToolCalls[0].Name)
	assert.NotEmpty(t, resp.Message.ToolCalls[0].ID)
}

func TestGeminiJoinsMultipleTextParts(t *testing.T) {
	resp := fromGeminiResponse(geminiResponse{
		Candidates: []geminiCandidate{{Content: geminiContent{
			Parts: []geminiPart{
				{Text: "first part, "},
				{Text: "second part"},
			},
		}}},
	})

	assert.Equal(t, "first part, second part", resp.Message.Content)
}

func TestGeminiRateLimitCarriesRetryDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"details":[{"retryDelay":"12s"}]}}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider("gemini", config.ProviderConfig{BaseURL: srv.URL}, slog.Default())
	_, err := p.Invoke(context.Background(), domain.Credential{Secret: "g-key"}, domain.ChatRequest{Model: "m"})

	var rle *domain.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "12s", rle.RetryAfter.String())
}
