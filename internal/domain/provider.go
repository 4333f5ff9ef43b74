package domain

import "context"

// Credential identifies one API key for one provider. The slot index is the
// credential's configured priority position (slot 0 = api_key1). Credentials
// are owned by the key pool; adapters receive them per call and never mutate
// pool state themselves.
type Credential struct {
	Provider string
	Slot     int
	Secret   string
}

// Provider is the single contract every provider family implements. Invoke
// performs one external call with one credential and normalizes any failure
// into the shared error taxonomy (ErrNetwork, ErrRateLimit, ErrServerError,
// ErrAuthInvalid, ErrRejected).
type Provider interface {
	Invoke(ctx context.Context, cred Credential, req ChatRequest) (*ChatResponse, error)
	Name() string
}

// ChatBackend generates a reply for a logical model name ("provider/model").
// It is the boundary the gateway facade depends on; the llm registry with its
// failover orchestrators implements it.
type ChatBackend interface {
	Generate(ctx context.Context, model string, req ChatRequest) (*ChatResponse, error)
}
