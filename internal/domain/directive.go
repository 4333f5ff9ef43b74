package domain

import "encoding/json"

// DirectiveKind identifies the external capability a model reply requested.
type DirectiveKind string

const (
	DirectiveImage  DirectiveKind = "image"
	DirectiveSpeech DirectiveKind = "speech"
)

// Tool names models use to request external capabilities.
const (
	ToolGenerateImage    = "generate_image"
	ToolSynthesizeSpeech = "synthesize_speech"
)

// Directive is a structured instruction embedded in a model reply that asks
// the bot to invoke an external collaborator (image generation, speech
// synthesis). The gateway extracts directives; it never performs generation.
type Directive struct {
	Kind   DirectiveKind `json:"kind"`
	Prompt string        `json:"prompt"`
	Voice  string        `json:"voice,omitempty"` // speech only
}

type directiveArgs struct {
	Prompt string `json:"prompt"`
	Text   string `json:"text"`
	Voice  string `json:"voice"`
}

// DirectivesFromToolCalls converts recognized tool calls into directives.
// Unknown tool names and malformed arguments are skipped: a bad directive
// must not fail an otherwise successful exchange.
func DirectivesFromToolCalls(calls []ToolCall) []Directive {
	var out []Directive
	for _, tc := range calls {
		var args directiveArgs
		if len(tc.Arguments) > 0 {
			if err := json.Unmarshal(tc.Arguments, &args); err != nil {
				continue
			}
		}
		switch tc.Name {
		case ToolGenerateImage:
			if args.Prompt != "" {
				out = append(out, Directive{Kind: DirectiveImage, Prompt: args.Prompt})
			}
		case ToolSynthesizeSpeech:
			prompt := args.Text
			if prompt == "" {
				prompt = args.Prompt
			}
			if prompt != "" {
				out = append(out, Directive{Kind: DirectiveSpeech, Prompt: prompt, Voice: args.Voice})
			}
		}
	}
	return out
}
