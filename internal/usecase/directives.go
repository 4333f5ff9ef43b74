package usecase

import (
	"context"
	"log/slog"

	"kotori-ai/internal/domain"
)

// LogDirectiveSink records directives without acting on them. It stands in
// until an image or speech collaborator is attached; the gateway itself never
// performs generation.
type LogDirectiveSink struct {
	logger *slog.Logger
}

// NewLogDirectiveSink creates the default sink.
func NewLogDirectiveSink(logger *slog.Logger) *LogDirectiveSink {
	return &LogDirectiveSink{logger: logger}
}

var _ domain.DirectiveSink = (*LogDirectiveSink)(nil)

// Forward implements domain.DirectiveSink.
func (s *LogDirectiveSink) Forward(_ context.Context, channelID string, d domain.Directive) error {
	s.logger.Info("directive forwarded",
		"channel_id", channelID,
		"kind", d.Kind,
		"prompt", d.Prompt,
	)
	return nil
}
