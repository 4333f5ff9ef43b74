package domain

import "context"

// InboundMessage is a message received from a chat channel (user input).
type InboundMessage struct {
	ChannelID  string
	SenderID   string
	SenderName string
	Content    string
	Images     []string // attachment URLs
	Model      string   // optional explicit model override for this message
	IsMention  bool
}

// OutboundMessage is a message sent back to a chat channel.
type OutboundMessage struct {
	ChannelID  string
	Content    string
	IsError    bool
	Directives []Directive
}

// MessageHandler is the callback a channel invokes for each inbound message.
type MessageHandler func(ctx context.Context, msg InboundMessage) error

// Channel is the interface for user-facing chat transports.
type Channel interface {
	Start(ctx context.Context, handler MessageHandler) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg OutboundMessage) error
	Name() string
}

// DirectiveSink receives directives extracted from model replies and forwards
// them to the external collaborator (image generator, speech synthesizer).
type DirectiveSink interface {
	Forward(ctx context.Context, channelID string, d Directive) error
}
