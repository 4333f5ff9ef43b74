package channel

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"kotori-ai/internal/domain"
)

// DiscordOption configures the Discord channel.
type DiscordOption func(*DiscordChannel)

// WithDiscordGuild limits the bot to a specific guild.
func WithDiscordGuild(guildID string) DiscordOption {
	return func(d *DiscordChannel) { d.guildID = guildID }
}

// WithDiscordChannels limits the bot to specific channel IDs.
func WithDiscordChannels(ids []string) DiscordOption {
	return func(d *DiscordChannel) {
		d.channelIDs = make(map[string]bool, len(ids))
		for _, id := range ids {
			d.channelIDs[id] = true
		}
	}
}

// WithDiscordMentionOnly enables mention-only filtering in guild channels.
func WithDiscordMentionOnly(v bool) DiscordOption {
	return func(d *DiscordChannel) { d.mentionOnly = v }
}

// WithDiscordCommands wires the builtin "!" command router.
func WithDiscordCommands(cmds *Commands) DiscordOption {
	return func(d *DiscordChannel) { d.commands = cmds }
}

// DiscordChannel implements domain.Channel for Discord via discordgo.
type DiscordChannel struct {
	token       string
	session     *discordgo.Session
	handler     domain.MessageHandler
	commands    *Commands
	logger      *slog.Logger
	guildID     string
	channelIDs  map[string]bool
	mentionOnly bool
	botUserID   string
	ctx         context.Context
	cancel      context.CancelFunc
}

var _ domain.Channel = (*DiscordChannel)(nil)

// NewDiscordChannel creates a Discord bot channel.
func NewDiscordChannel(token string, logger *slog.Logger, opts ...DiscordOption) *DiscordChannel {
	d := &DiscordChannel{
		token:  token,
		logger: logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *DiscordChannel) Name() string { return "discord" }

func (d *DiscordChannel) Start(ctx context.Context, handler domain.MessageHandler) error {
	d.handler = handler
	d.ctx, d.cancel = context.WithCancel(ctx)

	dg, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return err
	}
	d.session = dg
	d.session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	d.session.AddHandler(d.onMessageCreate)

	if err := d.session.Open(); err != nil {
		return err
	}

	d.botUserID = d.session.State.User.ID
	d.logger.Info("discord channel started", "user_id", d.botUserID)
	return nil
}

func (d *DiscordChannel) Stop(_ context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

// Send delivers the reply, splitting content that exceeds Discord's message
// limit into renderable chunks.
func (d *DiscordChannel) Send(_ context.Context, msg domain.OutboundMessage) error {
	content := msg.Content
	if msg.IsError {
		content = ":warning: " + content
	}

	for _, chunk := range splitMessage(content, discordMessageLimit) {
		if _, err := d.session.ChannelMessageSend(msg.ChannelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiscordChannel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore own messages and other bots.
	if m.Author.ID == d.botUserID || m.Author.Bot {
		return
	}

	// Guild filter.
	if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
		return
	}

	// Channel filter.
	if len(d.channelIDs) > 0 && !d.channelIDs[m.ChannelID] {
		return
	}

	isMention := false
	for _, u := range m.Mentions {
		if u.ID == d.botUserID {
			isMention = true
			break
		}
	}

	// Mention-only gating for guild messages; DMs always get through.
	if d.mentionOnly && m.GuildID != "" && !isMention {
		return
	}

	content := m.Content
	if isMention {
		content = strings.ReplaceAll(content, "<@"+d.botUserID+">", "")
		content = strings.ReplaceAll(content, "<@!"+d.botUserID+">", "")
		content = strings.TrimSpace(content)
	}

	if d.commands != nil {
		if reply, handled := d.commands.Handle(m.ChannelID, m.Author.ID, m.Author.Username, content); handled {
			for _, chunk := range splitMessage(reply, discordMessageLimit) {
				if _, err := s.ChannelMessageSend(m.ChannelID, chunk); err != nil {
					d.logger.Error("discord command reply failed", "error", err, "channel", m.ChannelID)
					break
				}
			}
			return
		}
	}

	if content == "" && len(m.Attachments) == 0 {
		return
	}

	msg := domain.InboundMessage{
		ChannelID:  m.ChannelID,
		SenderID:   m.Author.ID,
		SenderName: m.Author.Username,
		Content:    content,
		IsMention:  isMention,
	}
	for _, a := range m.Attachments {
		if strings.HasPrefix(a.ContentType, "image/") {
			msg.Images = append(msg.Images, a.URL)
		}
	}

	if err := d.handler(d.ctx, msg); err != nil {
		d.logger.Error("discord handler error", "error", err, "channel", m.ChannelID)
	}
}
