package channel

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"kotori-ai/internal/domain"
)

// BotControls is what the builtin commands need from the gateway.
type BotControls interface {
	SetChannelModel(channelID, model string, ttl time.Duration) error
	ClearChannelModel(channelID string)
	ChannelModel(channelID string) string
	AvailableModels() []string
	ResetConversation(channelID string) bool
}

// Commands routes the "!" builtin commands: model switching, conversation
// reset, bios, and global memories.
type Commands struct {
	controls BotControls
	memory   domain.MemoryBank
}

// NewCommands wires the command router.
func NewCommands(controls BotControls, memory domain.MemoryBank) *Commands {
	return &Commands{controls: controls, memory: memory}
}

// Handle executes a builtin command and returns its reply. It reports false
// when content is not a command, in which case the message goes to the model.
func (c *Commands) Handle(channelID, senderID, senderName, content string) (string, bool) {
	if !strings.HasPrefix(content, "!") {
		return "", false
	}

	fields := strings.Fields(content)
	if len(fields) == 0 {
		return "", false
	}
	args := fields[1:]

	switch fields[0] {
	case "!help":
		return helpText, true
	case "!model":
		return c.handleModel(channelID, args), true
	case "!reset":
		if c.controls.ResetConversation(channelID) {
			return "Conversation cleared. Fresh start.", true
		}
		return "Nothing to clear here yet.", true
	case "!bio":
		return c.handleBio(senderID, senderName, content, args), true
	case "!memory":
		return c.handleMemory(content, args), true
	default:
		// unknown "!" words (like "!!") are ordinary chat
		return "", false
	}
}

func (c *Commands) handleModel(channelID string, args []string) string {
	switch {
	case len(args) == 0:
		models := c.controls.AvailableModels()
		sort.Strings(models)
		var b strings.Builder
		fmt.Fprintf(&b, "Current model: `%s`\nAvailable:", c.controls.ChannelModel(channelID))
		for _, m := range models {
			fmt.Fprintf(&b, "\n- `%s`", m)
		}
		b.WriteString("\nSwitch with `!model <name>`, back to default with `!model reset`.")
		return b.String()
	case args[0] == "reset":
		c.controls.ClearChannelModel(channelID)
		return fmt.Sprintf("Back to the default model: `%s`", c.controls.ChannelModel(channelID))
	default:
		if err := c.controls.SetChannelModel(channelID, args[0], 0); err != nil {
			return fmt.Sprintf("I don't know `%s`. Use `!model` to see the options.", args[0])
		}
		return fmt.Sprintf("Switched this channel to `%s`.", args[0])
	}
}

func (c *Commands) handleBio(senderID, senderName, content string, args []string) string {
	switch {
	case len(args) == 0:
		bio, err := c.memory.Bio(senderID)
		if err != nil {
			return "I don't have a bio for you. Set one with `!bio set <text>`."
		}
		return fmt.Sprintf("Your bio: %s", bio)
	case args[0] == "set" && len(args) > 1:
		text := restAfter(content, 2)
		if err := c.memory.SetBio(senderID, text); err != nil {
			return "I couldn't save that. Please try again."
		}
		return fmt.Sprintf("Got it, %s. I'll remember that about you.", senderName)
	case args[0] == "clear":
		if err := c.memory.DeleteBio(senderID); err != nil {
			return "I couldn't clear that. Please try again."
		}
		return "Bio cleared."
	default:
		return "Usage: `!bio`, `!bio set <text>`, or `!bio clear`."
	}
}

func (c *Commands) handleMemory(content string, args []string) string {
	switch {
	case len(args) == 0:
		memories := c.memory.Memories()
		if len(memories) == 0 {
			return "I'm not holding any memories. Add one with `!memory set <key> <text>`."
		}
		var b strings.Builder
		b.WriteString("Things I remember:")
		for _, m := range memories {
			fmt.Fprintf(&b, "\n- **%s**: %s", m.Key, m.Value)
		}
		return b.String()
	case args[0] == "set" && len(args) > 2:
		key := args[1]
		value := restAfter(content, 3)
		if err := c.memory.SetMemory(key, value); err != nil {
			return "I couldn't save that. Please try again."
		}
		return fmt.Sprintf("Remembered **%s**.", key)
	case args[0] == "del" && len(args) == 2:
		if err := c.memory.DeleteMemory(args[1]); err != nil {
			return fmt.Sprintf("I have no memory called **%s**.", args[1])
		}
		return fmt.Sprintf("Forgot **%s**.", args[1])
	default:
		return "Usage: `!memory`, `!memory set <key> <text>`, or `!memory del <key>`."
	}
}

// restAfter returns content after its first n whitespace-separated fields,
// tolerating runs of whitespace between them. The remainder keeps its
// internal spacing.
func restAfter(content string, n int) string {
	rest := content
	for ; n > 0; n-- {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		i := strings.IndexFunc(rest, unicode.IsSpace)
		if i < 0 {
			return ""
		}
		rest = rest[i:]
	}
	return strings.TrimSpace(rest)
}

const helpText = "**Commands**\n" +
	"`!model` - show or switch the model for this channel\n" +
	"`!reset` - clear this channel's conversation\n" +
	"`!bio` - show, set, or clear what I know about you\n" +
	"`!memory` - list, add, or drop shared memories\n" +
	"`!help` - this message"
