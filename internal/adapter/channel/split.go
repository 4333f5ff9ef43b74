package channel

import (
	"strings"
	"unicode/utf8"
)

// discordMessageLimit is Discord's hard cap on message length.
const discordMessageLimit = 2000

// fenceReserve leaves room in each chunk for a closing code fence.
const fenceReserve = 4

// splitMessage breaks content into chunks of at most limit characters.
// It prefers paragraph breaks, then line breaks, then sentence ends, then
// word boundaries, and only hard-cuts as a last resort. A chunk that ends
// inside a fenced code block gets the fence closed, and the next chunk
// reopens it, so every chunk renders sanely on its own.
func splitMessage(content string, limit int) []string {
	if limit <= fenceReserve {
		limit = discordMessageLimit
	}
	if len(content) <= limit {
		return []string{content}
	}

	var chunks []string
	for len(content) > limit {
		cut := findSplit(content, limit-fenceReserve)
		chunk := strings.TrimRight(content[:cut], " \n")
		content = strings.TrimLeft(content[cut:], " \n")

		if strings.Count(chunk, "```")%2 == 1 {
			chunk += "\n```"
			content = "```\n" + content
		}
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}

// findSplit returns the cut position for the next chunk, at most max.
func findSplit(content string, max int) int {
	window := content[:max]

	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return i
	}
	if i := strings.LastIndex(window, "\n"); i > 0 {
		return i
	}
	if i := strings.LastIndex(window, ". "); i > 0 {
		return i + 1 // keep the period with its sentence
	}
	if i := strings.LastIndex(window, " "); i > 0 {
		return i
	}

	// Hard cut. Unbroken text without ASCII boundaries is the normal case
	// for CJK, so back up to a rune start rather than cut mid-rune.
	for max > 0 && !utf8.RuneStart(content[max]) {
		max--
	}
	if max == 0 {
		_, size := utf8.DecodeRuneInString(content)
		return size
	}
	return max
}
