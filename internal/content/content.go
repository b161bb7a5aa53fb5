package content

import (
	"fmt"
	"html"
	"multiroom/internal/models"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// PreviewLength is the maximum number of runes kept in a room preview.
	PreviewLength = 50
	badgeLimit    = 99
)

var policy = bluemonday.StrictPolicy()

// PlainText strips all markup from the input and returns it as plain text.
func PlainText(input string) string {
	return html.UnescapeString(policy.Sanitize(input))
}

// Truncate cuts s down to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Preview derives the short summary of a room from its latest event.
// Chat messages are rendered as "user: text" and truncated, notices use their
// message and keep the previous preview when they have none. The result is
// raw text, run it through PlainText before display.
func Preview(ev models.Event, previous string) string {
	if ev.IsChat() {
		return Truncate(fmt.Sprintf("%s: %s", ev.Username, ev.Content), PreviewLength)
	}
	text := strings.TrimSpace(ev.Text())
	if text == "" {
		return previous
	}
	return text
}

// Badge formats an unread counter for a room list. Zero renders as empty.
func Badge(count int) string {
	switch {
	case count <= 0:
		return ""
	case count > badgeLimit:
		return fmt.Sprintf("%d+", badgeLimit)
	default:
		return fmt.Sprintf("%d", count)
	}
}
