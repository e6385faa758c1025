package chat

import "time"

const (
	// TitleLimit bounds the derived session title, in runes.
	TitleLimit = 30
	// PreviewLimit bounds the last-message preview, in runes.
	PreviewLimit = 50

	ellipsis = "..."
)

// Session is one persisted conversation thread. ID is the server-issued
// session identifier.
type Session struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	LastMessagePreview string    `json:"lastMessagePreview"`
	UpdatedAt          time.Time `json:"updatedAt"`
	Messages           []Message `json:"messages"`
}

// Clone deep-copies the message slice so callers cannot mutate stored history.
func (s Session) Clone() Session {
	s.Messages = CloneMessages(s.Messages)
	return s
}

// DeriveTitle shortens the first user message into a session title.
func DeriveTitle(text string) string {
	return Truncate(text, TitleLimit)
}

// DerivePreview shortens the latest assistant reply into a sidebar preview.
func DerivePreview(text string) string {
	return Truncate(text, PreviewLimit)
}

// Truncate keeps text verbatim when it has at most limit runes, otherwise
// returns its first limit runes followed by "...".
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + ellipsis
}
