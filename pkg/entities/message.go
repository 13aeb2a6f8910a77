package entities

import "time"

// Message is a single Discord message in the shape the scraper stores it.
// All IDs are snowflakes, which are monotonic with creation time.
type Message struct {
	ID          int64
	ChannelID   int64
	GuildID     int64
	AuthorID    int64
	AuthorName  string
	Content     string
	Timestamp   time.Time
	EditedAt    *time.Time // nil if the message was never edited
	ReplyToID   *int64     // nil if the message is not a reply
	Attachments []Attachment
	Embeds      []Embed
}

type Attachment struct {
	ID          int64
	FileName    string
	URL         string
	ContentType string
	Size        int
}

type Embed struct {
	Type        string
	Title       string
	Description string
	URL         string
}

func (m *Message) HasText() bool {
	return m.Content != ""
}

func (m *Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}
