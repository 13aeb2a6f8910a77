package storage

import (
	"time"

	e "github.com/Elon-F/Discord-scraper/pkg/entities"
)

type messageDocument struct {
	MessageID   int64                `bson:"message_id"`
	ChannelID   int64                `bson:"channel_id"`
	GuildID     int64                `bson:"guild_id"`
	AuthorID    int64                `bson:"author_id"`
	AuthorName  string               `bson:"author_name,omitempty"`
	Content     string               `bson:"content"`
	Timestamp   time.Time            `bson:"timestamp"`
	EditedAt    *time.Time           `bson:"edited_at,omitempty"`
	ReplyToID   *int64               `bson:"reply_to,omitempty"`
	Attachments []attachmentDocument `bson:"attachments,omitempty"`
	Embeds      []embedDocument      `bson:"embeds,omitempty"`
}

type attachmentDocument struct {
	AttachmentID int64  `bson:"attachment_id"`
	FileName     string `bson:"file_name"`
	URL          string `bson:"url"`
	ContentType  string `bson:"content_type,omitempty"`
	Size         int    `bson:"size"`
}

type embedDocument struct {
	Type        string `bson:"type,omitempty"`
	Title       string `bson:"title,omitempty"`
	Description string `bson:"description,omitempty"`
	URL         string `bson:"url,omitempty"`
}

func toDocument(msg e.Message) messageDocument {
	doc := messageDocument{
		MessageID:  msg.ID,
		ChannelID:  msg.ChannelID,
		GuildID:    msg.GuildID,
		AuthorID:   msg.AuthorID,
		AuthorName: msg.AuthorName,
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
		EditedAt:   msg.EditedAt,
		ReplyToID:  msg.ReplyToID,
	}

	for _, att := range msg.Attachments {
		doc.Attachments = append(doc.Attachments, attachmentDocument{
			AttachmentID: att.ID,
			FileName:     att.FileName,
			URL:          att.URL,
			ContentType:  att.ContentType,
			Size:         att.Size,
		})
	}

	for _, emb := range msg.Embeds {
		doc.Embeds = append(doc.Embeds, embedDocument{
			Type:        emb.Type,
			Title:       emb.Title,
			Description: emb.Description,
			URL:         emb.URL,
		})
	}

	return doc
}

func fromDocument(doc messageDocument) e.Message {
	msg := e.Message{
		ID:         doc.MessageID,
		ChannelID:  doc.ChannelID,
		GuildID:    doc.GuildID,
		AuthorID:   doc.AuthorID,
		AuthorName: doc.AuthorName,
		Content:    doc.Content,
		Timestamp:  doc.Timestamp,
		EditedAt:   doc.EditedAt,
		ReplyToID:  doc.ReplyToID,
	}

	for _, att := range doc.Attachments {
		msg.Attachments = append(msg.Attachments, e.Attachment{
			ID:          att.AttachmentID,
			FileName:    att.FileName,
			URL:         att.URL,
			ContentType: att.ContentType,
			Size:        att.Size,
		})
	}

	for _, emb := range doc.Embeds {
		msg.Embeds = append(msg.Embeds, e.Embed{
			Type:        emb.Type,
			Title:       emb.Title,
			Description: emb.Description,
			URL:         emb.URL,
		})
	}

	return msg
}
