package discord

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"

	e "github.com/Elon-F/Discord-scraper/pkg/entities"
)

func convertMessage(m *discordgo.Message) (e.Message, error) {
	id, err := parseSnowflake(m.ID)
	if err != nil {
		return e.Message{}, fmt.Errorf("parsing message id: %w", err)
	}

	channelID, err := parseSnowflake(m.ChannelID)
	if err != nil {
		return e.Message{}, fmt.Errorf("parsing channel id: %w", err)
	}

	msg := e.Message{
		ID:        id,
		ChannelID: channelID,
		GuildID:   parseSnowflakeLax(m.GuildID),
		Content:   m.Content,
		Timestamp: m.Timestamp,
		EditedAt:  m.EditedTimestamp,
	}

	if m.Author != nil {
		msg.AuthorID = parseSnowflakeLax(m.Author.ID)
		msg.AuthorName = takeAuthorName(m.Author)
	}

	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		if refID, err := parseSnowflake(m.MessageReference.MessageID); err == nil {
			msg.ReplyToID = &refID
		}
	}

	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, e.Attachment{
			ID:          parseSnowflakeLax(att.ID),
			FileName:    att.Filename,
			URL:         att.URL,
			ContentType: att.ContentType,
			Size:        att.Size,
		})
	}

	for _, emb := range m.Embeds {
		msg.Embeds = append(msg.Embeds, e.Embed{
			Type:        string(emb.Type),
			Title:       emb.Title,
			Description: emb.Description,
			URL:         emb.URL,
		})
	}

	return msg, nil
}

func takeAuthorName(user *discordgo.User) string {
	if user.GlobalName != "" && user.GlobalName != user.Username {
		return fmt.Sprintf("%s (@%s)", user.GlobalName, user.Username)
	}

	if user.Username != "" {
		return user.Username
	}

	return user.ID
}

func parseSnowflake(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty snowflake")
	}
	return strconv.ParseInt(s, 10, 64)
}

// parseSnowflakeLax returns 0 for empty or malformed snowflakes. Used for
// fields the scraper can store without, like guild and author ids on system
// messages.
func parseSnowflakeLax(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
