package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"

	e "github.com/Elon-F/Discord-scraper/pkg/entities"
	"github.com/Elon-F/Discord-scraper/pkg/logger"
)

// ErrChannelInaccessible is returned by Messages when the channel does not
// exist or the account has no permission to read it.
var ErrChannelInaccessible = errors.New("channel is not accessible")

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg e.Message) error
}

// Client maintains the gateway connection and fans incoming message events out
// to workers through a buffered queue, decoupling event arrival from the write
// path. Reconnects are handled by the underlying session.
type Client struct {
	Log        logger.Logger
	Token      string
	Bot        bool
	WorkersNum int
	Handler    MessageHandler

	// OnResume is called after the gateway resumes a dropped session, when
	// events may have been missed. Optional.
	OnResume func()

	session *discordgo.Session
	events  chan e.Message
	wg      sync.WaitGroup

	// fetchHistory is swapped out in tests
	fetchHistory func(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

func (c *Client) Start(ctx context.Context) (err error) {
	if c.WorkersNum == 0 {
		return fmt.Errorf("workers number must be greater than 0")
	}

	log := c.Log

	c.session, err = discordgo.New(buildToken(c.Token, c.Bot))
	if err != nil {
		return fmt.Errorf("creating discord session: %w", err)
	}
	c.fetchHistory = c.session.ChannelMessages

	if c.Bot {
		c.session.Identify.Intents = discordgo.IntentGuilds |
			discordgo.IntentGuildMessages |
			discordgo.IntentMessageContent
	}

	c.events = make(chan e.Message, 2*c.WorkersNum)

	c.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		log.Info("gateway connected", "username", r.User.Username, "session_id", r.SessionID)
	})

	c.session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		log.Info("gateway session resumed")
		if c.OnResume != nil {
			c.OnResume()
		}
	})

	c.session.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Warn("gateway disconnected, session will reconnect")
	})

	c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		msg, err := convertMessage(m.Message)
		if err != nil {
			log.Warn("dropping malformed message event", "error", err)
			return
		}

		select {
		case c.events <- msg:
		case <-ctx.Done():
		}
	})

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("opening gateway connection: %w", err)
	}

	for i := 0; i < c.WorkersNum; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleEvents(ctx)
		}()
	}

	return nil
}

func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}

func (c *Client) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.events:
			err := c.handleEvent(ctx, msg)
			if err != nil {
				c.Log.Error("handling message event", "message_id", msg.ID, "error", err)
			}
		}
	}
}

func (c *Client) handleEvent(ctx context.Context, msg e.Message) error {
	log := c.Log.With("message_id", msg.ID)

	defer func() {
		if err := recover(); err != nil {
			log.Error("panic", "error", err)
		}
	}()

	log.Debug(
		"new message",
		"channel_id", msg.ChannelID,
		"author_id", msg.AuthorID,
		"author_name", msg.AuthorName,
		"text", msg.Content,
	)

	return c.Handler.HandleMessage(ctx, msg)
}

// apiPageLimit is the hard cap the REST API puts on a single history request.
const apiPageLimit = 100

// Messages returns up to limit messages from the channel, newest first,
// strictly older than beforeID. A beforeID of 0 starts from the newest
// message. Requests are chunked to the API page cap.
func (c *Client) Messages(ctx context.Context, channelID int64, limit int, beforeID int64) ([]e.Message, error) {
	channel := strconv.FormatInt(channelID, 10)

	before := ""
	if beforeID != 0 {
		before = strconv.FormatInt(beforeID, 10)
	}

	var page []e.Message
	for len(page) < limit {
		select {
		case <-ctx.Done():
			return page, ctx.Err()
		default:
		}

		chunkSize := limit - len(page)
		if chunkSize > apiPageLimit {
			chunkSize = apiPageLimit
		}

		chunk, err := c.fetchHistory(channel, chunkSize, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			if isInaccessible(err) {
				return page, ErrChannelInaccessible
			}
			return page, fmt.Errorf("fetching history for channel %d: %w", channelID, err)
		}

		for _, raw := range chunk {
			msg, err := convertMessage(raw)
			if err != nil {
				c.Log.Warn("skipping malformed history message", "channel_id", channelID, "error", err)
				continue
			}
			page = append(page, msg)
		}

		if len(chunk) < chunkSize {
			break
		}

		// chunks come back newest first, so the last entry is the oldest
		before = chunk[len(chunk)-1].ID
	}

	return page, nil
}

func buildToken(token string, bot bool) string {
	if bot {
		return "Bot " + token
	}
	return token
}

func isInaccessible(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}

	code := restErr.Response.StatusCode
	return code == http.StatusForbidden || code == http.StatusNotFound
}
