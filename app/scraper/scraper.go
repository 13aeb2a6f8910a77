package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Elon-F/Discord-scraper/app/discord"
	e "github.com/Elon-F/Discord-scraper/pkg/entities"
	"github.com/Elon-F/Discord-scraper/pkg/logger"
	"github.com/Elon-F/Discord-scraper/pkg/mutex"
)

// Scraper records live messages from the configured channels and walks their
// history until it is exhausted. Both paths go through the same upsert, so a
// message seen twice ends up stored once, with the most recent copy winning.
type Scraper struct {
	// Log is a logger
	Log logger.Logger

	// Store is the message store
	Store MessageStore

	// History fetches pages of channel history
	History History

	// Channels is the set of channels the scraper is allowed to read
	Channels []int64

	// FetchLimit is the history page size per request
	FetchLimit int

	// OnStorageError, when set, is called whenever a store operation fails.
	// No message is durably recorded without a working store, so the owner
	// normally shuts the process down. Optional.
	OnStorageError func(error)

	targetsOnce sync.Once
	targets     map[int64]struct{}

	// serializes backfill and catch-up scans per channel
	locks mutex.KeyedMutex[int64]
}

// HandleMessage stores a live message event. Messages from channels outside
// the configured target set are dropped.
func (s *Scraper) HandleMessage(ctx context.Context, msg e.Message) error {
	if !s.isTarget(msg.ChannelID) {
		return nil
	}

	err := s.Store.SaveMessage(ctx, msg)
	if err != nil {
		s.storeFailed(err)
		return fmt.Errorf("saving message: %w", err)
	}

	return nil
}

// Run recovers messages missed while the process was down, then performs a
// backfill pass over all target channels and repeats on the given interval
// until the context is canceled.
func (s *Scraper) Run(ctx context.Context, interval time.Duration) {
	s.CatchUp(ctx)

	for {
		s.Backfill(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Backfill walks every target channel independently. A failure in one channel
// does not stop the others.
func (s *Scraper) Backfill(ctx context.Context) {
	s.Log.Info("starting backfill pass", "channels", len(s.Channels))

	var wg sync.WaitGroup
	for _, channelID := range s.Channels {
		channelID := channelID
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := s.BackfillChannel(ctx, channelID)
			if err != nil {
				s.Log.Error("backfilling channel", "channel_id", channelID, "error", err)
			}
		}()
	}
	wg.Wait()

	s.Log.Info("backfill pass finished")
}

// BackfillChannel pages through the channel history older than the most
// recent stored message (or the full history when nothing is stored),
// upserting every page. The walk ends when a page comes back shorter than the
// page size; a page of exactly the page size triggers one more fetch to
// confirm exhaustion. Empty and inaccessible channels end the walk without
// error.
func (s *Scraper) BackfillChannel(ctx context.Context, channelID int64) error {
	s.locks.Lock(channelID)
	defer s.locks.Unlock(channelID)

	boundary, err := s.Store.LatestMessageID(ctx, channelID)
	if err != nil {
		s.storeFailed(err)
		return fmt.Errorf("querying resume point: %w", err)
	}

	log := s.Log.With("channel_id", channelID)
	log.Info("backfilling channel", "before", boundary)

	total := 0
	for {
		page, err := s.History.Messages(ctx, channelID, s.FetchLimit, boundary)
		if err != nil {
			if errors.Is(err, discord.ErrChannelInaccessible) {
				log.Warn("channel is not accessible, skipping")
				return nil
			}
			return fmt.Errorf("fetching history page: %w", err)
		}

		if err := s.Store.SaveMessages(ctx, page); err != nil {
			s.storeFailed(err)
			return fmt.Errorf("saving history page: %w", err)
		}
		total += len(page)

		if len(page) < s.FetchLimit {
			break
		}

		// pages are newest first, so the last message bounds the next page
		boundary = page[len(page)-1].ID
		log.Debug("page stored", "messages", total, "before", boundary)
	}

	log.Info("channel history exhausted", "messages", total)
	return nil
}

// CatchUp scans the newest messages of every target channel and stores the
// ones that arrived while the gateway session was down, stopping at the first
// already stored message. Intended to run after a gateway resume.
func (s *Scraper) CatchUp(ctx context.Context) {
	s.Log.Info("catching up on unseen messages")

	for _, channelID := range s.Channels {
		err := s.catchUpChannel(ctx, channelID)
		if err != nil {
			s.Log.Error("catching up channel", "channel_id", channelID, "error", err)
		}
	}

	s.Log.Info("catch-up finished")
}

func (s *Scraper) catchUpChannel(ctx context.Context, channelID int64) error {
	s.locks.Lock(channelID)
	defer s.locks.Unlock(channelID)

	page, err := s.History.Messages(ctx, channelID, s.FetchLimit, 0)
	if err != nil {
		if errors.Is(err, discord.ErrChannelInaccessible) {
			return nil
		}
		return fmt.Errorf("fetching newest messages: %w", err)
	}

	var unseen []e.Message
	for _, msg := range page {
		exists, err := s.Store.MessageExists(ctx, msg.ID)
		if err != nil {
			s.storeFailed(err)
			return fmt.Errorf("checking message %d: %w", msg.ID, err)
		}
		if exists {
			break
		}
		unseen = append(unseen, msg)
	}

	if err := s.Store.SaveMessages(ctx, unseen); err != nil {
		s.storeFailed(err)
		return fmt.Errorf("saving unseen messages: %w", err)
	}

	if len(unseen) > 0 {
		s.Log.Info("stored unseen messages", "channel_id", channelID, "count", len(unseen))
	}

	return nil
}

func (s *Scraper) storeFailed(err error) {
	if s.OnStorageError != nil {
		s.OnStorageError(err)
	}
}

func (s *Scraper) isTarget(channelID int64) bool {
	s.targetsOnce.Do(func() {
		s.targets = make(map[int64]struct{}, len(s.Channels))
		for _, id := range s.Channels {
			s.targets[id] = struct{}{}
		}
	})

	_, ok := s.targets[channelID]
	return ok
}

type MessageStore interface {
	SaveMessage(ctx context.Context, msg e.Message) error
	SaveMessages(ctx context.Context, msgs []e.Message) error
	LatestMessageID(ctx context.Context, channelID int64) (int64, error)
	MessageExists(ctx context.Context, messageID int64) (bool, error)
}

type History interface {
	Messages(ctx context.Context, channelID int64, limit int, beforeID int64) ([]e.Message, error)
}
