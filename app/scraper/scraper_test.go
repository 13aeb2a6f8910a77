package scraper

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Elon-F/Discord-scraper/app/discord"
	e "github.com/Elon-F/Discord-scraper/pkg/entities"
	"github.com/Elon-F/Discord-scraper/pkg/logger"
)

type fakeStore struct {
	mu       sync.Mutex
	messages map[int64]e.Message
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[int64]e.Message)}
}

func (s *fakeStore) SaveMessage(_ context.Context, msg e.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.messages[msg.ID] = msg
	return nil
}

func (s *fakeStore) SaveMessages(_ context.Context, msgs []e.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	for _, msg := range msgs {
		s.messages[msg.ID] = msg
	}
	return nil
}

func (s *fakeStore) LatestMessageID(_ context.Context, channelID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest int64
	for _, msg := range s.messages {
		if msg.ChannelID == channelID && msg.ID > latest {
			latest = msg.ID
		}
	}
	return latest, nil
}

func (s *fakeStore) MessageExists(_ context.Context, messageID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.messages[messageID]
	return ok, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *fakeStore) channelIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]struct{})
	var ids []int64
	for _, msg := range s.messages {
		if _, ok := seen[msg.ChannelID]; !ok {
			seen[msg.ChannelID] = struct{}{}
			ids = append(ids, msg.ChannelID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// fakeHistory serves pages from an in-memory per-channel message list, newest
// first, the way the REST API does.
type fakeHistory struct {
	mu           sync.Mutex
	channels     map[int64][]e.Message // sorted newest first
	inaccessible map[int64]bool
	calls        int
	boundaries   []int64
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		channels:     make(map[int64][]e.Message),
		inaccessible: make(map[int64]bool),
	}
}

func (h *fakeHistory) add(channelID int64, ids ...int64) {
	for _, id := range ids {
		h.channels[channelID] = append(h.channels[channelID], e.Message{
			ID:        id,
			ChannelID: channelID,
			Content:   "message",
		})
	}
	sort.Slice(h.channels[channelID], func(i, j int) bool {
		return h.channels[channelID][i].ID > h.channels[channelID][j].ID
	})
}

func (h *fakeHistory) Messages(_ context.Context, channelID int64, limit int, beforeID int64) ([]e.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls++
	h.boundaries = append(h.boundaries, beforeID)

	if h.inaccessible[channelID] {
		return nil, discord.ErrChannelInaccessible
	}

	var page []e.Message
	for _, msg := range h.channels[channelID] {
		if beforeID != 0 && msg.ID >= beforeID {
			continue
		}
		page = append(page, msg)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (h *fakeHistory) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func newScraper(store *fakeStore, history *fakeHistory, limit int, channels ...int64) *Scraper {
	return &Scraper{
		Log:        logger.NewLogger(false),
		Store:      store,
		History:    history,
		Channels:   channels,
		FetchLimit: limit,
	}
}

func TestHandleMessageStoresTargetChannel(t *testing.T) {
	store := newFakeStore()
	s := newScraper(store, newFakeHistory(), 500, 123)

	err := s.HandleMessage(context.Background(), e.Message{ID: 1, ChannelID: 123, Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}

	if store.count() != 1 {
		t.Fatalf("expected 1 stored message, got %d", store.count())
	}
}

func TestHandleMessageIgnoresOtherChannels(t *testing.T) {
	store := newFakeStore()
	s := newScraper(store, newFakeHistory(), 500, 123)

	err := s.HandleMessage(context.Background(), e.Message{ID: 1, ChannelID: 456, Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}

	if store.count() != 0 {
		t.Fatalf("expected no stored messages, got %d", store.count())
	}
}

func TestHandleMessageDuplicateKeepsLatestCopy(t *testing.T) {
	store := newFakeStore()
	s := newScraper(store, newFakeHistory(), 500, 123)

	ctx := context.Background()
	if err := s.HandleMessage(ctx, e.Message{ID: 7, ChannelID: 123, Content: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := s.HandleMessage(ctx, e.Message{ID: 7, ChannelID: 123, Content: "second"}); err != nil {
		t.Fatal(err)
	}

	if store.count() != 1 {
		t.Fatalf("expected 1 stored message, got %d", store.count())
	}
	if got := store.messages[7].Content; got != "second" {
		t.Fatalf("expected latest copy to win, got %q", got)
	}
}

func TestBackfillChannelWalksToExhaustion(t *testing.T) {
	store := newFakeStore()
	history := newFakeHistory()
	history.add(123, 1, 2, 3, 4, 5)

	s := newScraper(store, history, 2, 123)
	if err := s.BackfillChannel(context.Background(), 123); err != nil {
		t.Fatal(err)
	}

	if store.count() != 5 {
		t.Fatalf("expected 5 stored messages, got %d", store.count())
	}
	// pages of 2, 2, 1 — the short page ends the walk
	if history.callCount() != 3 {
		t.Fatalf("expected 3 history fetches, got %d", history.callCount())
	}
}

func TestBackfillFullPageTriggersConfirmingFetch(t *testing.T) {
	store := newFakeStore()
	history := newFakeHistory()
	history.add(123, 1, 2, 3, 4)

	s := newScraper(store, history, 4, 123)
	if err := s.BackfillChannel(context.Background(), 123); err != nil {
		t.Fatal(err)
	}

	// first page is exactly the page size, so one more fetch confirms exhaustion
	if history.callCount() != 2 {
		t.Fatalf("expected 2 history fetches, got %d", history.callCount())
	}
}

func TestBackfillIdempotent(t *testing.T) {
	store := newFakeStore()
	history := newFakeHistory()
	history.add(123, 10, 11, 12)

	s := newScraper(store, history, 2, 123)
	ctx := context.Background()

	if err := s.BackfillChannel(ctx, 123); err != nil {
		t.Fatal(err)
	}
	first := store.count()

	if err := s.BackfillChannel(ctx, 123); err != nil {
		t.Fatal(err)
	}

	if store.count() != first {
		t.Fatalf("second walk changed the stored set: %d != %d", store.count(), first)
	}
}

func TestBackfillCoversAllTargetsAndNothingElse(t *testing.T) {
	store := newFakeStore()
	history := newFakeHistory()
	history.add(123, 1, 2, 3)
	history.add(345, 100, 101)
	history.add(456, 200, 201)

	s := newScraper(store, history, 500, 123, 345)
	s.Backfill(context.Background())

	got := store.channelIDs()
	if len(got) != 2 || got[0] != 123 || got[1] != 345 {
		t.Fatalf("expected channels [123 345], got %v", got)
	}
	if store.count() != 5 {
		t.Fatalf("expected 5 stored messages, got %d", store.count())
	}
}

func TestBackfillResumesBelowLatestStored(t *testing.T) {
	store := newFakeStore()
	store.messages[30] = e.Message{ID: 30, ChannelID: 123}

	history := newFakeHistory()
	history.add(123, 10, 20, 30)

	s := newScraper(store, history, 500, 123)
	if err := s.BackfillChannel(context.Background(), 123); err != nil {
		t.Fatal(err)
	}

	if history.boundaries[0] != 30 {
		t.Fatalf("expected first fetch bounded by 30, got %d", history.boundaries[0])
	}
	if store.count() != 3 {
		t.Fatalf("expected 3 stored messages, got %d", store.count())
	}
}

func TestBackfillEmptyChannel(t *testing.T) {
	store := newFakeStore()
	history := newFakeHistory()

	s := newScraper(store, history, 500, 123)
	if err := s.BackfillChannel(context.Background(), 123); err != nil {
		t.Fatal(err)
	}

	if history.callCount() != 1 {
		t.Fatalf("expected 1 history fetch, got %d", history.callCount())
	}
	if store.count() != 0 {
		t.Fatalf("expected no stored messages, got %d", store.count())
	}
}

func TestBackfillInaccessibleChannelIsNotAnError(t *testing.T) {
	store := newFakeStore()
	history := newFakeHistory()
	history.inaccessible[123] = true

	s := newScraper(store, history, 500, 123)
	if err := s.BackfillChannel(context.Background(), 123); err != nil {
		t.Fatalf("expected inaccessible channel to end the walk cleanly, got %v", err)
	}
}

func TestRunCatchesUpBeforeWalkingHistory(t *testing.T) {
	store := newFakeStore()
	store.messages[30] = e.Message{ID: 30, ChannelID: 123}

	history := newFakeHistory()
	history.add(123, 10, 20, 30, 31, 32)

	s := newScraper(store, history, 500, 123)

	// canceled context stops Run after the first backfill pass
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx, time.Hour)

	// 31 and 32 arrived while the process was down; the catch-up scan must
	// pick them up even though the walker only pages below the latest stored id
	for _, id := range []int64{31, 32} {
		if _, ok := store.messages[id]; !ok {
			t.Fatalf("expected message %d stored by the startup catch-up", id)
		}
	}
	if store.count() != 5 {
		t.Fatalf("expected 5 stored messages, got %d", store.count())
	}
	if history.boundaries[0] != 0 {
		t.Fatalf("expected the catch-up scan to run first, got boundary %d", history.boundaries[0])
	}
}

func TestHandleMessageEscalatesStorageFailure(t *testing.T) {
	store := newFakeStore()
	store.failWith = errors.New("connection lost")

	s := newScraper(store, newFakeHistory(), 500, 123)

	var escalated error
	s.OnStorageError = func(err error) { escalated = err }

	err := s.HandleMessage(context.Background(), e.Message{ID: 1, ChannelID: 123})
	if err == nil {
		t.Fatal("expected an error when the store is down")
	}
	if !errors.Is(escalated, store.failWith) {
		t.Fatalf("expected the storage failure to be escalated, got %v", escalated)
	}
}

func TestBackfillEscalatesStorageFailure(t *testing.T) {
	store := newFakeStore()
	store.failWith = errors.New("connection lost")

	history := newFakeHistory()
	history.add(123, 1, 2)

	s := newScraper(store, history, 500, 123)

	var escalated error
	s.OnStorageError = func(err error) { escalated = err }

	err := s.BackfillChannel(context.Background(), 123)
	if err == nil {
		t.Fatal("expected an error when the store is down")
	}
	if !errors.Is(escalated, store.failWith) {
		t.Fatalf("expected the storage failure to be escalated, got %v", escalated)
	}
}

func TestCatchUpStopsAtFirstSeenMessage(t *testing.T) {
	store := newFakeStore()
	store.messages[5] = e.Message{ID: 5, ChannelID: 123}

	history := newFakeHistory()
	history.add(123, 4, 5, 6, 7, 8)

	s := newScraper(store, history, 500, 123)
	s.CatchUp(context.Background())

	// 8, 7, 6 are unseen; the scan stops at 5 and never reaches 4
	if store.count() != 4 {
		t.Fatalf("expected 4 stored messages, got %d", store.count())
	}
	if _, ok := store.messages[4]; ok {
		t.Fatal("message below the seen boundary should not be stored")
	}
	for _, id := range []int64{6, 7, 8} {
		if _, ok := store.messages[id]; !ok {
			t.Fatalf("expected unseen message %d to be stored", id)
		}
	}
}
