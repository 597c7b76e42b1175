package service

import (
	"context"
	"errors"
	"fmt"

	"threadfeed/internal/domain"
	"threadfeed/internal/storage"
	"threadfeed/internal/threadurl"
)

// Command-surface rejections. These are surfaced synchronously to the
// caller and never crash the background loop.
var (
	ErrNameConflict  = errors.New("feed name already in use")
	ErrFeedNotFound  = errors.New("feed not found")
	ErrInvalidThread = errors.New("not a valid thread")
)

// AddFeed validates the URL against the live source and creates the feed
// with its cursor at the thread's latest item, so no history is replayed.
// Archived threads are rejected: they can never produce new posts.
func (s *SyncService) AddFeed(ctx context.Context, destinationID, name, url string) error {
	_, err := s.feeds.Get(ctx, destinationID, name)
	if err == nil {
		return ErrNameConflict
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("check feed name: %w", err)
	}

	ref, err := threadurl.Parse(url)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidThread, err)
	}

	snap, err := s.source.FetchThread(ctx, ref.Board, ref.Thread)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidThread, err)
	}
	if snap.Archived {
		return fmt.Errorf("%w: thread is archived", ErrInvalidThread)
	}

	latest := snap.LatestReply()
	rec := &domain.FeedRecord{
		URL:           url,
		EmbedOverride: domain.EmbedInherit,
		LastPostID:    snap.LastReplyID,
		ReplyCount:    len(snap.Replies),
		LastDelivered: latest.Timestamp,
		ImageCount:    snap.ImageCount,
		IsSticky:      snap.Sticky,
		IsAtBumpLimit: snap.BumpLimit,
	}

	err = s.feeds.Create(ctx, destinationID, name, rec)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return ErrNameConflict
	}
	if err != nil {
		return fmt.Errorf("create feed: %w", err)
	}

	s.logger.Info("feed added",
		"destination", destinationID,
		"feed", name,
		"thread", ref.String(),
		"baseline", rec.LastPostID,
	)
	return nil
}

// RemoveFeed deletes a feed and its cursor.
func (s *SyncService) RemoveFeed(ctx context.Context, destinationID, name string) error {
	err := s.feeds.Delete(ctx, destinationID, name)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrFeedNotFound
	}
	if err != nil {
		return fmt.Errorf("remove feed: %w", err)
	}

	s.logger.Info("feed removed", "destination", destinationID, "feed", name)
	return nil
}

// SetEmbedMode updates a feed's rendering override.
func (s *SyncService) SetEmbedMode(ctx context.Context, destinationID, name string, mode domain.EmbedMode) error {
	rec, err := s.feeds.Get(ctx, destinationID, name)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrFeedNotFound
	}
	if err != nil {
		return fmt.Errorf("load feed: %w", err)
	}

	rec.EmbedOverride = mode
	if err := s.feeds.Update(ctx, destinationID, name, rec); err != nil {
		return fmt.Errorf("update feed: %w", err)
	}
	return nil
}

// ListFeeds returns a destination's feeds ordered by name.
func (s *SyncService) ListFeeds(ctx context.Context, destinationID string) ([]domain.NamedRecord, error) {
	records, err := s.feeds.ListByDestination(ctx, destinationID)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return records, nil
}

// FeedStats returns a snapshot of one feed's stored record.
func (s *SyncService) FeedStats(ctx context.Context, destinationID, name string) (*domain.FeedRecord, error) {
	rec, err := s.feeds.Get(ctx, destinationID, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrFeedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load feed: %w", err)
	}
	return rec, nil
}

// ForceFeed fetches a fresh snapshot and re-delivers the thread's latest
// item regardless of cursor state, committing the cursor exactly like the
// background path. A nil post with nil error means the fetch surfaced an
// archival transition and the notice was sent instead.
func (s *SyncService) ForceFeed(ctx context.Context, destinationID, name string) (*domain.Post, error) {
	rec, err := s.feeds.Get(ctx, destinationID, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrFeedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load feed: %w", err)
	}

	ref, err := threadurl.Parse(rec.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThread, err)
	}

	snap, err := s.source.FetchThread(ctx, ref.Board, ref.Thread)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThread, err)
	}

	embedDefault, err := s.sink.EmbedDefault(ctx, destinationID)
	if err != nil {
		return nil, fmt.Errorf("embed preference: %w", err)
	}

	plan := planDelivery(snap, rec, true)

	delivered, err := s.deliverPlan(ctx, destinationID, name, rec, snap, plan, embedDefault)
	if err != nil {
		return nil, err
	}
	if plan.archival {
		return nil, nil
	}
	if delivered == 0 {
		return nil, fmt.Errorf("delivery failed for feed %q", name)
	}

	s.logger.Info("forced delivery",
		"destination", destinationID,
		"feed", name,
		"post", plan.posts[0].Number,
	)
	return &plan.posts[0], nil
}
