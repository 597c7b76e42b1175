package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"threadfeed/internal/domain"
	"threadfeed/internal/format"
	"threadfeed/internal/threadurl"
)

// SyncService is the delivery dispatcher: it drives one synchronization
// pass over every configured feed and owns the manual command surface.
type SyncService struct {
	source Source
	feeds  FeedStore
	sink   Sink
	logger *slog.Logger
}

func NewSyncService(source Source, feeds FeedStore, sink Sink, logger *slog.Logger) *SyncService {
	return &SyncService{
		source: source,
		feeds:  feeds,
		sink:   sink,
		logger: logger.With("source", source.ID()),
	}
}

// RunTick processes every feed of every destination once. Snapshot fetches
// are deduplicated by resolved thread identity for the duration of the
// tick; failed fetches are cached as misses so one dead thread costs one
// request. A single feed's failure is logged and never aborts the tick.
func (s *SyncService) RunTick(ctx context.Context) (*domain.TickStats, error) {
	start := time.Now()

	all, err := s.feeds.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}

	stats := &domain.TickStats{}
	snapshots := make(map[threadurl.Ref]*domain.Snapshot)

	for _, destinationID := range sortedKeys(all) {
		feeds := all[destinationID]

		embedDefault, err := s.sink.EmbedDefault(ctx, destinationID)
		if err != nil {
			s.logger.Debug("embed preference lookup failed",
				"destination", destinationID,
				"error", err,
			)
			embedDefault = false
		}

		for _, name := range sortedKeys(feeds) {
			rec := feeds[name]
			stats.Feeds++
			if err := s.processFeed(ctx, destinationID, name, &rec, embedDefault, snapshots, stats); err != nil {
				stats.Errors++
				s.logger.Debug("feed processing failed",
					"destination", destinationID,
					"feed", name,
					"error", err,
				)
			}
		}
	}

	stats.Duration = time.Since(start)

	s.logger.Info("tick completed",
		"feeds", stats.Feeds,
		"fetched", stats.Fetched,
		"delivered", stats.Delivered,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"archived", stats.Archived,
		"duration", stats.Duration,
	)

	return stats, nil
}

func (s *SyncService) processFeed(
	ctx context.Context,
	destinationID, name string,
	rec *domain.FeedRecord,
	embedDefault bool,
	snapshots map[threadurl.Ref]*domain.Snapshot,
	stats *domain.TickStats,
) error {
	ref, err := threadurl.Parse(rec.URL)
	if err != nil {
		return fmt.Errorf("parse feed url %q: %w", rec.URL, err)
	}

	snap := s.fetchCached(ctx, ref, snapshots)
	if snap == nil {
		stats.Skipped++
		return nil
	}
	stats.Fetched++

	plan := planDelivery(snap, rec, false)
	if plan.empty() {
		stats.Skipped++
		return nil
	}

	delivered, err := s.deliverPlan(ctx, destinationID, name, rec, snap, plan, embedDefault)
	stats.Delivered += delivered
	if plan.archival && err == nil {
		stats.Archived++
	}
	return err
}

// fetchCached resolves a snapshot through the tick-scoped cache. A nil
// entry records a failed fetch so every feed on the same thread skips
// uniformly this tick.
func (s *SyncService) fetchCached(ctx context.Context, ref threadurl.Ref, snapshots map[threadurl.Ref]*domain.Snapshot) *domain.Snapshot {
	if snap, ok := snapshots[ref]; ok {
		return snap
	}

	snap, err := s.source.FetchThread(ctx, ref.Board, ref.Thread)
	if err != nil {
		s.logger.Debug("thread fetch failed", "thread", ref.String(), "error", err)
		snap = nil
	}
	snapshots[ref] = snap
	return snap
}

// deliverPlan executes a delivery plan for one feed and commits the cursor
// in one logical update. The cursor only ever advances to the number of
// the last post the sink actually accepted; individual delivery failures
// are logged and do not abort the remaining posts. Returns the number of
// posts handed to the sink.
func (s *SyncService) deliverPlan(
	ctx context.Context,
	destinationID, name string,
	rec *domain.FeedRecord,
	snap *domain.Snapshot,
	plan delivery,
	embedDefault bool,
) (int, error) {
	if plan.archival {
		if err := s.sink.Deliver(ctx, destinationID, format.ArchivalNotice(name)); err != nil {
			// No commit: the transition is re-detected and the notice
			// retried next tick.
			return 0, fmt.Errorf("deliver archival notice: %w", err)
		}

		updated := *rec
		updated.IsArchived = true
		applyFlags(&updated, snap)
		if err := s.feeds.Update(ctx, destinationID, name, &updated); err != nil {
			return 0, fmt.Errorf("commit archival: %w", err)
		}
		*rec = updated
		return 0, nil
	}

	if plan.baseline {
		latest := snap.LatestReply()
		updated := *rec
		updated.LastPostID = latest.Number
		updated.ReplyCount = len(snap.Replies)
		updated.LastDelivered = latest.Timestamp
		applyFlags(&updated, snap)
		if err := s.feeds.Update(ctx, destinationID, name, &updated); err != nil {
			return 0, fmt.Errorf("commit baseline: %w", err)
		}
		*rec = updated
		return 0, nil
	}

	embed := rec.EmbedOverride.Resolve(embedDefault)
	color := s.sink.AccentColor(destinationID)

	var lastSent *domain.Post
	delivered := 0
	for i := range plan.posts {
		payload := format.Render(plan.posts[i], embed, color)
		if err := s.sink.Deliver(ctx, destinationID, payload); err != nil {
			s.logger.Debug("payload delivery failed",
				"destination", destinationID,
				"feed", name,
				"post", plan.posts[i].Number,
				"error", err,
			)
			continue
		}
		delivered++
		lastSent = &plan.posts[i]
	}

	if lastSent == nil {
		return 0, nil
	}

	updated := *rec
	if lastSent.Number > updated.LastPostID {
		updated.LastPostID = lastSent.Number
	}
	updated.ReplyCount = len(snap.Replies)
	updated.LastDelivered = lastSent.Timestamp
	applyFlags(&updated, snap)
	if err := s.feeds.Update(ctx, destinationID, name, &updated); err != nil {
		return delivered, fmt.Errorf("commit cursor: %w", err)
	}
	*rec = updated
	return delivered, nil
}

// applyFlags refreshes the advisory snapshot flags carried on the record.
func applyFlags(rec *domain.FeedRecord, snap *domain.Snapshot) {
	rec.ImageCount = snap.ImageCount
	rec.IsSticky = snap.Sticky
	rec.IsAtBumpLimit = snap.BumpLimit
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
