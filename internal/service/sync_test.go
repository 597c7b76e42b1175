package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"threadfeed/internal/domain"
	"threadfeed/internal/service/mocks"
)

type SyncServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	source *mocks.MockSource
	feeds  *mocks.MockFeedStore
	sink   *mocks.MockSink

	service *SyncService
	logger  *slog.Logger
}

func (s *SyncServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.source = mocks.NewMockSource(s.ctrl)
	s.feeds = mocks.NewMockFeedStore(s.ctrl)
	s.sink = mocks.NewMockSink(s.ctrl)

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.source.EXPECT().ID().Return("4chan").AnyTimes()

	s.service = NewSyncService(s.source, s.feeds, s.sink, s.logger)
}

func (s *SyncServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSyncServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SyncServiceTestSuite))
}

func (s *SyncServiceTestSuite) snapshot(nums ...int64) *domain.Snapshot {
	snap := &domain.Snapshot{
		Board:  "g",
		Thread: "100",
		Topic:  domain.Post{Number: 100, Timestamp: time.Unix(1700000000, 0).UTC(), Comment: "topic"},
	}
	for _, n := range nums {
		snap.Replies = append(snap.Replies, domain.Post{
			Number:    n,
			Timestamp: time.Unix(1700000000+n, 0).UTC(),
			Comment:   "reply",
		})
	}
	if len(nums) > 0 {
		snap.LastReplyID = nums[len(nums)-1]
	}
	return snap
}

func (s *SyncServiceTestSuite) record(cursor int64) domain.FeedRecord {
	return domain.FeedRecord{
		URL:        "https://boards.4chan.org/g/thread/100",
		LastPostID: cursor,
	}
}

func (s *SyncServiceTestSuite) TestRunTick_DeliversNewPostsAscending() {
	ctx := context.Background()
	snap := s.snapshot(101, 102, 103)

	s.feeds.EXPECT().ListAll(ctx).Return(map[string]map[string]domain.FeedRecord{
		"dest-1": {"feed-a": s.record(101)},
	}, nil)
	s.sink.EXPECT().EmbedDefault(ctx, "dest-1").Return(false, nil)
	s.source.EXPECT().FetchThread(ctx, "g", "100").Return(snap, nil)
	s.sink.EXPECT().AccentColor("dest-1").Return(0x3498db)

	var sent []string
	s.sink.EXPECT().Deliver(ctx, "dest-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, p domain.Payload) error {
			sent = append(sent, p.Text)
			return nil
		}).Times(2)

	var committed *domain.FeedRecord
	s.feeds.EXPECT().Update(ctx, "dest-1", "feed-a", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, rec *domain.FeedRecord) error {
			committed = rec
			return nil
		})

	stats, err := s.service.RunTick(ctx)

	s.NoError(err)
	s.Equal(1, stats.Feeds)
	s.Equal(1, stats.Fetched)
	s.Equal(2, stats.Delivered)
	s.Equal(0, stats.Errors)
	s.Len(sent, 2)
	s.Require().NotNil(committed)
	s.Equal(int64(103), committed.LastPostID)
	s.Equal(3, committed.ReplyCount)
	s.Equal(time.Unix(1700000103, 0).UTC(), committed.LastDelivered)
}

func (s *SyncServiceTestSuite) TestRunTick_FetchDedupedAcrossDestinations() {
	ctx := context.Background()
	snap := s.snapshot(101, 102)

	s.feeds.EXPECT().ListAll(ctx).Return(map[string]map[string]domain.FeedRecord{
		"dest-1": {"feed-a": s.record(102)},
		"dest-2": {"feed-b": s.record(102), "feed-c": s.record(102)},
	}, nil)
	s.sink.EXPECT().EmbedDefault(ctx, "dest-1").Return(false, nil)
	s.sink.EXPECT().EmbedDefault(ctx, "dest-2").Return(false, nil)

	// Three feeds watching the same thread: exactly one upstream request.
	s.source.EXPECT().FetchThread(ctx, "g", "100").Return(snap, nil).Times(1)

	stats, err := s.service.RunTick(ctx)

	s.NoError(err)
	s.Equal(3, stats.Feeds)
	s.Equal(3, stats.Fetched)
	s.Equal(3, stats.Skipped)
	s.Equal(0, stats.Delivered)
}

func (s *SyncServiceTestSuite) TestRunTick_FetchFailureSkipsWithoutCommit() {
	ctx := context.Background()

	s.feeds.EXPECT().ListAll(ctx).Return(map[string]map[string]domain.FeedRecord{
		"dest-1": {"feed-a": s.record(101), "feed-b": s.record(102)},
	}, nil)
	s.sink.EXPECT().EmbedDefault(ctx, "dest-1").Return(false, nil)
	s.source.EXPECT().FetchThread(ctx, "g", "100").
		Return(nil, errors.New("upstream down")).Times(1)

	// No Deliver, no Update: the cursor is untouched on a failed fetch.
	stats, err := s.service.RunTick(ctx)

	s.NoError(err)
	s.Equal(2, stats.Feeds)
	s.Equal(0, stats.Fetched)
	s.Equal(2, stats.Skipped)
	s.Equal(0, stats.Errors)
}

func (s *SyncServiceTestSuite) TestRunTick_PartialDeliveryCommitsLastAccepted() {
	ctx := context.Background()
	snap := s.snapshot(101, 102, 103)

	s.feeds.EXPECT().ListAll(ctx).Return(map[string]map[string]domain.FeedRecord{
		"dest-1": {"feed-a": s.record(100)},
	}, nil)
	s.sink.EXPECT().EmbedDefault(ctx, "dest-1").Return(false, nil)
	s.source.EXPECT().FetchThread(ctx, "g", "100").Return(snap, nil)
	s.sink.EXPECT().AccentColor("dest-1").Return(0)

	calls := 0
	s.sink.EXPECT().Deliver(ctx, "dest-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ domain.Payload) error {
			calls++
			if calls == 2 {
				return errors.New("sink refused")
			}
			return nil
		}).Times(3)

	var committed *domain.FeedRecord
	s.feeds.EXPECT().Update(ctx, "dest-1", "feed-a", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, rec *domain.FeedRecord) error {
			committed = rec
			return nil
		})

	stats, err := s.service.RunTick(ctx)

	s.NoError(err)
	s.Equal(2, stats.Delivered)
	s.Require().NotNil(committed)
	s.Equal(int64(103), committed.LastPostID)
}

func (s *SyncServiceTestSuite) TestRunTick_AllDeliveriesFailedLeavesCursor() {
	ctx := context.Background()
	snap := s.snapshot(101, 102)

	s.feeds.EXPECT().ListAll(ctx).Return(map[string]map[string]domain.FeedRecord{
		"dest-1": {"feed-a": s.record(100)},
	}, nil)
	s.sink.EXPECT().EmbedDefault(ctx, "dest-1").Return(false, nil)
	s.source.EXPECT().FetchThread(ctx, "g", "100").Return(snap, nil)
	s.sink.EXPECT().AccentColor("dest-1").Return(0)
	s.sink.EXPECT().Deliver(ctx, "dest-1", gomock.Any()).
		Return(errors.New("sink refused")).Times(2)

	// No Update expected: nothing was accepted.
	stats, err := s.service.RunTick(ctx)

	s.NoError(err)
	s.Equal(0, stats.Delivered)
}

func (s *SyncServiceTestSuite) TestRunTick_ArchivalTransitionSendsNoticeOnce() {
	ctx := context.Background()
	snap := s.snapshot(101, 102)
	snap.Archived = true

	s.feeds.EXPECT().ListAll(ctx).Return(map[string]map[string]domain.FeedRecord{
		"dest-1": {"feed-a": s.record(101)},
	}, nil)
	s.sink.EXPECT().EmbedDefault(ctx, "dest-1").Return(false, nil)
	s.source.EXPECT().FetchThread(ctx, "g", "100").Return(snap, nil)

	s.sink.EXPECT().Deliver(ctx, "dest-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, p domain.Payload) error {
			s.Contains(p.Text, "feed-a")
			s.Contains(p.Text, "archived")
			return nil
		})

	var committed *domain.FeedRecord
	s.feeds.EXPECT().Update(ctx, "dest-1", "feed-a", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, rec *domain.FeedRecord) error {
			committed = rec
			return nil
		})

	stats, err := s.service.RunTick(ctx)

	s.NoError(err)
	s.Equal(1, stats.Archived)
	s.Require().NotNil(committed)
	s.True(committed.IsArchived)
	// Cursor is not advanced by the notice itself.
	s.Equal(int64(101), committed.LastPostID)
}

func (s *SyncServiceTestSuite) TestRunTick_FailedArchivalNoticeRetriesNextTick() {
	ctx := context.Background()
	snap := s.snapshot(101)
	snap.Archived = true

	s.feeds.EXPECT().ListAll(ctx).Return(map[string]map[string]domain.FeedRecord{
		"dest-1": {"feed-a": s.record(101)},
	}, nil)
	s.sink.EXPECT().EmbedDefault(ctx, "dest-1").Return(false, nil)
	s.source.EXPECT().FetchThread(ctx, "g", "100").Return(snap, nil)
	s.sink.EXPECT().Deliver(ctx, "dest-1", gomock.Any()).
		Return(errors.New("sink refused"))

	// No Update: the transition stays pending so the notice is retried.
	stats, err := s.service.RunTick(ctx)

	s.NoError(err)
	s.Equal(0, stats.Archived)
	s.Equal(1, stats.Errors)
}

func (s *SyncServiceTestSuite) TestRunTick_BaselineRepairSkipsBacklog() {
	ctx := context.Background()
	snap := s.snapshot(101, 102, 103)

	s.feeds.EXPECT().ListAll(ctx).Return(map[string]map[string]domain.FeedRecord{
		"dest-1": {"feed-a": s.record(0)},
	}, nil)
	s.sink.EXPECT().EmbedDefault(ctx, "dest-1").Return(false, nil)
	s.source.EXPECT().FetchThread(ctx, "g", "100").Return(snap, nil)

	var committed *domain.FeedRecord
	s.feeds.EXPECT().Update(ctx, "dest-1", "feed-a", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, rec *domain.FeedRecord) error {
			committed = rec
			return nil
		})

	// No Deliver: the backlog is absorbed silently.
	stats, err := s.service.RunTick(ctx)

	s.NoError(err)
	s.Equal(0, stats.Delivered)
	s.Require().NotNil(committed)
	s.Equal(int64(103), committed.LastPostID)
}

func (s *SyncServiceTestSuite) TestRunTick_EmbedOverrideBeatsDestinationDefault() {
	ctx := context.Background()
	snap := s.snapshot(101)

	rec := s.record(100)
	rec.EmbedOverride = domain.EmbedForceOff

	s.feeds.EXPECT().ListAll(ctx).Return(map[string]map[string]domain.FeedRecord{
		"dest-1": {"feed-a": rec},
	}, nil)
	s.sink.EXPECT().EmbedDefault(ctx, "dest-1").Return(true, nil)
	s.source.EXPECT().FetchThread(ctx, "g", "100").Return(snap, nil)
	s.sink.EXPECT().AccentColor("dest-1").Return(0)

	s.sink.EXPECT().Deliver(ctx, "dest-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, p domain.Payload) error {
			s.Nil(p.Card)
			s.NotEmpty(p.Text)
			return nil
		})
	s.feeds.EXPECT().Update(ctx, "dest-1", "feed-a", gomock.Any()).Return(nil)

	_, err := s.service.RunTick(ctx)
	s.NoError(err)
}

func (s *SyncServiceTestSuite) TestRunTick_MalformedURLCountsAsError() {
	ctx := context.Background()

	s.feeds.EXPECT().ListAll(ctx).Return(map[string]map[string]domain.FeedRecord{
		"dest-1": {"feed-a": {URL: "garbage"}},
	}, nil)
	s.sink.EXPECT().EmbedDefault(ctx, "dest-1").Return(false, nil)

	stats, err := s.service.RunTick(ctx)

	s.NoError(err)
	s.Equal(1, stats.Errors)
}

func (s *SyncServiceTestSuite) TestRunTick_ListFailureAbortsTick() {
	ctx := context.Background()

	s.feeds.EXPECT().ListAll(ctx).Return(nil, errors.New("db down"))

	stats, err := s.service.RunTick(ctx)

	s.Error(err)
	s.Nil(stats)
}
