//go:build integration

package postgres

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"threadfeed/internal/domain"
	"threadfeed/internal/storage"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_feeds.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM feeds")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func sampleRecord() *domain.FeedRecord {
	return &domain.FeedRecord{
		URL:           "https://boards.4chan.org/g/thread/100",
		EmbedOverride: domain.EmbedInherit,
		LastPostID:    102,
		ReplyCount:    2,
		LastDelivered: time.Date(2024, 3, 9, 18, 30, 5, 0, time.UTC),
		ImageCount:    1,
		IsSticky:      true,
	}
}

func (s *PostgresIntegrationSuite) TestFeedStore_CreateAndGet() {
	store := NewFeedStore(s.db)

	rec := sampleRecord()
	s.Require().NoError(store.Create(s.ctx, "dest-1", "daily", rec))

	got, err := store.Get(s.ctx, "dest-1", "daily")
	s.Require().NoError(err)
	s.Equal(rec.URL, got.URL)
	s.Equal(rec.LastPostID, got.LastPostID)
	s.Equal(rec.ReplyCount, got.ReplyCount)
	s.Equal(rec.EmbedOverride, got.EmbedOverride)
	s.True(got.IsSticky)
	s.WithinDuration(rec.LastDelivered, got.LastDelivered, time.Second)
}

func (s *PostgresIntegrationSuite) TestFeedStore_CreateDuplicate() {
	store := NewFeedStore(s.db)

	s.Require().NoError(store.Create(s.ctx, "dest-1", "daily", sampleRecord()))
	err := store.Create(s.ctx, "dest-1", "daily", sampleRecord())
	s.ErrorIs(err, storage.ErrAlreadyExists)

	s.NoError(store.Create(s.ctx, "dest-2", "daily", sampleRecord()))
}

func (s *PostgresIntegrationSuite) TestFeedStore_GetAbsent() {
	store := NewFeedStore(s.db)

	_, err := store.Get(s.ctx, "dest-1", "nope")
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *PostgresIntegrationSuite) TestFeedStore_UpdateAdvancesCursor() {
	store := NewFeedStore(s.db)

	rec := sampleRecord()
	s.Require().NoError(store.Create(s.ctx, "dest-1", "daily", rec))

	rec.LastPostID = 110
	rec.ReplyCount = 10
	rec.IsArchived = true
	rec.EmbedOverride = domain.EmbedForceOff
	s.Require().NoError(store.Update(s.ctx, "dest-1", "daily", rec))

	got, err := store.Get(s.ctx, "dest-1", "daily")
	s.Require().NoError(err)
	s.Equal(int64(110), got.LastPostID)
	s.Equal(10, got.ReplyCount)
	s.True(got.IsArchived)
	s.Equal(domain.EmbedForceOff, got.EmbedOverride)
}

func (s *PostgresIntegrationSuite) TestFeedStore_Delete() {
	store := NewFeedStore(s.db)

	s.Require().NoError(store.Create(s.ctx, "dest-1", "daily", sampleRecord()))
	s.Require().NoError(store.Delete(s.ctx, "dest-1", "daily"))

	_, err := store.Get(s.ctx, "dest-1", "daily")
	s.ErrorIs(err, storage.ErrNotFound)

	s.ErrorIs(store.Delete(s.ctx, "dest-1", "daily"), storage.ErrNotFound)
}

func (s *PostgresIntegrationSuite) TestFeedStore_ListAll() {
	store := NewFeedStore(s.db)

	s.Require().NoError(store.Create(s.ctx, "dest-1", "daily", sampleRecord()))
	s.Require().NoError(store.Create(s.ctx, "dest-1", "weekly", sampleRecord()))
	s.Require().NoError(store.Create(s.ctx, "dest-2", "daily", sampleRecord()))

	all, err := store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 2)
	s.Len(all["dest-1"], 2)
	s.Len(all["dest-2"], 1)
}

func (s *PostgresIntegrationSuite) TestFeedStore_ListByDestinationSorted() {
	store := NewFeedStore(s.db)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		s.Require().NoError(store.Create(s.ctx, "dest-1", name, sampleRecord()))
	}

	records, err := store.ListByDestination(s.ctx, "dest-1")
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	s.Equal("alpha", records[0].Name)
	s.Equal("mid", records[1].Name)
	s.Equal("zeta", records[2].Name)
}
