package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"threadfeed/internal/domain"
	"threadfeed/internal/storage"
)

// FeedStore persists feed records keyed by (destination_id, name).
type FeedStore struct {
	db *sqlx.DB
}

func NewFeedStore(db *sqlx.DB) *FeedStore {
	return &FeedStore{db: db}
}

type feedRow struct {
	DestinationID   string       `db:"destination_id"`
	Name            string       `db:"name"`
	URL             string       `db:"url"`
	EmbedOverride   sql.NullBool `db:"embed_override"`
	LastPostID      int64        `db:"last_post_id"`
	ReplyCount      int          `db:"reply_count"`
	LastDeliveredAt sql.NullTime `db:"last_delivered_at"`
	ImageCount      int          `db:"image_count"`
	IsArchived      bool         `db:"is_archived"`
	IsSticky        bool         `db:"is_sticky"`
	IsAtBumpLimit   bool         `db:"is_at_bump_limit"`
}

func (r feedRow) toDomain() domain.FeedRecord {
	rec := domain.FeedRecord{
		URL:           r.URL,
		EmbedOverride: domain.EmbedModeFromNullBool(r.EmbedOverride),
		LastPostID:    r.LastPostID,
		ReplyCount:    r.ReplyCount,
		ImageCount:    r.ImageCount,
		IsArchived:    r.IsArchived,
		IsSticky:      r.IsSticky,
		IsAtBumpLimit: r.IsAtBumpLimit,
	}
	if r.LastDeliveredAt.Valid {
		rec.LastDelivered = r.LastDeliveredAt.Time.UTC()
	}
	return rec
}

func lastDelivered(rec *domain.FeedRecord) sql.NullTime {
	if rec.LastDelivered.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: rec.LastDelivered.UTC(), Valid: true}
}

// Create inserts a new record. storage.ErrAlreadyExists is returned when
// the feed name is already taken for the destination; the primary key makes
// the check-and-insert atomic.
func (s *FeedStore) Create(ctx context.Context, destinationID, name string, rec *domain.FeedRecord) error {
	query := `
		INSERT INTO feeds (
			destination_id, name, url, embed_override, last_post_id,
			reply_count, last_delivered_at, image_count, is_archived,
			is_sticky, is_at_bump_limit
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (destination_id, name) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		destinationID,
		name,
		rec.URL,
		rec.EmbedOverride.NullBool(),
		rec.LastPostID,
		rec.ReplyCount,
		lastDelivered(rec),
		rec.ImageCount,
		rec.IsArchived,
		rec.IsSticky,
		rec.IsAtBumpLimit,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrAlreadyExists
	}
	return nil
}

func (s *FeedStore) Get(ctx context.Context, destinationID, name string) (*domain.FeedRecord, error) {
	var row feedRow
	query := `
		SELECT destination_id, name, url, embed_override, last_post_id,
		       reply_count, last_delivered_at, image_count, is_archived,
		       is_sticky, is_at_bump_limit
		FROM feeds
		WHERE destination_id = $1 AND name = $2`

	err := s.db.GetContext(ctx, &row, query, destinationID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec := row.toDomain()
	return &rec, nil
}

// Update upserts the record in one logical write; the cursor commit at the
// end of feed processing goes through here.
func (s *FeedStore) Update(ctx context.Context, destinationID, name string, rec *domain.FeedRecord) error {
	query := `
		INSERT INTO feeds (
			destination_id, name, url, embed_override, last_post_id,
			reply_count, last_delivered_at, image_count, is_archived,
			is_sticky, is_at_bump_limit
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (destination_id, name) DO UPDATE SET
			url = EXCLUDED.url,
			embed_override = EXCLUDED.embed_override,
			last_post_id = EXCLUDED.last_post_id,
			reply_count = EXCLUDED.reply_count,
			last_delivered_at = EXCLUDED.last_delivered_at,
			image_count = EXCLUDED.image_count,
			is_archived = EXCLUDED.is_archived,
			is_sticky = EXCLUDED.is_sticky,
			is_at_bump_limit = EXCLUDED.is_at_bump_limit,
			updated_at = now()`

	_, err := s.db.ExecContext(ctx, query,
		destinationID,
		name,
		rec.URL,
		rec.EmbedOverride.NullBool(),
		rec.LastPostID,
		rec.ReplyCount,
		lastDelivered(rec),
		rec.ImageCount,
		rec.IsArchived,
		rec.IsSticky,
		rec.IsAtBumpLimit,
	)
	return err
}

func (s *FeedStore) Delete(ctx context.Context, destinationID, name string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM feeds WHERE destination_id = $1 AND name = $2",
		destinationID, name,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListAll returns every record grouped by destination.
func (s *FeedStore) ListAll(ctx context.Context) (map[string]map[string]domain.FeedRecord, error) {
	var rows []feedRow
	query := `
		SELECT destination_id, name, url, embed_override, last_post_id,
		       reply_count, last_delivered_at, image_count, is_archived,
		       is_sticky, is_at_bump_limit
		FROM feeds`

	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	result := make(map[string]map[string]domain.FeedRecord)
	for _, row := range rows {
		dest, ok := result[row.DestinationID]
		if !ok {
			dest = make(map[string]domain.FeedRecord)
			result[row.DestinationID] = dest
		}
		dest[row.Name] = row.toDomain()
	}
	return result, nil
}

// ListByDestination returns a destination's feeds ordered by name.
func (s *FeedStore) ListByDestination(ctx context.Context, destinationID string) ([]domain.NamedRecord, error) {
	var rows []feedRow
	query := `
		SELECT destination_id, name, url, embed_override, last_post_id,
		       reply_count, last_delivered_at, image_count, is_archived,
		       is_sticky, is_at_bump_limit
		FROM feeds
		WHERE destination_id = $1
		ORDER BY name`

	if err := s.db.SelectContext(ctx, &rows, query, destinationID); err != nil {
		return nil, err
	}

	records := make([]domain.NamedRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, domain.NamedRecord{Name: row.Name, Record: row.toDomain()})
	}
	return records, nil
}
