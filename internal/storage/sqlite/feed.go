// Package sqlite provides a single-node feed store backed by an embedded
// database; no external services required.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"threadfeed/internal/domain"
	"threadfeed/internal/storage"
)

// FeedStore persists feed records in a local SQLite file.
type FeedStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*FeedStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	s := &FeedStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *FeedStore) Close() error {
	return s.db.Close()
}

func (s *FeedStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS feeds (
		destination_id    TEXT NOT NULL,
		name              TEXT NOT NULL,
		url               TEXT NOT NULL,
		embed_override    INTEGER,
		last_post_id      INTEGER NOT NULL DEFAULT 0,
		reply_count       INTEGER NOT NULL DEFAULT 0,
		last_delivered_at INTEGER,
		image_count       INTEGER NOT NULL DEFAULT 0,
		is_archived       INTEGER NOT NULL DEFAULT 0,
		is_sticky         INTEGER NOT NULL DEFAULT 0,
		is_at_bump_limit  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (destination_id, name)
	);`
	_, err := s.db.Exec(schema)
	return err
}

const feedColumns = `url, embed_override, last_post_id, reply_count,
	last_delivered_at, image_count, is_archived, is_sticky, is_at_bump_limit`

func recordArgs(rec *domain.FeedRecord) []any {
	var delivered sql.NullInt64
	if !rec.LastDelivered.IsZero() {
		delivered = sql.NullInt64{Int64: rec.LastDelivered.Unix(), Valid: true}
	}
	return []any{
		rec.URL,
		rec.EmbedOverride.NullBool(),
		rec.LastPostID,
		rec.ReplyCount,
		delivered,
		rec.ImageCount,
		rec.IsArchived,
		rec.IsSticky,
		rec.IsAtBumpLimit,
	}
}

func scanRecord(scan func(dest ...any) error) (*domain.FeedRecord, error) {
	var rec domain.FeedRecord
	var embed sql.NullBool
	var delivered sql.NullInt64

	err := scan(
		&rec.URL,
		&embed,
		&rec.LastPostID,
		&rec.ReplyCount,
		&delivered,
		&rec.ImageCount,
		&rec.IsArchived,
		&rec.IsSticky,
		&rec.IsAtBumpLimit,
	)
	if err != nil {
		return nil, err
	}

	rec.EmbedOverride = domain.EmbedModeFromNullBool(embed)
	if delivered.Valid {
		rec.LastDelivered = time.Unix(delivered.Int64, 0).UTC()
	}
	return &rec, nil
}

func (s *FeedStore) Create(ctx context.Context, destinationID, name string, rec *domain.FeedRecord) error {
	query := `INSERT INTO feeds (destination_id, name, ` + feedColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (destination_id, name) DO NOTHING`

	args := append([]any{destinationID, name}, recordArgs(rec)...)
	res, err := s.db.ExecContext(ctx, query, args...)
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
	query := `SELECT ` + feedColumns + ` FROM feeds
		WHERE destination_id = ? AND name = ?`

	row := s.db.QueryRowContext(ctx, query, destinationID, name)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return rec, err
}

func (s *FeedStore) Update(ctx context.Context, destinationID, name string, rec *domain.FeedRecord) error {
	query := `INSERT INTO feeds (destination_id, name, ` + feedColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (destination_id, name) DO UPDATE SET
			url = excluded.url,
			embed_override = excluded.embed_override,
			last_post_id = excluded.last_post_id,
			reply_count = excluded.reply_count,
			last_delivered_at = excluded.last_delivered_at,
			image_count = excluded.image_count,
			is_archived = excluded.is_archived,
			is_sticky = excluded.is_sticky,
			is_at_bump_limit = excluded.is_at_bump_limit`

	args := append([]any{destinationID, name}, recordArgs(rec)...)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *FeedStore) Delete(ctx context.Context, destinationID, name string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM feeds WHERE destination_id = ? AND name = ?",
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

func (s *FeedStore) ListAll(ctx context.Context) (map[string]map[string]domain.FeedRecord, error) {
	query := `SELECT destination_id, name, ` + feedColumns + ` FROM feeds`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]map[string]domain.FeedRecord)
	for rows.Next() {
		var destinationID, name string
		var rec domain.FeedRecord
		var embed sql.NullBool
		var delivered sql.NullInt64

		err := rows.Scan(
			&destinationID,
			&name,
			&rec.URL,
			&embed,
			&rec.LastPostID,
			&rec.ReplyCount,
			&delivered,
			&rec.ImageCount,
			&rec.IsArchived,
			&rec.IsSticky,
			&rec.IsAtBumpLimit,
		)
		if err != nil {
			return nil, err
		}

		rec.EmbedOverride = domain.EmbedModeFromNullBool(embed)
		if delivered.Valid {
			rec.LastDelivered = time.Unix(delivered.Int64, 0).UTC()
		}

		dest, ok := result[destinationID]
		if !ok {
			dest = make(map[string]domain.FeedRecord)
			result[destinationID] = dest
		}
		dest[name] = rec
	}
	return result, rows.Err()
}

func (s *FeedStore) ListByDestination(ctx context.Context, destinationID string) ([]domain.NamedRecord, error) {
	query := `SELECT name, ` + feedColumns + ` FROM feeds
		WHERE destination_id = ? ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, destinationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.NamedRecord
	for rows.Next() {
		var name string
		var rec domain.FeedRecord
		var embed sql.NullBool
		var delivered sql.NullInt64

		err := rows.Scan(
			&name,
			&rec.URL,
			&embed,
			&rec.LastPostID,
			&rec.ReplyCount,
			&delivered,
			&rec.ImageCount,
			&rec.IsArchived,
			&rec.IsSticky,
			&rec.IsAtBumpLimit,
		)
		if err != nil {
			return nil, err
		}

		rec.EmbedOverride = domain.EmbedModeFromNullBool(embed)
		if delivered.Valid {
			rec.LastDelivered = time.Unix(delivered.Int64, 0).UTC()
		}
		records = append(records, domain.NamedRecord{Name: name, Record: rec})
	}
	return records, rows.Err()
}
