// Package store provides sqlite access to the source, enrichment and
// event tables.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/anipush/anipush/internal/event"
)

// titleMatchThreshold is the minimum JaroWinkler similarity for the
// optional title-based enrichment lookup.
const titleMatchThreshold = 0.9

// Store provides access to push data.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// New creates a store.
func New(db *sql.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, log: log}
}

// SelectUnsent returns the most recent unsent record for the source, or
// nil when nothing is pending.
func (s *Store) SelectUnsent(ctx context.Context, src event.Source) (event.Raw, error) {
	if !src.Valid() {
		return nil, fmt.Errorf("unknown source %q", src)
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s WHERE send_status = 0 ORDER BY id DESC LIMIT 1", src))
	if err != nil {
		return nil, fmt.Errorf("select unsent: %w", err)
	}
	defer rows.Close()
	return scanFirstRow(rows)
}

// AnimeByTMDBID returns the enrichment row for a TMDB id, or nil when
// no row exists.
func (s *Store) AnimeByTMDBID(ctx context.Context, tmdbID string) (event.Raw, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM anime WHERE tmdb_id = ? LIMIT 1", tmdbID)
	if err != nil {
		return nil, fmt.Errorf("select anime: %w", err)
	}
	defer rows.Close()
	return scanFirstRow(rows)
}

// AnimeByTitle returns the enrichment row whose stored titles best
// match the given title by JaroWinkler similarity, or nil when nothing
// clears the threshold. Used only when a record carries no TMDB id and
// the title_match feature is enabled.
func (s *Store) AnimeByTitle(ctx context.Context, title string) (event.Raw, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, "SELECT tmdb_id, emby_title, tmdb_title FROM anime")
	if err != nil {
		return nil, fmt.Errorf("scan anime titles: %w", err)
	}
	defer rows.Close()

	bestID := ""
	bestScore := 0.0
	for rows.Next() {
		var tmdbID string
		var embyTitle, tmdbTitle sql.NullString
		if err := rows.Scan(&tmdbID, &embyTitle, &tmdbTitle); err != nil {
			return nil, fmt.Errorf("scan anime titles: %w", err)
		}
		for _, candidate := range []string{embyTitle.String, tmdbTitle.String} {
			if candidate == "" {
				continue
			}
			score := float64(edlib.JaroWinklerSimilarity(title, candidate))
			if score > bestScore {
				bestScore = score
				bestID = tmdbID
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan anime titles: %w", err)
	}
	if bestID == "" || bestScore < titleMatchThreshold {
		return nil, nil
	}
	s.log.Debug("title match", "title", title, "tmdb_id", bestID, "score", bestScore)
	return s.AnimeByTMDBID(ctx, bestID)
}

// MarkSent flips the send flag for a source record. The upsert is
// idempotent by primary key; marking an already-sent record is a no-op.
func (s *Store) MarkSent(ctx context.Context, src event.Source, id int64) error {
	if !src.Valid() {
		return fmt.Errorf("unknown source %q", src)
	}
	query, args := BuildUpsert(string(src), map[string]any{"id": id, "send_status": 1}, "id")
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// InsertRecord upserts a flattened webhook payload into a source table
// and returns the row id.
func (s *Store) InsertRecord(ctx context.Context, src event.Source, data map[string]any) (int64, error) {
	if !src.Valid() {
		return 0, fmt.Errorf("unknown source %q", src)
	}
	query, args := BuildUpsert(string(src), data, "")
	if query == "" {
		return 0, fmt.Errorf("insert record: no usable fields")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return res.LastInsertId()
}

// UpsertAnime writes an enrichment row keyed by tmdb_id, updating only
// the provided fields on conflict.
func (s *Store) UpsertAnime(ctx context.Context, data map[string]any) error {
	query, args := BuildUpsert("anime", data, "tmdb_id")
	if query == "" {
		return fmt.Errorf("upsert anime: no usable fields")
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert anime: %w", err)
	}
	return nil
}

// scanFirstRow converts the first result row into a Raw map, with
// []byte columns rendered as strings. Returns nil when the result set
// is empty.
func scanFirstRow(rows *sql.Rows) (event.Raw, error) {
	if !rows.Next() {
		return nil, rows.Err()
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	rec := make(event.Raw, len(cols))
	for i, col := range cols {
		switch v := values[i].(type) {
		case []byte:
			rec[col] = string(v)
		default:
			rec[col] = v
		}
	}
	return rec, nil
}
