package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	provider_id TEXT    NOT NULL,
	status      TEXT    NOT NULL,
	media_type  TEXT    NOT NULL,
	tmdb_id     TEXT    NOT NULL,
	season      INTEGER NOT NULL DEFAULT 0,
	episode     INTEGER NOT NULL DEFAULT 0,
	error       TEXT    NOT NULL DEFAULT '',
	at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS attempts_provider ON attempts(provider_id);
`

// SQLiteSink stores events in a local database for the stats command.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteSink, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating telemetry dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening telemetry db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating telemetry schema: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Write(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (provider_id, status, media_type, tmdb_id, season, episode, error, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ProviderID, e.Status.String(), e.Media.Type.String(), e.Media.TMDBID,
		e.Media.SeasonNumber(), e.Media.EpisodeNumber(), e.Error, e.At.Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting attempt: %w", err)
	}
	return nil
}

// ProviderStats aggregates attempts for one provider.
type ProviderStats struct {
	ProviderID string `json:"providerId"`
	Success    int    `json:"success"`
	NotFound   int    `json:"notfound"`
	Failure    int    `json:"failure"`
}

// Total returns the number of recorded attempts.
func (p ProviderStats) Total() int {
	return p.Success + p.NotFound + p.Failure
}

// SuccessRate returns successes over attempts, or 0 with no attempts.
func (p ProviderStats) SuccessRate() float64 {
	if p.Total() == 0 {
		return 0
	}
	return float64(p.Success) / float64(p.Total())
}

// Stats returns per-provider outcome counts ordered by provider id.
func (s *SQLiteSink) Stats(ctx context.Context) ([]ProviderStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id,
		       SUM(CASE WHEN status = 'success'  THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'notfound' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'failure'  THEN 1 ELSE 0 END)
		FROM attempts
		GROUP BY provider_id
		ORDER BY provider_id`)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	var out []ProviderStats
	for rows.Next() {
		var p ProviderStats
		if err := rows.Scan(&p.ProviderID, &p.Success, &p.NotFound, &p.Failure); err != nil {
			return nil, fmt.Errorf("scanning stats: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
