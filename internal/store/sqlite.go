package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/scoutlab/pubscout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS publications (
	source_id        TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	authors          TEXT NOT NULL,
	abstract         TEXT,
	department       TEXT,
	publication_type TEXT,
	doi              TEXT,
	url              TEXT,
	published_date   DATETIME,
	raw_text         TEXT,
	scraped_at       DATETIME NOT NULL,
	score            REAL,
	rationale        TEXT,
	score_model      TEXT,
	scored_at        DATETIME,
	notified_at      DATETIME,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS cursors (
	name       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_publications_score ON publications(score);
CREATE INDEX IF NOT EXISTS idx_publications_scraped_at ON publications(scraped_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Exists(ctx context.Context, sourceID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM publications WHERE source_id = ?`, sourceID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: exists %s", sourceID)
	}
	return true, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec model.PublicationRecord, score *model.ScoreResult) error {
	authorsJSON, err := json.Marshal(rec.Authors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal authors")
	}

	var published any
	if !rec.PublishedDate.IsZero() {
		published = rec.PublishedDate.UTC()
	}

	var scoreVal, rationale, scoreModel, scoredAt any
	if score != nil {
		scoreVal = score.Score
		rationale = score.Rationale
		scoreModel = score.Model
		scoredAt = score.ScoredAt.UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO publications
		 (source_id, title, authors, abstract, department, publication_type,
		  doi, url, published_date, raw_text, scraped_at,
		  score, rationale, score_model, scored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SourceID, rec.Title, string(authorsJSON), rec.Abstract,
		rec.Department, rec.PublicationType, rec.DOI, rec.URL,
		published, rec.RawText, rec.ScrapedAt.UTC(),
		scoreVal, rationale, scoreModel, scoredAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicate
		}
		return eris.Wrapf(err, "sqlite: insert %s", rec.SourceID)
	}
	return nil
}

func (s *SQLiteStore) MarkNotified(ctx context.Context, sourceID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE publications SET notified_at = ? WHERE source_id = ?`,
		time.Now().UTC(), sourceID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark notified %s", sourceID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) LoadCursor(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cursors WHERE name = ?`, name,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: load cursor %s", name)
	}
	return value, nil
}

func (s *SQLiteStore) SaveCursor(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursors (name, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save cursor %s", name)
}

func (s *SQLiteStore) ClearCursor(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cursors WHERE name = ?`, name)
	return eris.Wrapf(err, "sqlite: clear cursor %s", name)
}

func (s *SQLiteStore) CountPublications(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM publications`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count publications")
}
