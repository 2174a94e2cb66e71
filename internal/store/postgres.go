package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/scoutlab/pubscout/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"exists_publication": `SELECT 1 FROM publications WHERE source_id = $1`,
	"insert_publication": `INSERT INTO publications
		 (source_id, title, authors, abstract, department, publication_type,
		  doi, url, published_date, raw_text, scraped_at,
		  score, rationale, score_model, scored_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
	"mark_notified": `UPDATE publications SET notified_at = $1 WHERE source_id = $2`,
	"load_cursor":   `SELECT value FROM cursors WHERE name = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS publications (
	source_id        TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	authors          JSONB NOT NULL,
	abstract         TEXT,
	department       TEXT,
	publication_type TEXT,
	doi              TEXT,
	url              TEXT,
	published_date   TIMESTAMPTZ,
	raw_text         TEXT,
	scraped_at       TIMESTAMPTZ NOT NULL,
	score            DOUBLE PRECISION,
	rationale        TEXT,
	score_model      TEXT,
	scored_at        TIMESTAMPTZ,
	notified_at      TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cursors (
	name       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_publications_score ON publications(score);
CREATE INDEX IF NOT EXISTS idx_publications_scraped_at ON publications(scraped_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, sourceID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM publications WHERE source_id = $1`, sourceID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: exists %s", sourceID)
	}
	return true, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec model.PublicationRecord, score *model.ScoreResult) error {
	authorsJSON, err := json.Marshal(rec.Authors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal authors")
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO publications
		 (source_id, title, authors, abstract, department, publication_type,
		  doi, url, published_date, raw_text, scraped_at,
		  score, rationale, score_model, scored_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.SourceID, rec.Title, authorsJSON, rec.Abstract,
		rec.Department, rec.PublicationType, rec.DOI, rec.URL,
		published, rec.RawText, rec.ScrapedAt.UTC(),
		scoreVal, rationale, scoreModel, scoredAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return eris.Wrapf(err, "postgres: insert %s", rec.SourceID)
	}
	return nil
}

func (s *PostgresStore) MarkNotified(ctx context.Context, sourceID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE publications SET notified_at = $1 WHERE source_id = $2`,
		time.Now().UTC(), sourceID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark notified %s", sourceID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LoadCursor(ctx context.Context, name string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM cursors WHERE name = $1`, name,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: load cursor %s", name)
	}
	return value, nil
}

func (s *PostgresStore) SaveCursor(ctx context.Context, name, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cursors (name, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET value = $2, updated_at = $3`,
		name, value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save cursor %s", name)
}

func (s *PostgresStore) ClearCursor(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cursors WHERE name = $1`, name)
	return eris.Wrapf(err, "postgres: clear cursor %s", name)
}

func (s *PostgresStore) CountPublications(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM publications`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count publications")
}
