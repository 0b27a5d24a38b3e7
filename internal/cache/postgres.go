package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bbcompare/internal/domain"
)

const outcomesSchema = `
CREATE TABLE IF NOT EXISTS outcomes (
	postcode  TEXT        NOT NULL,
	provider  TEXT        NOT NULL,
	status    TEXT        NOT NULL,
	fail_kind TEXT        NOT NULL DEFAULT '',
	detail    TEXT        NOT NULL DEFAULT '',
	quote     JSONB,
	stored_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (postcode, provider)
)`

// PostgresStore persists outcomes in a single upserted table. One row per
// (postcode, provider); the quote column carries the full extracted quote as
// JSON so plan lists survive round trips without a second table.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := db.Ping(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if _, err := db.Exec(context.Background(), outcomesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring outcomes table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (domain.CacheEntry, bool, error) {
	key = normalizeKey(key)
	row := s.db.QueryRow(ctx,
		`SELECT status, fail_kind, detail, quote, stored_at FROM outcomes WHERE postcode=$1 AND provider=$2`,
		key.Postcode, key.Provider)

	var (
		status, failKind, detail string
		quoteJSON                []byte
		storedAt                 time.Time
	)
	if err := row.Scan(&status, &failKind, &detail, &quoteJSON, &storedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CacheEntry{}, false, nil
		}
		return domain.CacheEntry{}, false, err
	}
	entry, err := entryFromRow(key.Postcode, key.Provider, status, failKind, detail, quoteJSON, storedAt)
	if err != nil {
		return domain.CacheEntry{}, false, err
	}
	return entry, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, entry domain.CacheEntry) error {
	key := normalizeKey(Key{Postcode: entry.Postcode, Provider: entry.Provider})
	var quoteJSON []byte
	if entry.Outcome.Quote != nil {
		var err error
		quoteJSON, err = json.Marshal(entry.Outcome.Quote)
		if err != nil {
			return err
		}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO outcomes (postcode, provider, status, fail_kind, detail, quote, stored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (postcode, provider) DO UPDATE SET
			status = EXCLUDED.status,
			fail_kind = EXCLUDED.fail_kind,
			detail = EXCLUDED.detail,
			quote = EXCLUDED.quote,
			stored_at = EXCLUDED.stored_at`,
		key.Postcode, key.Provider, string(entry.Outcome.Status),
		string(entry.Outcome.FailKind), entry.Outcome.Detail, quoteJSON, entry.StoredAt.UTC())
	return err
}

func (s *PostgresStore) List(ctx context.Context, postcode string) ([]domain.CacheEntry, error) {
	postcode = normalizeKey(Key{Postcode: postcode}).Postcode
	rows, err := s.db.Query(ctx,
		`SELECT provider, status, fail_kind, detail, quote, stored_at FROM outcomes WHERE postcode=$1 ORDER BY provider`,
		postcode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CacheEntry
	for rows.Next() {
		var (
			provider, status, failKind, detail string
			quoteJSON                          []byte
			storedAt                           time.Time
		)
		if err := rows.Scan(&provider, &status, &failKind, &detail, &quoteJSON, &storedAt); err != nil {
			return nil, err
		}
		entry, err := entryFromRow(postcode, provider, status, failKind, detail, quoteJSON, storedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func entryFromRow(postcode, provider, status, failKind, detail string, quoteJSON []byte, storedAt time.Time) (domain.CacheEntry, error) {
	parsed, ok := domain.ParseOutcomeStatus(status)
	if !ok {
		return domain.CacheEntry{}, fmt.Errorf("unknown status %q for %s/%s", status, postcode, provider)
	}
	var outcome domain.ScrapeOutcome
	switch parsed {
	case domain.StatusSuccess:
		var quote domain.Quote
		if err := json.Unmarshal(quoteJSON, &quote); err != nil {
			return domain.CacheEntry{}, fmt.Errorf("corrupt quote for %s/%s: %w", postcode, provider, err)
		}
		outcome = domain.Success(quote)
	case domain.StatusUnavailable:
		outcome = domain.Unavailable(provider, postcode)
	case domain.StatusFailed:
		outcome = domain.Failed(provider, postcode, domain.FailureKind(failKind), detail)
	default:
		return domain.CacheEntry{}, fmt.Errorf("status %q is not cacheable", status)
	}
	return domain.CacheEntry{
		Postcode: postcode,
		Provider: provider,
		Outcome:  outcome,
		StoredAt: storedAt,
	}, nil
}
