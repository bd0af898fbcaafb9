package pg

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/port"
)

var (
	_ port.CredentialStore  = (*CredentialStore)(nil)
	_ port.CredentialWriter = (*CredentialStore)(nil)
)

// querier is the slice of *pgxpool.Pool the store uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS exchange_keys (
  id            SERIAL PRIMARY KEY,
  exchange_name TEXT NOT NULL,
  api_key       TEXT NOT NULL DEFAULT '',
  api_secret    TEXT NOT NULL DEFAULT ''
)`

type CredentialStore struct {
	pool *pgxpool.Pool
	db   querier
}

// call Close when finished with the store.
func NewCredentialStore(ctx context.Context, dsn string) (*CredentialStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	return &CredentialStore{pool: pool, db: pool}, nil
}

func (s *CredentialStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *CredentialStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the exchange_keys table if it does not exist.
func (s *CredentialStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pg: ensure schema: %w", err)
	}
	return nil
}

// ExchangeCredentials returns stored credentials in insertion order. Rows
// with a blank exchange name are skipped.
func (s *CredentialStore) ExchangeCredentials(ctx context.Context) ([]domain.ExchangeCredential, error) {
	rows, err := s.db.Query(ctx, `SELECT exchange_name, api_key, api_secret FROM exchange_keys ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pg: query exchange_keys: %w", err)
	}
	defer rows.Close()

	var res []domain.ExchangeCredential
	for rows.Next() {
		var c domain.ExchangeCredential
		if err := rows.Scan(&c.ExchangeName, &c.APIKey, &c.APISecret); err != nil {
			return nil, fmt.Errorf("pg: scan exchange_keys: %w", err)
		}
		c.ExchangeName = strings.TrimSpace(c.ExchangeName)
		if c.ExchangeName == "" {
			continue
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: iterate exchange_keys: %w", err)
	}
	return res, nil
}

// SaveCredential inserts a credential row.
func (s *CredentialStore) SaveCredential(ctx context.Context, c domain.ExchangeCredential) error {
	if strings.TrimSpace(c.ExchangeName) == "" {
		return fmt.Errorf("%w: exchange name is required", domain.ErrInvalidInput)
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO exchange_keys(exchange_name, api_key, api_secret)
VALUES($1,$2,$3)`, c.ExchangeName, c.APIKey, c.APISecret)
	if err != nil {
		return fmt.Errorf("pg: insert exchange_keys: %w", err)
	}
	return nil
}
