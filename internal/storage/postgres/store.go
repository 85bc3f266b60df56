package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trustlines-relay/internal/storage"
)

const uniqueViolation = "23505"

// Store provides Postgres persistence for push client tokens.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the token table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS client_tokens (
			user_address TEXT NOT NULL,
			client_token TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_address, client_token)
		)
	`)
	return err
}

// AddToken stores a mapping. An existing mapping yields storage.ErrTokenExists.
func (s *Store) AddToken(ctx context.Context, user common.Address, token string) error {
	if token == "" {
		return fmt.Errorf("client token required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO client_tokens (user_address, client_token)
		VALUES ($1, $2)
	`, user.Hex(), token)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return storage.ErrTokenExists
		}
		return err
	}
	return nil
}

func (s *Store) DeleteToken(ctx context.Context, user common.Address, token string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM client_tokens WHERE user_address=$1 AND client_token=$2
	`, user.Hex(), token)
	return err
}

// ListTokens returns every stored mapping ordered by user.
func (s *Store) ListTokens(ctx context.Context) ([]storage.TokenMapping, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_address, client_token FROM client_tokens ORDER BY user_address, created_at
	`)
	if err != nil {
		return nil, err
	}
	mappings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.TokenMapping, error) {
		var user, token string
		if err := row.Scan(&user, &token); err != nil {
			return storage.TokenMapping{}, err
		}
		if !common.IsHexAddress(user) {
			return storage.TokenMapping{}, fmt.Errorf("stored user address %q is malformed", user)
		}
		return storage.TokenMapping{User: common.HexToAddress(user), Token: token}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list client tokens: %w", err)
	}
	return mappings, nil
}
