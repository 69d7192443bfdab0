package oauthflow

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore keeps pending authorizations in the oauth_states table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and applies pending migrations.
func NewPostgresStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Info("migration applied", "version", r.Source.Version, "duration_ms", r.Duration.Milliseconds())
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, state string, p Pending, ttl time.Duration) error {
	if state == "" {
		return errors.New("oauthflow: empty state")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO oauth_states (state, session_id, verifier, expires_at) VALUES ($1, $2, $3, $4)`,
		state, p.SessionID, p.Verifier, time.Now().Add(ttl),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errors.New("oauthflow: state already issued")
		}
		return fmt.Errorf("store oauth state: %w", err)
	}
	return nil
}

// Consume deletes the row and returns it in one statement, so concurrent
// callbacks for the same state cannot both succeed.
func (s *PostgresStore) Consume(ctx context.Context, state string) (Pending, error) {
	if state == "" {
		return Pending{}, ErrInvalidState
	}
	var (
		p       Pending
		expires time.Time
	)
	err := s.pool.QueryRow(ctx,
		`DELETE FROM oauth_states WHERE state = $1 RETURNING session_id, verifier, expires_at`,
		state,
	).Scan(&p.SessionID, &p.Verifier, &expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pending{}, ErrInvalidState
		}
		return Pending{}, fmt.Errorf("consume oauth state: %w", err)
	}
	if !time.Now().Before(expires) {
		return Pending{}, ErrInvalidState
	}
	return p, nil
}

// Purge deletes expired rows.
func (s *PostgresStore) Purge(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM oauth_states WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
