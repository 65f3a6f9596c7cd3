package session

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore persists session data in PostgreSQL so drafts and dedup
// counters survive service restarts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the store and initializes the schema through
// embedded migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry reruns fn on serialization failures, deadlocks and connection
// errors. Everything else fails immediately.
func (s *PostgresStore) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(1*time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Get returns the value stored for the session under key.
func (s *PostgresStore) Get(ctx context.Context, sessionID, key string) ([]byte, bool, error) {
	var value []byte
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx,
			`SELECT value FROM session_kv WHERE session_id = $1 AND key = $2`,
			sessionID, key,
		).Scan(&value)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get session value: %w", err)
	}
	return value, true, nil
}

// Set stores the value for the session under key, replacing any previous one.
func (s *PostgresStore) Set(ctx context.Context, sessionID, key string, value []byte) error {
	err := s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO session_kv (session_id, key, value) VALUES ($1, $2, $3)
			 ON CONFLICT (session_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			sessionID, key, value,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("set session value: %w", err)
	}
	return nil
}

// Delete removes the value stored for the session under key.
func (s *PostgresStore) Delete(ctx context.Context, sessionID, key string) error {
	err := s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`DELETE FROM session_kv WHERE session_id = $1 AND key = $2`,
			sessionID, key,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete session value: %w", err)
	}
	return nil
}

// PurgeKey deletes all values stored under key across sessions that were
// last written before cutoff. Returns the number of deleted rows.
func (s *PostgresStore) PurgeKey(ctx context.Context, key string, cutoff time.Time) (int64, error) {
	var purged int64
	err := s.withRetry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx,
			`DELETE FROM session_kv WHERE key = $1 AND updated_at < $2`,
			key, cutoff,
		)
		if err != nil {
			return err
		}
		purged = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge session values: %w", err)
	}
	return purged, nil
}

// StartCleanup runs a background loop that purges stale values under key.
// Returns immediately; the loop stops when ctx is canceled.
func (s *PostgresStore) StartCleanup(ctx context.Context, logger *zap.Logger, key string, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := s.PurgeKey(ctx, key, time.Now().Add(-maxAge))
				if err != nil {
					logger.Error("session cleanup error", zap.Error(err), zap.String("key", key))
					continue
				}
				if purged > 0 {
					logger.Info("purged stale session values", zap.String("key", key), zap.Int64("count", purged))
				}
			}
		}
	}()
}
