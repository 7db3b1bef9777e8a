// Package sqlstore implements the review store on database/sql, backed by
// SQLite (modernc.org/sqlite) or PostgreSQL (lib/pq).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reviewq/internal/config"
	"reviewq/internal/domain"
	"reviewq/internal/ports"
	"strconv"
	"strings"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 5 * time.Minute
)

var _ ports.ReviewStore = (*Store)(nil)

type Store struct {
	db     *sql.DB
	driver string
}

// Open connects using driver ("sqlite" or "postgres") and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("database DSN not set")
	}
	switch driver {
	case config.DriverSQLite, config.DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}

	if driver == config.DriverSQLite {
		// one writer; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
			}
		}
	} else {
		db.SetMaxOpenConns(defaultMaxOpenConns)
		db.SetMaxIdleConns(defaultMaxIdleConns)
		db.SetConnMaxLifetime(defaultConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Ctx(ctx).Info().Str("driver", driver).Msg("review store ready")

	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.ReviewStatus) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE reviews SET status = ?, is_public = ?, updated_at = ? WHERE id = ?`),
		string(status), status.Public(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update review %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update review %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update review %s: %w", id, ports.ErrReviewNotFound)
	}
	return nil
}

// BulkUpdateStatus updates all existing reviews in ids inside one
// transaction. Unknown ids are ignored.
func (s *Store) BulkUpdateStatus(ctx context.Context, ids []string, status domain.ReviewStatus) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	args := make([]any, 0, len(ids)+3)
	args = append(args, string(status), status.Public(), time.Now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE reviews SET status = ?, is_public = ?, updated_at = ? WHERE id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)`

	res, err := tx.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("bulk update %d reviews: %w", len(ids), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk update: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && int(n) < len(ids) {
		log.Ctx(ctx).Debug().Int64("updated", n).Int("requested", len(ids)).Msg("bulk update skipped unknown reviews")
	}
	return nil
}

// Insert adds a review, or replaces the row with the same id.
func (s *Store) Insert(ctx context.Context, r domain.Review) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO reviews (id, property_name, guest_name, channel, rating, review_text, status, is_public, submitted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			property_name = excluded.property_name,
			guest_name = excluded.guest_name,
			channel = excluded.channel,
			rating = excluded.rating,
			review_text = excluded.review_text,
			status = excluded.status,
			is_public = excluded.is_public,
			updated_at = excluded.updated_at`),
		r.ID, r.PropertyName, r.GuestName, r.Channel, r.Rating, r.Text,
		string(r.Status), r.Status.Public(), r.SubmittedAt.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("insert review %s: %w", r.ID, err)
	}
	return nil
}

// Status returns the stored status and public flag of a review.
func (s *Store) Status(ctx context.Context, id string) (domain.ReviewStatus, bool, error) {
	var status string
	var public bool
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT status, is_public FROM reviews WHERE id = ?`), id).Scan(&status, &public)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, ports.ErrReviewNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("get review %s: %w", id, err)
	}
	return domain.ReviewStatus(status), public, nil
}
