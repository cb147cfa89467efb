package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/hamzaKhattat/call-mediator/internal/filter"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
	"github.com/hamzaKhattat/call-mediator/pkg/logger"
)

type BlockedNumber struct {
	Number    string    `json:"number"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// BlockedNumbers is the block list, read through the cache.
type BlockedNumbers struct {
	db    *sql.DB
	cache *Cache
	ttl   time.Duration
}

func NewBlockedNumbers(db *sql.DB, cache *Cache, ttl time.Duration) *BlockedNumbers {
	if cache == nil {
		cache = NoopCache()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BlockedNumbers{db: db, cache: cache, ttl: ttl}
}

func blockedKey(number string) string { return "blocked:" + number }

func (r *BlockedNumbers) IsBlocked(ctx context.Context, number string) (bool, error) {
	number = filter.NormalizeNumber(number)
	if number == "" {
		return false, nil
	}

	var cached bool
	if r.cache.Get(ctx, blockedKey(number), &cached) {
		return cached, nil
	}

	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM blocked_numbers WHERE number = ?", number).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrDatabase, "failed to look up blocked number")
	}

	blocked := n > 0
	r.cache.Set(ctx, blockedKey(number), blocked, r.ttl)
	return blocked, nil
}

func (r *BlockedNumbers) Block(ctx context.Context, number, reason string) error {
	number = filter.NormalizeNumber(number)
	if number == "" {
		return errors.New(errors.ErrInvalidArgument, "number is empty")
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO blocked_numbers (number, reason) VALUES (?, ?) ON DUPLICATE KEY UPDATE reason = VALUES(reason)",
		number, reason)
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to block number")
	}
	r.cache.Delete(ctx, blockedKey(number))

	logger.WithContext(ctx).WithField("number", number).Info("Number blocked")
	return nil
}

func (r *BlockedNumbers) Unblock(ctx context.Context, number string) error {
	number = filter.NormalizeNumber(number)
	if _, err := r.db.ExecContext(ctx, "DELETE FROM blocked_numbers WHERE number = ?", number); err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to unblock number")
	}
	r.cache.Delete(ctx, blockedKey(number))

	logger.WithContext(ctx).WithField("number", number).Info("Number unblocked")
	return nil
}

func (r *BlockedNumbers) List(ctx context.Context) ([]BlockedNumber, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT number, reason, created_at FROM blocked_numbers ORDER BY number")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to list blocked numbers")
	}
	defer rows.Close()

	var out []BlockedNumber
	for rows.Next() {
		var b BlockedNumber
		if err := rows.Scan(&b.Number, &b.Reason, &b.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan blocked number")
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to list blocked numbers")
	}
	return out, nil
}
