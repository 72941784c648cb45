// Package history reads and clears the relational shopping_cart rows that
// back the fast cart store.
package history

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/FaustProMaxPX/Takeaway-Mall/internal/cart"
)

const (
	pingTimeout  = 1 * time.Second
	queryTimeout = 3 * time.Second
)

type PostgresStore struct {
	db  *sql.DB
	log *zap.Logger
}

func NewPostgresStore(db *sql.DB, log *zap.Logger) *PostgresStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostgresStore{db: db, log: log}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return withTimeout(ctx, pingTimeout, func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
}

// LoadCart returns the user's rows as lines. Rows with both or neither of
// dish_id and setmeal_id set, or a non-positive number, are skipped.
func (s *PostgresStore) LoadCart(ctx context.Context, userID string) ([]cart.LineItem, error) {
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return []cart.LineItem{}, nil
	}

	var out []cart.LineItem
	err = withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, dish_id, setmeal_id, number, name, image,
			       COALESCE((amount * 100)::bigint, 0), create_time
			FROM shopping_cart
			WHERE user_id = $1
			ORDER BY create_time ASC, id ASC
		`, uid)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]cart.LineItem, 0, 8)
		for rows.Next() {
			var (
				id        int64
				dishID    sql.NullInt64
				setmealID sql.NullInt64
				number    int64
				name      sql.NullString
				image     sql.NullString
				amount    int64
				createdAt time.Time
			)
			if err := rows.Scan(&id, &dishID, &setmealID, &number, &name, &image, &amount, &createdAt); err != nil {
				return err
			}

			ref, err := cart.ParseItemRef(nullInt(dishID), nullInt(setmealID))
			if err != nil || number <= 0 {
				s.log.Warn("skipping malformed shopping_cart row",
					zap.Int64("row_id", id),
					zap.String("user_id", userID),
					zap.Int64("number", number),
					zap.Error(err),
				)
				continue
			}

			out = append(out, cart.LineItem{
				LineID:    "h_" + strconv.FormatInt(id, 10),
				Item:      ref,
				Quantity:  number,
				UserID:    userID,
				CreatedAt: createdAt.UTC(),
				Details: cart.Details{
					Name:        name.String,
					Image:       image.String,
					AmountCents: amount,
				},
			})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) DeleteCart(ctx context.Context, userID string) error {
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return nil
	}

	return withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM shopping_cart WHERE user_id = $1`, uid)
		return err
	})
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func withTimeout(parent context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()
	return fn(ctx)
}
