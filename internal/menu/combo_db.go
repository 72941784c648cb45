package menu

import (
	"context"
	"database/sql"
	"time"

	"github.com/FaustProMaxPX/Takeaway-Mall/internal/cart"
)

const queryTimeout = 3 * time.Second

// PostgresComboSource reads combo composition from setmeal_dish, where a
// withdrawn dish is flagged with is_deleted = 1.
type PostgresComboSource struct {
	db *sql.DB
}

func NewPostgresComboSource(db *sql.DB) *PostgresComboSource {
	return &PostgresComboSource{db: db}
}

func (s *PostgresComboSource) ConstituentsOf(ctx context.Context, comboID int64) ([]cart.Constituent, error) {
	var out []cart.Constituent

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT dish_id, is_deleted
			FROM setmeal_dish
			WHERE setmeal_id = $1
			ORDER BY dish_id ASC
		`, comboID)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]cart.Constituent, 0, 4)
		for rows.Next() {
			var (
				dishID  int64
				deleted int
			)
			if err := rows.Scan(&dishID, &deleted); err != nil {
				return err
			}
			out = append(out, cart.Constituent{DishID: dishID, Available: deleted == 0})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func withTimeout(parent context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()
	return fn(ctx)
}
