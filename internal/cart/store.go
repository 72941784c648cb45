package cart

import (
	"context"
	"time"
)

// LineStore is the fast key-value store holding one container of lines per
// user. Implementations must make IncrLine and DecrLine atomic per line.
type LineStore interface {
	UpsertLine(ctx context.Context, userID string, line LineItem) error
	// RestoreLine writes line only when the cart has no line for its item,
	// so a concurrent increment is never overwritten. It reports whether
	// the line was written.
	RestoreLine(ctx context.Context, userID string, line LineItem) (bool, error)
	GetLine(ctx context.Context, userID string, item ItemRef) (LineItem, bool, error)
	DeleteLine(ctx context.Context, userID string, item ItemRef) error
	ListLines(ctx context.Context, userID string) ([]LineItem, error)
	CartExists(ctx context.Context, userID string) (bool, error)
	DeleteCart(ctx context.Context, userID string) error

	// IncrLine adds one to the line, creating it from template with
	// quantity 1 when absent. firstLine reports that the cart held no lines
	// before the call.
	IncrLine(ctx context.Context, userID string, template LineItem) (qty int64, firstLine bool, err error)
	// DecrLine removes one from the line and deletes it at zero. It returns
	// ErrLineNotFound when the line is absent.
	DecrLine(ctx context.Context, userID string, item ItemRef) (qty int64, err error)

	Ping(ctx context.Context) error
}

// ScheduleIndex is a time-ordered index holding at most one due time per
// user.
type ScheduleIndex interface {
	Arm(ctx context.Context, userID string, due time.Time) error
	Disarm(ctx context.Context, userID string) error
	// PopDue returns up to limit entries due at or before now, earliest
	// first. Entries stay in the index until settled.
	PopDue(ctx context.Context, now time.Time, limit int) ([]DueEntry, error)
	// Settle removes the entry unless it was re-armed past entry.Due.
	Settle(ctx context.Context, entry DueEntry) (bool, error)
	DueAt(ctx context.Context, userID string) (time.Time, bool, error)
}

// Constituent is one dish inside a combo.
type Constituent struct {
	DishID    int64 `json:"dish_id"`
	Available bool  `json:"available"`
}

type ComboSource interface {
	ConstituentsOf(ctx context.Context, comboID int64) ([]Constituent, error)
}

// HistorySource is the durable cart store consulted when the fast store has
// no container for a user.
type HistorySource interface {
	LoadCart(ctx context.Context, userID string) ([]LineItem, error)
	DeleteCart(ctx context.Context, userID string) error
}
