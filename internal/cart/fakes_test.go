package cart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

var errBoom = errors.New("boom")

type fakeCombos map[int64][]Constituent

func (f fakeCombos) ConstituentsOf(ctx context.Context, comboID int64) ([]Constituent, error) {
	return f[comboID], nil
}

type errCombos struct{ err error }

func (f errCombos) ConstituentsOf(ctx context.Context, comboID int64) ([]Constituent, error) {
	return nil, f.err
}

type fakeHistory struct {
	mu      sync.Mutex
	carts   map[string][]LineItem
	deleted []string
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{carts: make(map[string][]LineItem)}
}

func (h *fakeHistory) LoadCart(ctx context.Context, userID string) ([]LineItem, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]LineItem(nil), h.carts[userID]...), nil
}

func (h *fakeHistory) DeleteCart(ctx context.Context, userID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.carts, userID)
	h.deleted = append(h.deleted, userID)
	return nil
}

// failingLines fails DeleteCart for one user.
type failingLines struct {
	LineStore
	user string
}

func (s failingLines) DeleteCart(ctx context.Context, userID string) error {
	if userID == s.user {
		return errBoom
	}
	return s.LineStore.DeleteCart(ctx, userID)
}

// blockingLines never answers IncrLine before the caller's deadline.
type blockingLines struct {
	LineStore
}

func (s blockingLines) IncrLine(ctx context.Context, userID string, template LineItem) (int64, bool, error) {
	<-ctx.Done()
	return 0, false, ctx.Err()
}

type failingArm struct {
	ScheduleIndex
}

func (s failingArm) Arm(ctx context.Context, userID string, due time.Time) error {
	return errBoom
}

// hookLines runs onDelete after a successful DeleteCart.
type hookLines struct {
	LineStore
	onDelete func(userID string)
}

func (s hookLines) DeleteCart(ctx context.Context, userID string) error {
	if err := s.LineStore.DeleteCart(ctx, userID); err != nil {
		return err
	}
	s.onDelete(userID)
	return nil
}

func newTestService(t *testing.T, lines LineStore, sched ScheduleIndex, clock *fakeClock) *Service {
	t.Helper()

	return &Service{
		Lines:    lines,
		Schedule: sched,
		Combos: fakeCombos{
			1: {{DishID: 101, Available: true}, {DishID: 102, Available: true}},
			2: {{DishID: 101, Available: true}, {DishID: 103, Available: false}},
		},
		Log:           zap.NewNop(),
		AbandonWindow: 5 * time.Minute,
		StoreTimeout:  time.Second,
		Now:           clock.Now,
	}
}
