package history

import (
	"context"
	"sync"

	"github.com/FaustProMaxPX/Takeaway-Mall/internal/cart"
)

type MemStore struct {
	mu    sync.RWMutex
	carts map[string][]cart.LineItem
}

func NewMemStore() *MemStore {
	return &MemStore{carts: make(map[string][]cart.LineItem)}
}

// Put replaces the stored cart of userID.
func (s *MemStore) Put(userID string, lines []cart.LineItem) {
	cp := append([]cart.LineItem(nil), lines...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[userID] = cp
}

func (s *MemStore) LoadCart(ctx context.Context, userID string) ([]cart.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]cart.LineItem{}, s.carts[userID]...), nil
}

func (s *MemStore) DeleteCart(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
	return nil
}
