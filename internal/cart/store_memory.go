package cart

import (
	"context"
	"sort"
	"sync"
)

type MemStore struct {
	mu    sync.RWMutex
	carts map[string]map[string]LineItem
}

func NewMemStore() *MemStore {
	return &MemStore{carts: make(map[string]map[string]LineItem)}
}

func (s *MemStore) Ping(ctx context.Context) error { return nil }

func (s *MemStore) UpsertLine(ctx context.Context, userID string, line LineItem) error {
	if line.Quantity <= 0 {
		return s.DeleteLine(ctx, userID, line.Item)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[userID]
	if !ok {
		c = make(map[string]LineItem)
		s.carts[userID] = c
	}
	c[line.Item.Key()] = line
	return nil
}

func (s *MemStore) RestoreLine(ctx context.Context, userID string, line LineItem) (bool, error) {
	if line.Quantity <= 0 {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[userID]
	if !ok {
		c = make(map[string]LineItem)
		s.carts[userID] = c
	}
	if _, ok := c[line.Item.Key()]; ok {
		return false, nil
	}
	c[line.Item.Key()] = line
	return true, nil
}

func (s *MemStore) GetLine(ctx context.Context, userID string, item ItemRef) (LineItem, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.carts[userID][item.Key()]
	return l, ok, nil
}

func (s *MemStore) DeleteLine(ctx context.Context, userID string, item ItemRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(userID, item.Key())
	return nil
}

func (s *MemStore) ListLines(ctx context.Context, userID string) ([]LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.carts[userID]
	out := make([]LineItem, 0, len(c))
	for _, l := range c {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return lineLess(out[i], out[j]) })
	return out, nil
}

func (s *MemStore) CartExists(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.carts[userID]
	return ok, nil
}

func (s *MemStore) DeleteCart(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, userID)
	return nil
}

func (s *MemStore) IncrLine(ctx context.Context, userID string, template LineItem) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[userID]
	first := !ok || len(c) == 0
	if !ok {
		c = make(map[string]LineItem)
		s.carts[userID] = c
	}

	key := template.Item.Key()
	l, ok := c[key]
	if !ok {
		l = template
		l.Quantity = 0
	}
	l.Quantity++
	c[key] = l
	return l.Quantity, first, nil
}

func (s *MemStore) DecrLine(ctx context.Context, userID string, item ItemRef) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := item.Key()
	l, ok := s.carts[userID][key]
	if !ok {
		return 0, ErrLineNotFound
	}

	l.Quantity--
	if l.Quantity <= 0 {
		s.deleteLocked(userID, key)
		return 0, nil
	}
	s.carts[userID][key] = l
	return l.Quantity, nil
}

// deleteLocked drops the line and collapses the container once it is empty,
// matching a Redis hash disappearing with its last field.
func (s *MemStore) deleteLocked(userID, key string) {
	c, ok := s.carts[userID]
	if !ok {
		return
	}
	delete(c, key)
	if len(c) == 0 {
		delete(s.carts, userID)
	}
}
