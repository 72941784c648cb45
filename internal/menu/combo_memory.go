package menu

import (
	"context"
	"sync"

	"github.com/FaustProMaxPX/Takeaway-Mall/internal/cart"
)

// MemComboSource serves combo composition from memory. Unknown combos have
// no constituents.
type MemComboSource struct {
	mu     sync.RWMutex
	combos map[int64][]cart.Constituent
}

func NewMemComboSource() *MemComboSource {
	return &MemComboSource{combos: make(map[int64][]cart.Constituent)}
}

// NewDemoComboSource seeds two combos for local runs: 1 is orderable, 2
// contains a withdrawn dish.
func NewDemoComboSource() *MemComboSource {
	s := NewMemComboSource()
	s.Set(1, []cart.Constituent{{DishID: 101, Available: true}, {DishID: 102, Available: true}})
	s.Set(2, []cart.Constituent{{DishID: 101, Available: true}, {DishID: 103, Available: false}})
	return s
}

func (s *MemComboSource) Set(comboID int64, parts []cart.Constituent) {
	cp := append([]cart.Constituent(nil), parts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.combos[comboID] = cp
}

func (s *MemComboSource) ConstituentsOf(ctx context.Context, comboID int64) ([]cart.Constituent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]cart.Constituent(nil), s.combos[comboID]...), nil
}
