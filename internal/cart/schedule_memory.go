package cart

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemSchedule keeps due times at second resolution, the same precision as
// the Redis index scores.
type MemSchedule struct {
	mu  sync.Mutex
	due map[string]int64
}

func NewMemSchedule() *MemSchedule {
	return &MemSchedule{due: make(map[string]int64)}
}

func (s *MemSchedule) Arm(ctx context.Context, userID string, due time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.due[userID] = due.Unix()
	return nil
}

func (s *MemSchedule) Disarm(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.due, userID)
	return nil
}

func (s *MemSchedule) PopDue(ctx context.Context, now time.Time, limit int) ([]DueEntry, error) {
	cutoff := now.Unix()

	s.mu.Lock()
	out := make([]DueEntry, 0)
	for uid, ts := range s.due {
		if ts <= cutoff {
			out = append(out, DueEntry{UserID: uid, Due: time.Unix(ts, 0)})
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Due.Equal(out[j].Due) {
			return out[i].Due.Before(out[j].Due)
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemSchedule) Settle(ctx context.Context, entry DueEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.due[entry.UserID]
	if !ok || ts > entry.Due.Unix() {
		return false, nil
	}
	delete(s.due, entry.UserID)
	return true, nil
}

func (s *MemSchedule) DueAt(ctx context.Context, userID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.due[userID]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.Unix(ts, 0), true, nil
}
