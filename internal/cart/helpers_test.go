package cart

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type backend struct {
	name string
	open func(t *testing.T) (LineStore, ScheduleIndex)
}

func backends() []backend {
	return []backend{
		{
			name: "memory",
			open: func(t *testing.T) (LineStore, ScheduleIndex) {
				return NewMemStore(), NewMemSchedule()
			},
		},
		{
			name: "redis",
			open: func(t *testing.T) (LineStore, ScheduleIndex) {
				rdb := newRedisClient(t)
				return NewRedisStore(rdb), NewRedisSchedule(rdb, "")
			},
		},
	}
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
