package cart

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultScheduleKey = "cart:schedule"

// RedisSchedule is a sorted set of user ids scored by due epoch seconds.
// Scores are absolute, so ZADD on an existing member re-arms instead of
// stacking a second entry.
type RedisSchedule struct {
	rdb redis.Cmdable
	key string
}

func NewRedisSchedule(rdb redis.Cmdable, key string) *RedisSchedule {
	if key == "" {
		key = DefaultScheduleKey
	}
	return &RedisSchedule{rdb: rdb, key: key}
}

// KEYS[1] index, ARGV[1] member, ARGV[2] due score the caller observed.
var settleScript = redis.NewScript(`
local s = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not s then
	return 0
end
if tonumber(s) > tonumber(ARGV[2]) then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
return 1
`)

func (s *RedisSchedule) Arm(ctx context.Context, userID string, due time.Time) error {
	err := s.rdb.ZAdd(ctx, s.key, redis.Z{Score: float64(due.Unix()), Member: userID}).Err()
	if err != nil {
		return unavailable("arm schedule", err)
	}
	return nil
}

func (s *RedisSchedule) Disarm(ctx context.Context, userID string) error {
	if err := s.rdb.ZRem(ctx, s.key, userID).Err(); err != nil {
		return unavailable("disarm schedule", err)
	}
	return nil
}

func (s *RedisSchedule) PopDue(ctx context.Context, now time.Time, limit int) ([]DueEntry, error) {
	zs, err := s.rdb.ZRangeByScoreWithScores(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, unavailable("pop due", err)
	}

	out := make([]DueEntry, 0, len(zs))
	for _, z := range zs {
		uid, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, DueEntry{UserID: uid, Due: time.Unix(int64(z.Score), 0)})
	}
	return out, nil
}

func (s *RedisSchedule) Settle(ctx context.Context, entry DueEntry) (bool, error) {
	n, err := settleScript.Run(ctx, s.rdb, []string{s.key}, entry.UserID, entry.Due.Unix()).Int64()
	if err != nil {
		return false, unavailable("settle schedule", err)
	}
	return n == 1, nil
}

func (s *RedisSchedule) DueAt(ctx context.Context, userID string) (time.Time, bool, error) {
	score, err := s.rdb.ZScore(ctx, s.key, userID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, unavailable("schedule due", err)
	}
	return time.Unix(int64(score), 0), true, nil
}
