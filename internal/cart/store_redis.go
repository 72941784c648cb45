package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const cartKeyPrefix = "cart:"

// RedisStore keeps each cart in two hashes sharing field names:
// cart:{uid}:lines holds the JSON line metadata and cart:{uid}:qty the
// counters. The braces are a cluster hash tag so scripts may touch both.
// Redis drops a hash with its last field, so an emptied cart disappears.
type RedisStore struct {
	rdb redis.Cmdable
}

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func metaKey(userID string) string { return cartKeyPrefix + "{" + userID + "}:lines" }
func qtyKey(userID string) string  { return cartKeyPrefix + "{" + userID + "}:qty" }

// KEYS[1] meta hash, KEYS[2] qty hash, ARGV[1] field.
var decrScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 0 then
	return -1
end
local n = redis.call('HINCRBY', KEYS[2], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[2], ARGV[1])
	redis.call('HDEL', KEYS[1], ARGV[1])
	return 0
end
return n
`)

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *RedisStore) UpsertLine(ctx context.Context, userID string, line LineItem) error {
	if line.Quantity <= 0 {
		return s.DeleteLine(ctx, userID, line.Item)
	}

	meta, err := encodeMeta(line)
	if err != nil {
		return err
	}

	field := line.Item.Key()
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, metaKey(userID), field, meta)
		p.HSet(ctx, qtyKey(userID), field, line.Quantity)
		return nil
	})
	if err != nil {
		return unavailable("upsert line", err)
	}
	return nil
}

func (s *RedisStore) RestoreLine(ctx context.Context, userID string, line LineItem) (bool, error) {
	if line.Quantity <= 0 {
		return false, nil
	}

	meta, err := encodeMeta(line)
	if err != nil {
		return false, err
	}

	field := line.Item.Key()
	var set *redis.BoolCmd
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		set = p.HSetNX(ctx, qtyKey(userID), field, line.Quantity)
		p.HSetNX(ctx, metaKey(userID), field, meta)
		return nil
	})
	if err != nil {
		return false, unavailable("restore line", err)
	}
	return set.Val(), nil
}

func (s *RedisStore) GetLine(ctx context.Context, userID string, item ItemRef) (LineItem, bool, error) {
	field := item.Key()

	var metaCmd *redis.StringCmd
	var qtyCmd *redis.StringCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		metaCmd = p.HGet(ctx, metaKey(userID), field)
		qtyCmd = p.HGet(ctx, qtyKey(userID), field)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return LineItem{}, false, unavailable("get line", err)
	}

	qty, err := qtyCmd.Int64()
	if errors.Is(err, redis.Nil) {
		return LineItem{}, false, nil
	}
	if err != nil {
		return LineItem{}, false, fmt.Errorf("decode quantity of %s: %w", field, err)
	}

	line, err := decodeMeta(userID, field, metaCmd.Val())
	if err != nil {
		return LineItem{}, false, err
	}
	line.Quantity = qty
	return line, true, nil
}

func (s *RedisStore) DeleteLine(ctx context.Context, userID string, item ItemRef) error {
	field := item.Key()
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, qtyKey(userID), field)
		p.HDel(ctx, metaKey(userID), field)
		return nil
	})
	if err != nil {
		return unavailable("delete line", err)
	}
	return nil
}

func (s *RedisStore) ListLines(ctx context.Context, userID string) ([]LineItem, error) {
	var metaCmd, qtyCmd *redis.MapStringStringCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		metaCmd = p.HGetAll(ctx, metaKey(userID))
		qtyCmd = p.HGetAll(ctx, qtyKey(userID))
		return nil
	})
	if err != nil {
		return nil, unavailable("list lines", err)
	}

	metas := metaCmd.Val()
	out := make([]LineItem, 0, len(qtyCmd.Val()))
	for field, raw := range qtyCmd.Val() {
		qty, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode quantity of %s: %w", field, err)
		}
		if qty <= 0 {
			continue
		}

		line, err := decodeMeta(userID, field, metas[field])
		if err != nil {
			return nil, err
		}
		line.Quantity = qty
		out = append(out, line)
	}

	sort.Slice(out, func(i, j int) bool { return lineLess(out[i], out[j]) })
	return out, nil
}

func (s *RedisStore) CartExists(ctx context.Context, userID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, qtyKey(userID)).Result()
	if err != nil {
		return false, unavailable("cart exists", err)
	}
	return n > 0, nil
}

func (s *RedisStore) DeleteCart(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, metaKey(userID), qtyKey(userID)).Err(); err != nil {
		return unavailable("delete cart", err)
	}
	return nil
}

func (s *RedisStore) IncrLine(ctx context.Context, userID string, template LineItem) (int64, bool, error) {
	meta, err := encodeMeta(template)
	if err != nil {
		return 0, false, err
	}

	field := template.Item.Key()
	var existed, qty *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		existed = p.Exists(ctx, qtyKey(userID))
		qty = p.HIncrBy(ctx, qtyKey(userID), field, 1)
		p.HSetNX(ctx, metaKey(userID), field, meta)
		return nil
	})
	if err != nil {
		return 0, false, unavailable("incr line", err)
	}
	return qty.Val(), existed.Val() == 0, nil
}

func (s *RedisStore) DecrLine(ctx context.Context, userID string, item ItemRef) (int64, error) {
	n, err := decrScript.Run(ctx, s.rdb, []string{metaKey(userID), qtyKey(userID)}, item.Key()).Int64()
	if err != nil {
		return 0, unavailable("decr line", err)
	}
	if n < 0 {
		return 0, ErrLineNotFound
	}
	return n, nil
}

func encodeMeta(line LineItem) (string, error) {
	line.Quantity = 0
	raw, err := json.Marshal(line)
	if err != nil {
		return "", fmt.Errorf("encode line %s: %w", line.Item, err)
	}
	return string(raw), nil
}

// decodeMeta tolerates a missing metadata field by rebuilding the identity
// from the hash field name.
func decodeMeta(userID, field, raw string) (LineItem, error) {
	if raw == "" {
		ref, err := ParseKey(field)
		if err != nil {
			return LineItem{}, err
		}
		return LineItem{Item: ref, UserID: userID}, nil
	}

	var line LineItem
	if err := json.Unmarshal([]byte(raw), &line); err != nil {
		return LineItem{}, fmt.Errorf("decode line %s: %w", field, err)
	}
	return line, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
