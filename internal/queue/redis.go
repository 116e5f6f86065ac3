package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

// Open parses a redis:// URL and verifies the connection.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Redis is a FIFO list queue: RPUSH to enqueue, BLPOP to dequeue. The DLQ is
// a second list that is only ever appended to.
type Redis struct {
	rdb    redis.UniversalClient
	key    string
	dlqKey string
}

func NewRedis(rdb redis.UniversalClient, key, dlqKey string) *Redis {
	return &Redis{rdb: rdb, key: key, dlqKey: dlqKey}
}

func (q *Redis) Enqueue(ctx context.Context, raw []byte) error {
	if err := q.rdb.RPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", q.key, err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", q.key, err)
	}
	// [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("dequeue %s: unexpected reply of %d elements", q.key, len(res))
	}
	return []byte(res[1]), nil
}

func (q *Redis) PushDLQ(ctx context.Context, e model.DLQEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode dlq entry: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.dlqKey, raw).Err(); err != nil {
		return fmt.Errorf("push dlq %s: %w", q.dlqKey, err)
	}
	return nil
}

func (q *Redis) DLQLength(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.dlqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("dlq length %s: %w", q.dlqKey, err)
	}
	return n, nil
}

// ListDLQ returns the oldest limit entries without removing them.
func (q *Redis) ListDLQ(ctx context.Context, limit int64) ([]model.DLQEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := q.rdb.LRange(ctx, q.dlqKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dlq %s: %w", q.dlqKey, err)
	}
	return decodeEntries(rows), nil
}

func (q *Redis) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func decodeEntries(rows []string) []model.DLQEntry {
	out := make([]model.DLQEntry, 0, len(rows))
	for _, row := range rows {
		var e model.DLQEntry
		if err := json.Unmarshal([]byte(row), &e); err != nil {
			e = NewDLQEntry([]byte(row), fmt.Errorf("undecodable dlq entry: %w", err), "", "", time.Time{})
		}
		out = append(out, e)
	}
	return out
}
