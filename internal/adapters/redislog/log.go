// Package redislog backs the room edit history with a redis list per
// room: append is RPUSH, catch-up is LRANGE 0 -1. Redis keeps list
// order, which is all the ordered-log contract needs.
package redislog

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/dkeye/CodeRoom/internal/domain"
)

type Log struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Log {
	return &Log{rdb: rdb}
}

func key(room domain.RoomName) string {
	return string(room) + "_delta"
}

// Append pushes each delta to the tail of the room's list. One pipeline
// round trip per batch; a batch is appended in its own internal order.
func (l *Log) Append(ctx context.Context, room domain.RoomName, deltas []domain.Delta) error {
	pipe := l.rdb.Pipeline()
	for _, d := range deltas {
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshal delta: %w", err)
		}
		pipe.RPush(ctx, key(room), b)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append deltas for room %s: %w", room, err)
	}
	return nil
}

// Range reads the whole accumulated history in append order. A missing
// key is an empty history, not an error.
func (l *Log) Range(ctx context.Context, room domain.RoomName) ([]domain.Delta, error) {
	vals, err := l.rdb.LRange(ctx, key(room), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("range deltas for room %s: %w", room, err)
	}
	deltas := make([]domain.Delta, 0, len(vals))
	for _, v := range vals {
		var d domain.Delta
		if err := json.Unmarshal([]byte(v), &d); err != nil {
			return nil, fmt.Errorf("decode stored delta: %w", err)
		}
		deltas = append(deltas, d)
	}
	return deltas, nil
}
