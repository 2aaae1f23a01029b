package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"promobot/internal/task"
)

const (
	defaultKey           = "whatsapp_tasks"
	defaultDeadLetterKey = "whatsapp_tasks:dead"
)

// redisQueue is a list-backed queue. A batch is RPUSHed in one variadic
// command, so its tasks land contiguously and a single BLPOP consumer
// sees them in order. The pop is the handoff: once a task is popped it
// only survives a worker crash via the dead-letter list.
type redisQueue struct {
	rdb     *redis.Client
	key     string
	deadKey string
	log     zerolog.Logger
}

func openRedis(cfg Config, log zerolog.Logger) (Queue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = defaultKey
	}
	deadKey := strings.TrimSpace(cfg.DeadLetterKey)
	if deadKey == "" {
		deadKey = defaultDeadLetterKey
	}
	return &redisQueue{rdb: rdb, key: key, deadKey: deadKey, log: log}, nil
}

func (q *redisQueue) Enqueue(ctx context.Context, b task.Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	vals := make([]any, 0, len(b.Tasks))
	for _, t := range b.Tasks {
		raw, err := task.Encode(t)
		if err != nil {
			return err
		}
		vals = append(vals, raw)
	}
	return q.rdb.RPush(ctx, q.key, vals...).Err()
}

func (q *redisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		// Bounded block so ctx cancellation is honored promptly even on
		// server versions where BLPOP ignores the client context.
		res, err := q.rdb.BLPop(ctx, 2*time.Second, q.key).Result()
		if errors.Is(err, redis.Nil) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				continue
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		// res is [key, value]
		raw := []byte(res[1])
		t, err := task.Decode(raw)
		if err != nil {
			q.log.Warn().Err(err).Msg("invalid task skipped")
			continue
		}
		return &Delivery{Task: t, ack: func(failure error) {
			if failure == nil {
				return
			}
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := q.rdb.RPush(dctx, q.deadKey, raw).Err(); err != nil {
				q.log.Error().Err(err).Msg("dead-letter push failed, task lost")
			}
		}}, nil
	}
}

func (q *redisQueue) Close() error { return q.rdb.Close() }
