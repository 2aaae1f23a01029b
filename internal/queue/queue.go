package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"promobot/internal/task"
)

var (
	ErrClosed = errors.New("queue closed")
)

// Config configures the task queue.
type Config struct {
	Driver string

	// redis driver
	Addr          string
	Password      string
	DB            int
	Key           string
	DeadLetterKey string

	// sqlite driver
	Path         string
	PollInterval time.Duration
	BusyTimeout  time.Duration
}

// Delivery is one dequeued task, owned exclusively by the caller until
// Ack. Ack(nil) settles the task; Ack(err) hands it to the driver's
// dead-letter path. Every delivery must be acked exactly once.
type Delivery struct {
	Task task.Task
	ack  func(error)
}

func (d *Delivery) Ack(err error) {
	if d == nil || d.ack == nil {
		return
	}
	d.ack(err)
	d.ack = nil
}

// Queue is an ordered at-least-once broker of pending outbound tasks.
type Queue interface {
	// Enqueue appends the batch's tasks so they will be dequeued in
	// their relative order, with nothing interleaved between them for
	// this recipient.
	Enqueue(ctx context.Context, b task.Batch) error

	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (*Delivery, error)

	Close() error
}

// Janitor is implemented by drivers that can recover claims abandoned
// by a crashed worker.
type Janitor interface {
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Open initializes the configured queue driver.
func Open(cfg Config, log zerolog.Logger) (Queue, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "redis":
		return openRedis(cfg, log)
	case "", "sqlite", "sqlite3":
		return openSQLiteQueue(cfg, log)
	case "memory":
		return newMemoryQueue(), nil
	default:
		return nil, errors.New("unknown queue driver: " + driver)
	}
}
