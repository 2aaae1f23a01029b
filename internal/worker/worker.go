package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"promobot/internal/queue"
	"promobot/internal/task"
)

// Sender performs one gateway call for one (non-bundle) task.
type Sender interface {
	Send(ctx context.Context, t task.Task) error
}

type Config struct {
	RatePerSec  int
	SendTimeout time.Duration
	Retry       RetryPolicy
}

// RetryPolicy makes failed-send handling an explicit choice. Disabled
// means fire-and-forget: one attempt, failures logged and
// dead-lettered.
type RetryPolicy struct {
	Enabled  bool
	Max      int
	Base     time.Duration
	MaxDelay time.Duration
	Jitter   float64 // 0.2 = 20%
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if !p.Enabled {
		return RetryPolicy{}
	}
	if p.Max <= 0 {
		p.Max = 3
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Second
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.2
	}
	return p
}

type Worker struct {
	queue   queue.Queue
	sender  Sender
	log     zerolog.Logger
	limiter *rate.Limiter

	sendTimeout time.Duration
	retry       RetryPolicy

	rng *rand.Rand
}

func New(q queue.Queue, sender Sender, cfg Config, log zerolog.Logger) *Worker {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Worker{
		queue:       q,
		sender:      sender,
		log:         log,
		limiter:     rate.NewLimiter(rate.Limit(rps), rps),
		sendTimeout: timeout,
		retry:       cfg.Retry.withDefaults(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run blocks until ctx is done, processing one task at a time.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("delivery worker started")
	for {
		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				w.log.Info().Msg("delivery worker stopped")
				return nil
			}
			w.log.Error().Err(err).Msg("dequeue failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		w.process(ctx, d)
	}
}

func (w *Worker) process(ctx context.Context, d *queue.Delivery) {
	start := time.Now()
	err := w.execute(ctx, d.Task)
	d.Ack(err)

	log := w.log.With().Str("kind", string(d.Task.Kind)).Str("to", d.Task.To).Dur("took", time.Since(start)).Logger()
	if err != nil {
		log.Warn().Err(err).Msg("task failed")
		return
	}
	log.Info().Msg("task delivered")
}

// execute runs a task to completion. Bundle items run strictly in
// order; a failed item aborts the rest of the bundle so the recipient
// never sees a later message without the one before it.
func (w *Worker) execute(ctx context.Context, t task.Task) error {
	if t.Kind == task.KindBundle {
		for _, sub := range t.Items {
			if err := w.execute(ctx, sub); err != nil {
				return err
			}
		}
		return nil
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	return w.sendWithRetry(ctx, t)
}

func (w *Worker) sendWithRetry(ctx context.Context, t task.Task) error {
	attempts := 1
	if w.retry.Enabled {
		attempts += w.retry.Max
	}

	var last error
	for i := 0; i < attempts; i++ {
		actx, cancel := context.WithTimeout(ctx, w.sendTimeout)
		err := w.sender.Send(actx, t)
		cancel()
		if err == nil {
			return nil
		}
		last = err
		if ctx.Err() != nil {
			return err
		}
		if i == attempts-1 {
			break
		}

		delay := w.backoff(i)
		w.log.Debug().Str("to", t.To).Int("attempt", i+2).Dur("delay", delay).Err(err).Msg("send retry scheduled")
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return last
}

func (w *Worker) backoff(attempt int) time.Duration {
	d := w.retry.Base << uint(attempt)
	if d > w.retry.MaxDelay {
		d = w.retry.MaxDelay
	}
	if w.retry.Jitter > 0 {
		j := 1 + w.retry.Jitter*(2*w.rng.Float64()-1)
		d = time.Duration(float64(d) * j)
	}
	return d
}

// StartJanitor schedules periodic crash recovery on drivers that
// support it. Returns a stop function; a nil stop means the queue has
// no janitor work.
func (w *Worker) StartJanitor(ctx context.Context, spec string, staleAfter time.Duration) (func(), error) {
	j, ok := w.queue.(queue.Janitor)
	if !ok {
		return nil, nil
	}
	if spec == "" {
		spec = "@every 1m"
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		jctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		n, err := j.RequeueStale(jctx, staleAfter)
		if err != nil {
			w.log.Warn().Err(err).Msg("outbox sweep failed")
			return
		}
		if n > 0 {
			w.log.Info().Int("requeued", n).Msg("stale claims requeued")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
