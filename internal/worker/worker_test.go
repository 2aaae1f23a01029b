package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"promobot/internal/queue"
	"promobot/internal/task"
	"promobot/pkg/logx"
)

// fakeSender records sends and can be scripted to fail the first N
// calls for a given body.
type fakeSender struct {
	mu       sync.Mutex
	sent     []task.Task
	failures map[string]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{failures: map[string]int{}}
}

func (s *fakeSender) failFirst(body string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[body] = n
}

func (s *fakeSender) Send(_ context.Context, t task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.failures[t.Text]; n > 0 {
		s.failures[t.Text] = n - 1
		return errors.New("gateway unavailable")
	}
	s.sent = append(s.sent, t)
	return nil
}

func (s *fakeSender) bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, t := range s.sent {
		out = append(out, t.Text)
	}
	return out
}

func newTestWorker(t *testing.T, sender Sender, cfg Config) (*Worker, queue.Queue) {
	t.Helper()
	q, err := queue.Open(queue.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000
	}
	return New(q, sender, cfg, logx.Nop()), q
}

func runUntilSent(t *testing.T, w *Worker, sender *fakeSender, want int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		if len(sender.bodies()) >= want {
			break
		}
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatalf("timed out waiting for %d sends, got %v", want, sender.bodies())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestWorkerDeliversInOrder(t *testing.T) {
	sender := newFakeSender()
	w, q := newTestWorker(t, sender, Config{})

	b := task.NewBatch("100",
		task.Text("100", "first"),
		task.Text("100", "second"),
		task.Text("100", "third"),
	)
	if err := q.Enqueue(context.Background(), b); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	runUntilSent(t, w, sender, 3)

	got := sender.bodies()
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("send order = %v, want %v", got, want)
		}
	}
}

func TestBundleAbortsOnFirstFailure(t *testing.T) {
	sender := newFakeSender()
	sender.failFirst("middle", 1)
	w, q := newTestWorker(t, sender, Config{})

	bundle := task.Bundle("200",
		task.Text("200", "head"),
		task.Text("200", "middle"),
		task.Text("200", "tail"),
	)
	b := task.NewBatch("200", bundle, task.Text("200", "after"))
	if err := q.Enqueue(context.Background(), b); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// "tail" must never be sent: the bundle aborted at "middle". The
	// following batch task still runs because retries are disabled and
	// the failed bundle is acked to the dead-letter path.
	runUntilSent(t, w, sender, 2)

	got := sender.bodies()
	if got[0] != "head" || got[1] != "after" {
		t.Fatalf("sends = %v, want [head after]", got)
	}
}

func TestRetryDisabledIsSingleAttempt(t *testing.T) {
	sender := newFakeSender()
	sender.failFirst("flaky", 1)
	w, q := newTestWorker(t, sender, Config{})

	b := task.NewBatch("300", task.Text("300", "flaky"), task.Text("300", "stable"))
	if err := q.Enqueue(context.Background(), b); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	runUntilSent(t, w, sender, 1)

	got := sender.bodies()
	if len(got) != 1 || got[0] != "stable" {
		t.Fatalf("sends = %v, want [stable]", got)
	}
}

func TestRetryEnabledRecoversTransientFailure(t *testing.T) {
	sender := newFakeSender()
	sender.failFirst("flaky", 2)
	w, q := newTestWorker(t, sender, Config{
		Retry: RetryPolicy{Enabled: true, Max: 3, Base: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})

	b := task.NewBatch("400", task.Text("400", "flaky"))
	if err := q.Enqueue(context.Background(), b); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	runUntilSent(t, w, sender, 1)

	got := sender.bodies()
	if len(got) != 1 || got[0] != "flaky" {
		t.Fatalf("sends = %v, want [flaky]", got)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	sender := newFakeSender()
	sender.failFirst("doomed", 10)
	w, q := newTestWorker(t, sender, Config{
		Retry: RetryPolicy{Enabled: true, Max: 2, Base: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})

	b := task.NewBatch("500", task.Text("500", "doomed"), task.Text("500", "next"))
	if err := q.Enqueue(context.Background(), b); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	runUntilSent(t, w, sender, 1)

	got := sender.bodies()
	if len(got) != 1 || got[0] != "next" {
		t.Fatalf("sends = %v, want [next]", got)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	w := New(nil, nil, Config{
		Retry: RetryPolicy{Enabled: true, Base: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond},
	}, logx.Nop())

	if d := w.backoff(0); d < 80*time.Millisecond || d > 120*time.Millisecond {
		t.Fatalf("backoff(0) = %v, want ~100ms", d)
	}
	if d := w.backoff(1); d < 160*time.Millisecond || d > 240*time.Millisecond {
		t.Fatalf("backoff(1) = %v, want ~200ms", d)
	}
	// 100ms << 3 = 800ms, capped at 300ms before jitter.
	if d := w.backoff(3); d > 360*time.Millisecond {
		t.Fatalf("backoff(3) = %v, want capped near 300ms", d)
	}
}

func TestRetryDefaults(t *testing.T) {
	p := RetryPolicy{Enabled: true}.withDefaults()
	if p.Max != 3 || p.Base != 500*time.Millisecond || p.MaxDelay != 15*time.Second || p.Jitter != 0.2 {
		t.Fatalf("defaults = %+v", p)
	}
	if p := (RetryPolicy{Enabled: false, Max: 9}).withDefaults(); p.Max != 0 {
		t.Fatalf("disabled policy kept settings: %+v", p)
	}
}

func TestStartJanitorNilForPlainQueues(t *testing.T) {
	w, _ := newTestWorker(t, newFakeSender(), Config{})
	stop, err := w.StartJanitor(context.Background(), "@every 1m", time.Minute)
	if err != nil {
		t.Fatalf("start janitor: %v", err)
	}
	if stop != nil {
		t.Fatal("memory queue has no janitor, stop should be nil")
	}
}

func TestStartJanitorRejectsBadSpec(t *testing.T) {
	q, err := queue.Open(queue.Config{
		Driver: "sqlite",
		Path:   t.TempDir() + "/outbox.db",
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	defer q.Close()

	w := New(q, newFakeSender(), Config{}, logx.Nop())
	if _, err := w.StartJanitor(context.Background(), "not a cron spec", time.Minute); err == nil {
		t.Fatal("expected error for invalid schedule")
	}

	stop, err := w.StartJanitor(context.Background(), "", time.Minute)
	if err != nil {
		t.Fatalf("start janitor with default spec: %v", err)
	}
	if stop == nil {
		t.Fatal("sqlite queue should get a janitor")
	}
	stop()
}

func TestBackoffJitterVaries(t *testing.T) {
	w := New(nil, nil, Config{Retry: RetryPolicy{Enabled: true, Base: 100 * time.Millisecond, MaxDelay: time.Second}}, logx.Nop())
	first := w.backoff(0)
	for i := 0; i < 50; i++ {
		if w.backoff(0) != first {
			return
		}
	}
	t.Fatal("jitter produced identical delays 50 times")
}
