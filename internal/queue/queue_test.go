package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"promobot/internal/task"
	"promobot/pkg/logx"
)

func openTestQueues(t *testing.T) map[string]Queue {
	t.Helper()
	sq, err := Open(Config{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "outbox.db"),
		PollInterval: 10 * time.Millisecond,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite queue: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory queue: %v", err)
	}
	return map[string]Queue{"sqlite": sq, "memory": mem}
}

func drain(t *testing.T, q Queue, n int) []task.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := make([]task.Task, 0, n)
	for i := 0; i < n; i++ {
		d, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		d.Ack(nil)
		out = append(out, d.Task)
	}
	return out
}

func TestBatchOrderPreserved(t *testing.T) {
	for name, q := range openTestQueues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := task.NewBatch("100",
				task.Text("100", "confirmation"),
				task.Image("100", "https://cdn.example/offer.png", "offer"),
			)
			if err := q.Enqueue(ctx, b); err != nil {
				t.Fatalf("enqueue: %v", err)
			}

			got := drain(t, q, 2)
			if got[0].Kind != task.KindText || got[1].Kind != task.KindImage {
				t.Fatalf("order = %s,%s; want text,image", got[0].Kind, got[1].Kind)
			}
		})
	}
}

func TestPerRecipientOrderUnderConcurrentProducers(t *testing.T) {
	for name, q := range openTestQueues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const recipients = 8
			const perBatch = 3

			var wg sync.WaitGroup
			for r := 0; r < recipients; r++ {
				wg.Add(1)
				go func(r int) {
					defer wg.Done()
					to := fmt.Sprintf("rec-%d", r)
					tasks := make([]task.Task, 0, perBatch)
					for i := 0; i < perBatch; i++ {
						tasks = append(tasks, task.Text(to, fmt.Sprintf("msg-%d", i)))
					}
					if err := q.Enqueue(ctx, task.NewBatch(to, tasks...)); err != nil {
						t.Errorf("enqueue %s: %v", to, err)
					}
				}(r)
			}
			wg.Wait()

			got := drain(t, q, recipients*perBatch)
			seen := map[string]int{}
			for _, tk := range got {
				want := fmt.Sprintf("msg-%d", seen[tk.To])
				if tk.Text != want {
					t.Fatalf("recipient %s got %q before %q", tk.To, tk.Text, want)
				}
				seen[tk.To]++
			}
			for to, n := range seen {
				if n != perBatch {
					t.Fatalf("recipient %s delivered %d tasks, want %d", to, n, perBatch)
				}
			}
		})
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	for name, q := range openTestQueues(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			type result struct {
				d   *Delivery
				err error
			}
			ch := make(chan result, 1)
			go func() {
				d, err := q.Dequeue(ctx)
				ch <- result{d, err}
			}()

			select {
			case <-ch:
				t.Fatal("dequeue returned with an empty queue")
			case <-time.After(50 * time.Millisecond):
			}

			if err := q.Enqueue(ctx, task.NewBatch("200", task.Text("200", "hi"))); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			select {
			case res := <-ch:
				if res.err != nil {
					t.Fatalf("dequeue: %v", res.err)
				}
				res.d.Ack(nil)
				if res.d.Task.Text != "hi" {
					t.Fatalf("task = %+v", res.d.Task)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("dequeue did not wake after enqueue")
			}
		})
	}
}

func TestDequeueHonorsContextCancel(t *testing.T) {
	for name, q := range openTestQueues(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				time.Sleep(30 * time.Millisecond)
				cancel()
			}()
			_, err := q.Dequeue(ctx)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("err = %v, want context.Canceled", err)
			}
		})
	}
}

func TestEnqueueRejectsInvalidBatch(t *testing.T) {
	for name, q := range openTestQueues(t) {
		t.Run(name, func(t *testing.T) {
			err := q.Enqueue(context.Background(), task.Batch{To: "300"})
			if !errors.Is(err, task.ErrInvalidTask) {
				t.Fatalf("err = %v, want ErrInvalidTask", err)
			}
			err = q.Enqueue(context.Background(), task.Batch{
				ID: "x", To: "300",
				Tasks: []task.Task{task.Text("999", "wrong recipient")},
			})
			if !errors.Is(err, task.ErrInvalidTask) {
				t.Fatalf("mismatched recipient accepted: %v", err)
			}
		})
	}
}

func TestSQLiteOutboxSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")
	ctx := context.Background()

	q, err := Open(Config{Driver: "sqlite", Path: path, PollInterval: 10 * time.Millisecond}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := q.Enqueue(ctx, task.NewBatch("400", task.Text("400", "persisted"))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	q, err = Open(Config{Driver: "sqlite", Path: path, PollInterval: 10 * time.Millisecond}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer q.Close()

	got := drain(t, q, 1)
	if got[0].Text != "persisted" {
		t.Fatalf("task after reopen = %+v", got[0])
	}
}

func TestSQLiteDeadLetterAndRequeueStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")
	ctx := context.Background()

	q, err := Open(Config{Driver: "sqlite", Path: path, PollInterval: 10 * time.Millisecond}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer q.Close()

	if err := q.Enqueue(ctx, task.NewBatch("500", task.Text("500", "doomed"), task.Text("500", "abandoned"))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// First task acked as failed: it must not come back.
	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	d.Ack(errors.New("gateway said no"))

	// Second task claimed but never acked, as after a worker crash.
	d, err = q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if d.Task.Text != "abandoned" {
		t.Fatalf("second task = %+v", d.Task)
	}

	j := q.(Janitor)
	n, err := j.RequeueStale(ctx, 0)
	if err != nil {
		t.Fatalf("requeue stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d rows, want 1", n)
	}

	got := drain(t, q, 1)
	if got[0].Text != "abandoned" {
		t.Fatalf("requeued task = %+v", got[0])
	}
}
