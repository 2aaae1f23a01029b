package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"promobot/internal/artifact"
	"promobot/internal/config"
	"promobot/internal/queue"
	"promobot/internal/storage"
	"promobot/internal/task"
)

const defaultTrigger = "khalifa melur"

// Dispatcher applies the conversation state machine to inbound events.
// It may run concurrently for different senders; the store's admission
// transaction is what keeps concurrent grants race-free.
type Dispatcher struct {
	store storage.Store
	queue queue.Queue
	log   zerolog.Logger

	mu      sync.RWMutex
	trigger string
	msgs    Messages
	fulfill Fulfillment
}

func NewDispatcher(store storage.Store, q queue.Queue, renderer artifact.Renderer, fc config.FlowConfig, log zerolog.Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		store: store,
		queue: q,
		log:   log,
	}
	if err := d.apply(fc, renderer); err != nil {
		return nil, err
	}
	return d, nil
}

// Apply swaps the flow parameters (trigger, replies, products) at
// runtime. In-flight events keep the snapshot they started with.
func (d *Dispatcher) Apply(fc config.FlowConfig, renderer artifact.Renderer) error {
	return d.apply(fc, renderer)
}

func (d *Dispatcher) apply(fc config.FlowConfig, renderer artifact.Renderer) error {
	msgs := messagesFromConfig(fc.Messages)
	fulfill, err := fulfillmentFromConfig(fc, msgs, renderer)
	if err != nil {
		return err
	}
	trigger := strings.ToLower(strings.TrimSpace(fc.Trigger))
	if trigger == "" {
		trigger = defaultTrigger
	}
	d.mu.Lock()
	d.trigger = trigger
	d.msgs = msgs
	d.fulfill = fulfill
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) snapshot() (string, Messages, Fulfillment) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.trigger, d.msgs, d.fulfill
}

// Process consumes one inbound event. Malformed or out-of-place events
// are logged no-ops; only store/queue failures return an error, which
// the transport surfaces so the provider's redelivery can retry the
// event.
func (d *Dispatcher) Process(ctx context.Context, ev Event) error {
	if !ev.valid() {
		d.log.Debug().Msg("event without sender ignored")
		return nil
	}

	rec, err := d.store.EnsureRecipient(ctx, ev.Sender)
	if err != nil {
		return fmt.Errorf("ensure recipient: %w", err)
	}

	log := d.log.With().Str("sender", ev.Sender).Str("state", string(rec.State)).Str("kind", string(ev.Kind)).Logger()

	switch rec.State {
	case storage.StateStart:
		return d.handleStart(ctx, ev, rec, log)
	case storage.StateAskedName:
		return d.handleAskedName(ctx, ev, rec, log)
	case storage.StateAwaitingSelection:
		return d.handleSelection(ctx, ev, rec, log)
	case storage.StateCompleted:
		return d.handleCompleted(ctx, ev, rec, log)
	default:
		log.Warn().Msg("recipient in unknown state; event discarded")
		return nil
	}
}

// handleStart gates the flow on the trigger phrase so unrelated
// inbound traffic is silently dropped.
func (d *Dispatcher) handleStart(ctx context.Context, ev Event, rec storage.Recipient, log zerolog.Logger) error {
	trigger, msgs, _ := d.snapshot()

	if ev.Kind != EventText {
		log.Debug().Msg("non-text event in START ignored")
		return nil
	}
	if !strings.Contains(strings.ToLower(ev.Text), trigger) {
		log.Debug().Msg("text without trigger phrase ignored")
		return nil
	}

	if err := d.store.UpdateRecipient(ctx, rec.Identifier, storage.StateAskedName, ""); err != nil {
		return fmt.Errorf("advance to ASKED_NAME: %w", err)
	}
	if err := d.enqueue(ctx, task.NewBatch(rec.Identifier, task.Text(rec.Identifier, msgs.AskName))); err != nil {
		return err
	}
	log.Info().Msg("flow started")
	return nil
}

func (d *Dispatcher) handleAskedName(ctx context.Context, ev Event, rec storage.Recipient, log zerolog.Logger) error {
	_, msgs, fulfill := d.snapshot()

	if ev.Kind != EventText {
		log.Debug().Msg("non-text event in ASKED_NAME ignored")
		return nil
	}
	name := strings.TrimSpace(ev.Text)
	if name == "" {
		log.Debug().Msg("empty name ignored")
		return nil
	}
	rec.DisplayName = name

	if !fulfill.AdmitOnName() {
		// Catalog variant: a prior grant still short-circuits here so a
		// duplicate run through the flow can't reach the product list.
		delivered, err := d.store.Delivered(ctx, rec.Identifier)
		if err != nil {
			return fmt.Errorf("delivered check: %w", err)
		}
		if delivered {
			return d.finishAlreadyDelivered(ctx, rec, msgs, log)
		}
		if err := d.store.UpdateRecipient(ctx, rec.Identifier, storage.StateAwaitingSelection, name); err != nil {
			return fmt.Errorf("advance to AWAITING_SELECTION: %w", err)
		}
		prompt, err := fulfill.Prompt(rec)
		if err != nil {
			return fmt.Errorf("build prompt: %w", err)
		}
		if err := d.enqueue(ctx, task.NewBatch(rec.Identifier, prompt...)); err != nil {
			return err
		}
		log.Info().Msg("product list sent")
		return nil
	}

	return d.admitAndFulfill(ctx, rec, "", msgs, fulfill, log)
}

func (d *Dispatcher) handleSelection(ctx context.Context, ev Event, rec storage.Recipient, log zerolog.Logger) error {
	_, msgs, fulfill := d.snapshot()

	if ev.Kind != EventInteractive {
		log.Debug().Msg("non-interactive event in AWAITING_SELECTION ignored")
		return nil
	}
	if !fulfill.ValidSelection(ev.SelectionID) {
		log.Info().Str("selection", ev.SelectionID).Msg("invalid selection")
		return d.enqueue(ctx, task.NewBatch(rec.Identifier, task.Text(rec.Identifier, msgs.InvalidSelection)))
	}

	return d.admitAndFulfill(ctx, rec, ev.SelectionID, msgs, fulfill, log)
}

func (d *Dispatcher) handleCompleted(ctx context.Context, ev Event, rec storage.Recipient, log zerolog.Logger) error {
	_, msgs, _ := d.snapshot()

	if ev.Kind != EventText {
		log.Debug().Msg("non-text event in COMPLETED ignored")
		return nil
	}
	log.Debug().Msg("message after completion")
	return d.enqueue(ctx, task.NewBatch(rec.Identifier, task.Text(rec.Identifier, msgs.AlreadyUsed)))
}

// admitAndFulfill is the single grant path for both variants. The
// store's TryAdmit settles the delivered-set and quota questions in
// one atomic decision; everything after it only reacts to the result.
func (d *Dispatcher) admitAndFulfill(ctx context.Context, rec storage.Recipient, selection string, msgs Messages, fulfill Fulfillment, log zerolog.Logger) error {
	result, err := d.store.TryAdmit(ctx, rec.Identifier)
	if err != nil {
		return fmt.Errorf("admission: %w", err)
	}

	switch result {
	case storage.AlreadyDelivered:
		return d.finishAlreadyDelivered(ctx, rec, msgs, log)

	case storage.QuotaExhausted:
		// State intentionally unchanged: quota is re-checked on the
		// next qualifying event once the ceiling is raised.
		if err := d.store.UpdateRecipient(ctx, rec.Identifier, rec.State, rec.DisplayName); err != nil {
			return fmt.Errorf("persist name: %w", err)
		}
		log.Info().Msg("quota exhausted")
		return d.enqueue(ctx, task.NewBatch(rec.Identifier, task.Text(rec.Identifier, msgs.QuotaExhausted)))

	case storage.Admitted:
		if err := d.store.UpdateRecipient(ctx, rec.Identifier, storage.StateCompleted, rec.DisplayName); err != nil {
			return fmt.Errorf("complete recipient: %w", err)
		}
		offer, err := fulfill.Offer(ctx, rec, selection)
		if err != nil {
			return err
		}
		if err := d.enqueue(ctx, task.NewBatch(rec.Identifier, offer...)); err != nil {
			return err
		}
		log.Info().Str("selection", selection).Msg("offer granted")
		return nil

	default:
		return fmt.Errorf("unexpected admission result %v", result)
	}
}

func (d *Dispatcher) finishAlreadyDelivered(ctx context.Context, rec storage.Recipient, msgs Messages, log zerolog.Logger) error {
	if err := d.store.UpdateRecipient(ctx, rec.Identifier, storage.StateCompleted, rec.DisplayName); err != nil {
		return fmt.Errorf("complete recipient: %w", err)
	}
	log.Info().Msg("already delivered")
	return d.enqueue(ctx, task.NewBatch(rec.Identifier, task.Text(rec.Identifier, msgs.AlreadyReceived)))
}

func (d *Dispatcher) enqueue(ctx context.Context, b task.Batch) error {
	if err := d.queue.Enqueue(ctx, b); err != nil {
		return fmt.Errorf("enqueue batch %s: %w", b.ID, err)
	}
	return nil
}
