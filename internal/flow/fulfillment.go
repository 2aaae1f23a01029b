package flow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"promobot/internal/artifact"
	"promobot/internal/config"
	"promobot/internal/storage"
	"promobot/internal/task"
)

// Fulfillment renders the offer for a recipient as an ordered task
// list. The two implementations are the flow variants: bundle grants
// the artifact as soon as the name is known, catalog shows a product
// list first and grants on selection.
type Fulfillment interface {
	// AdmitOnName reports whether admission happens at the name step.
	// When false, Prompt is sent instead and admission waits for a
	// recognized selection.
	AdmitOnName() bool

	// Prompt is the message sent after the name step when admission is
	// deferred.
	Prompt(rec storage.Recipient) ([]task.Task, error)

	// ValidSelection reports whether id names a known option.
	ValidSelection(id string) bool

	// Offer renders the granted artifact. selection is empty for the
	// bundle variant.
	Offer(ctx context.Context, rec storage.Recipient, selection string) ([]task.Task, error)
}

func fulfillmentFromConfig(fc config.FlowConfig, msgs Messages, renderer artifact.Renderer) (Fulfillment, error) {
	switch strings.ToLower(strings.TrimSpace(fc.Variant)) {
	case "", "bundle":
		if strings.TrimSpace(fc.Offer.ImageURL) == "" {
			return nil, fmt.Errorf("flow.offer.image_url is required for the bundle variant")
		}
		return &bundleFulfillment{offer: fc.Offer, msgs: msgs, renderer: renderer}, nil
	case "catalog":
		if len(fc.Products) == 0 {
			return nil, fmt.Errorf("flow.products is required for the catalog variant")
		}
		return &catalogFulfillment{products: fc.Products, msgs: msgs, renderer: renderer}, nil
	default:
		return nil, fmt.Errorf("unknown flow.variant: %q", fc.Variant)
	}
}

type bundleFulfillment struct {
	offer    config.OfferConfig
	msgs     Messages
	renderer artifact.Renderer
}

func (f *bundleFulfillment) AdmitOnName() bool { return true }

func (f *bundleFulfillment) Prompt(storage.Recipient) ([]task.Task, error) {
	return nil, nil
}

func (f *bundleFulfillment) ValidSelection(string) bool { return false }

func (f *bundleFulfillment) Offer(ctx context.Context, rec storage.Recipient, _ string) ([]task.Task, error) {
	url, err := f.renderer.Render(ctx, f.offer.ImageURL, rec.Identifier, rec.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("render offer: %w", err)
	}
	return []task.Task{
		task.Text(rec.Identifier, f.msgs.confirmationFor(rec.DisplayName)),
		task.Image(rec.Identifier, url, f.offer.Caption),
	}, nil
}

type catalogFulfillment struct {
	products map[string]config.Product
	msgs     Messages
	renderer artifact.Renderer
}

func (f *catalogFulfillment) AdmitOnName() bool { return false }

func (f *catalogFulfillment) Prompt(rec storage.Recipient) ([]task.Task, error) {
	ids := make([]string, 0, len(f.products))
	for id := range f.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]task.Option, 0, len(ids))
	for _, id := range ids {
		p := f.products[id]
		desc := ""
		if p.Discount > 0 && p.Original > p.Discount {
			desc = fmt.Sprintf("Rs %d (was Rs %d)", p.Discount, p.Original)
		}
		rows = append(rows, task.Option{ID: id, Title: p.Name, Description: desc})
	}
	return []task.Task{task.List(rec.Identifier, task.OptionList{
		Body:   f.msgs.ListBody,
		Button: f.msgs.ListButton,
		Rows:   rows,
	})}, nil
}

func (f *catalogFulfillment) ValidSelection(id string) bool {
	_, ok := f.products[id]
	return ok
}

func (f *catalogFulfillment) Offer(ctx context.Context, rec storage.Recipient, selection string) ([]task.Task, error) {
	p, ok := f.products[selection]
	if !ok {
		return nil, fmt.Errorf("unknown product %q", selection)
	}
	url, err := f.renderer.Render(ctx, p.CodeImage, rec.Identifier, rec.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("render offer: %w", err)
	}
	return []task.Task{
		task.Text(rec.Identifier, f.msgs.confirmationFor(rec.DisplayName)),
		task.Image(rec.Identifier, url, p.Name),
	}, nil
}
