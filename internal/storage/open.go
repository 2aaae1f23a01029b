package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// Store is the persistence API used by the dispatcher and the HTTP
// surface. Implementations must make TryAdmit an atomic check-and-act:
// two concurrent calls for the same recipient must not both return
// Admitted, and the counter must never pass the ceiling.
type Store interface {
	// GetRecipient returns ErrNotFound for unseen identifiers.
	GetRecipient(ctx context.Context, id string) (Recipient, error)

	// EnsureRecipient creates the record on first contact (state START)
	// and returns it either way.
	EnsureRecipient(ctx context.Context, id string) (Recipient, error)

	// UpdateRecipient persists state and display name. An empty name
	// never overwrites a previously stored one.
	UpdateRecipient(ctx context.Context, id string, state State, displayName string) error

	// TryAdmit performs the delivered-set check, the ceiling check, the
	// delivered-set insert and the counter increment as one unit.
	TryAdmit(ctx context.Context, id string) (AdmitResult, error)

	Quota(ctx context.Context) (Quota, error)
	SetMaxAllowed(ctx context.Context, v int64) error

	// Delivered reports delivered-set membership without side effects.
	Delivered(ctx context.Context, id string) (bool, error)

	// Redeem marks a completed recipient's coupon as used.
	Redeem(ctx context.Context, id string) (RedeemResult, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log zerolog.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return newMemoryStore(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
