package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("recipient not found")
	ErrNegativeMax  = errors.New("max_allowed must be >= 0")
	ErrUnknownState = errors.New("unknown conversation state")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process map-backed store (tests, throwaway runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// State is the conversation position of one recipient.
type State string

const (
	StateStart             State = "START"
	StateAskedName         State = "ASKED_NAME"
	StateAwaitingSelection State = "AWAITING_SELECTION"
	StateCompleted         State = "COMPLETED"
)

func (s State) Valid() bool {
	switch s {
	case StateStart, StateAskedName, StateAwaitingSelection, StateCompleted:
		return true
	}
	return false
}

// Recipient is one conversation record. Identifier is the stable
// external id (phone number); records are never deleted.
type Recipient struct {
	Identifier  string
	DisplayName string
	State       State
	CreatedAt   time.Time
	UpdatedAt   time.Time
	RedeemedAt  *time.Time
}

// AdmitResult is the outcome of one admission decision.
type AdmitResult int

const (
	Admitted AdmitResult = iota
	AlreadyDelivered
	QuotaExhausted
)

func (r AdmitResult) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case AlreadyDelivered:
		return "already_delivered"
	case QuotaExhausted:
		return "quota_exhausted"
	}
	return "unknown"
}

// RedeemResult is the outcome of a coupon redemption attempt.
type RedeemResult int

const (
	Redeemed RedeemResult = iota
	RedeemNotFound
	RedeemNotEligible
	RedeemAlreadyUsed
)

func (r RedeemResult) String() string {
	switch r {
	case Redeemed:
		return "redeemed"
	case RedeemNotFound:
		return "not_found"
	case RedeemNotEligible:
		return "not_eligible"
	case RedeemAlreadyUsed:
		return "already_redeemed"
	}
	return "unknown"
}

// Quota is a snapshot of the singleton ledger row.
type Quota struct {
	MaxAllowed int64
	SentCount  int64
}
