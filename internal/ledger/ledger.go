// Package ledger meters hosted-backend usage per client identity. Every
// identity starts with a fixed credit allowance; completions debit it with
// a single atomic conditional decrement so concurrent requests cannot
// overdraw the balance.
package ledger

import (
	"context"
	"errors"
	"time"
)

const (
	// InitialCredits is the allowance granted on first sight of an identity.
	InitialCredits = 200

	// CompletionCost is debited for each successful chat completion.
	CompletionCost = 2
)

var (
	// ErrInsufficientCredits is returned by Debit when the balance is
	// already exhausted.
	ErrInsufficientCredits = errors.New("no credits remaining")

	// ErrUnavailable wraps storage failures. Callers must treat it as
	// "cannot authorize", never as permission to proceed.
	ErrUnavailable = errors.New("credit ledger unavailable")
)

// Entry is the per-identity balance row.
type Entry struct {
	ClientIdentity      string    `json:"client_identity"`
	OperationsRemaining int       `json:"operations_remaining"`
	LastUpdated         time.Time `json:"last_updated"`
}

// OperationRecord is an append-only audit row written alongside each debit.
// It is write-only: nothing in the serving path reads it back.
type OperationRecord struct {
	ID             string    `json:"id"`
	ClientIdentity string    `json:"client_identity"`
	CreditsUsed    int       `json:"credits_used"`
	Timestamp      time.Time `json:"timestamp"`
}

// Store is the persistence contract for the credit ledger.
type Store interface {
	// Peek returns the remaining operations for an identity, creating the
	// entry with InitialCredits on first sight. Concurrent first access
	// creates exactly one entry.
	Peek(ctx context.Context, clientIdentity string) (int, error)

	// Debit atomically decrements the balance by cost if and only if the
	// balance is still positive, clamping at zero, and writes the paired
	// OperationRecord. It returns the new balance, or
	// ErrInsufficientCredits when the balance was already zero.
	Debit(ctx context.Context, clientIdentity string, cost int) (int, error)
}
