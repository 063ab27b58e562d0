// Package ledger defines the read-only view of the external settlement
// system that payment verification consumes.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the ledger has no confirmed transaction
	// for the given id. This covers unknown ids, transactions that have
	// not reached the required commitment yet, and transactions that
	// failed on-chain.
	ErrNotFound = errors.New("ledger: transaction not found or not confirmed")

	// ErrUnavailable is returned when the ledger itself cannot be reached.
	// Callers may retry later without resubmitting payment; it must never
	// be conflated with ErrNotFound.
	ErrUnavailable = errors.New("ledger: query failed")
)

// Transaction is a settled transfer as the ledger reports it. It is fetched,
// never stored.
type Transaction struct {
	Sender         string
	Receiver       string
	AmountLamports uint64
	Memo           string
	Confirmed      bool
}

// Query looks up settled transactions by id.
type Query interface {
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
}
