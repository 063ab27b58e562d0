// Package store defines the calls Tollgate uses to track outstanding payment
// challenges in a local or remote datastore.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tollgatehq/tollgate/lib/challenge"
)

var (
	// ErrNotFound is returned when a reference does not exist or its
	// challenge has expired. Callers must not be able to tell the two
	// apart.
	ErrNotFound = errors.New("store: challenge not found")

	// ErrAlreadyFulfilled is returned by MarkFulfilled when another caller
	// already won the Pending to Fulfilled transition.
	ErrAlreadyFulfilled = errors.New("store: challenge already fulfilled")

	// ErrTransactionReplayed is returned by MarkFulfilled when the
	// transaction id was already spent on a different reference.
	ErrTransactionReplayed = errors.New("store: transaction already spent")

	// ErrCapacity is returned by Create when the backend enforces a limit
	// on pending challenges and it has been reached.
	ErrCapacity = errors.New("store: too many pending challenges")

	// ErrBadConfig is returned when a store adaptor's configuration is
	// invalid.
	ErrBadConfig = errors.New("store: configuration is invalid")
)

// Interface is implemented by every challenge store backend.
//
// MarkFulfilled is the single linearizable point of the whole protocol:
// concurrent verifiers racing on the same reference must see exactly one
// winner. Backends guarantee this with a mutex (memory), a write transaction
// (bbolt), or a server-side script (valkey).
type Interface interface {
	// Create allocates a fresh unique reference and records a Pending
	// challenge for the given price that expires after ttl.
	Create(ctx context.Context, amountLamports uint64, receiver string, ttl time.Duration) (challenge.Challenge, error)

	// Lookup returns the challenge for a reference. An expired-but-present
	// entry behaves exactly like an absent one: ErrNotFound.
	Lookup(ctx context.Context, reference string) (challenge.Challenge, error)

	// MarkFulfilled atomically transitions a Pending challenge to
	// Fulfilled, binding it to txID. It also refuses a txID that already
	// fulfilled a different reference (ErrTransactionReplayed).
	MarkFulfilled(ctx context.Context, reference, txID string) error
}
