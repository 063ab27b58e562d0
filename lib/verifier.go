package lib

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tollgatehq/tollgate/lib/challenge"
	"github.com/tollgatehq/tollgate/lib/challenge/store"
	"github.com/tollgatehq/tollgate/lib/ledger"
)

// Denial reasons. Every one of these is an ordinary return value: a denial
// must never take the process down. The error text is what the client sees,
// so unknown and expired references deliberately share one message.
var (
	ErrMalformedProof          = errors.New("malformed proof")
	ErrUnknownReference        = errors.New("unknown or expired reference")
	ErrReferenceConsumed       = errors.New("reference already consumed")
	ErrPaymentNotFound         = errors.New("payment not found or not yet confirmed")
	ErrPaymentMismatch         = errors.New("amount/receiver/reference mismatch")
	ErrVerificationUnavailable = errors.New("verification unavailable")
)

// Verifier decides whether a proof of payment settles a challenge. It makes
// a single deterministic decision per call given the ledger's current view;
// retrying is the caller's business.
type Verifier struct {
	Store  store.Interface
	Ledger ledger.Query
}

// Verify resolves the proof's challenge, confirms the transaction on the
// ledger, and atomically consumes the challenge on an exact match. A nil
// error means access is granted and the returned challenge is the fulfilled
// one (for receipt signing).
//
// The ledger query is blocking I/O and happens between store calls, never
// under a store lock. The anti-double-grant guarantee comes from the store's
// MarkFulfilled, not from anything here.
func (v *Verifier) Verify(ctx context.Context, proof challenge.Proof) (challenge.Challenge, error) {
	var zero challenge.Challenge

	if _, err := uuid.Parse(proof.Reference); err != nil || proof.TransactionID == "" {
		return zero, ErrMalformedProof
	}

	ch, err := v.Store.Lookup(ctx, proof.Reference)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return zero, ErrUnknownReference
	case err != nil:
		return zero, fmt.Errorf("%w: %w", ErrVerificationUnavailable, err)
	}

	if ch.Status != challenge.StatusPending {
		return zero, ErrReferenceConsumed
	}

	tx, err := v.Ledger.GetTransaction(ctx, proof.TransactionID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return zero, ErrPaymentNotFound
	case err != nil:
		return zero, fmt.Errorf("%w: %w", ErrVerificationUnavailable, err)
	}

	if !tx.Confirmed {
		return zero, ErrPaymentNotFound
	}

	// The memo match is the core replay/confusion defense: without it, any
	// payment to the receiver for the right amount would satisfy any
	// outstanding challenge. Overpayment is a mismatch too, not a credit.
	if tx.Receiver != ch.Receiver || tx.AmountLamports != ch.AmountLamports || tx.Memo != ch.Reference {
		return zero, ErrPaymentMismatch
	}

	err = v.Store.MarkFulfilled(ctx, proof.Reference, proof.TransactionID)
	switch {
	case errors.Is(err, store.ErrAlreadyFulfilled), errors.Is(err, store.ErrTransactionReplayed):
		// Lost the race against a concurrent verifier.
		return zero, ErrReferenceConsumed
	case errors.Is(err, store.ErrNotFound):
		// Expired between Lookup and MarkFulfilled.
		return zero, ErrUnknownReference
	case err != nil:
		return zero, fmt.Errorf("%w: %w", ErrVerificationUnavailable, err)
	}

	ch.Status = challenge.StatusFulfilled
	ch.TransactionID = proof.TransactionID

	return ch, nil
}
