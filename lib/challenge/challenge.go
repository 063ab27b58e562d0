// Package challenge defines the data model for outstanding payment demands
// and the proof of payment a client presents to settle one.
package challenge

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tollgatehq/tollgate"
)

// Status tracks where a challenge is in its lifecycle. Fulfilled and Expired
// are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusExpired   Status = "expired"
)

// Challenge is a single outstanding payment demand. The reference is the only
// thing binding an on-ledger transfer back to this challenge, so it has to be
// unguessable.
type Challenge struct {
	Reference      string    `json:"reference"`
	Receiver       string    `json:"receiver"`
	AmountLamports uint64    `json:"amount_lamports"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	Status         Status    `json:"status"`

	// TransactionID is set exactly once, when the challenge transitions to
	// Fulfilled.
	TransactionID string `json:"transactionId,omitempty"`
}

// Expired reports whether the challenge's validity window has lapsed.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// NewReference allocates a fresh challenge reference with UUID-class entropy.
func NewReference() string {
	return uuid.NewString()
}

// Proof is the client-presented evidence of payment. It is built from request
// headers and never persisted beyond a single verification call.
type Proof struct {
	Reference     string
	TransactionID string
}

// ProofFromHeader extracts the proof pair from request headers. The second
// return value reports whether both fields are present; the absence of either
// is the routing signal for challenge issuance, not an error.
func ProofFromHeader(h http.Header) (Proof, bool) {
	p := Proof{
		Reference:     h.Get(tollgate.HeaderPaymentReference),
		TransactionID: h.Get(tollgate.HeaderPaymentSignature),
	}

	return p, p.Reference != "" && p.TransactionID != ""
}
