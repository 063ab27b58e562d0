// Package lib implements the Tollgate server: a payment gate that withholds
// a resource until the client proves a matching transfer settled on the
// ledger.
//
// Every request takes one of two routes. A request without proof headers gets
// a 402 with a freshly issued challenge. A request carrying both proof
// headers gets a single verification decision: the protected resource on a
// grant, a JSON error on a denial. The gate itself keeps no state across
// requests; everything mutable lives in the challenge store.
package lib

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tollgatehq/tollgate"
	"github.com/tollgatehq/tollgate/internal"
	"github.com/tollgatehq/tollgate/lib/challenge"
)

var (
	challengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tollgate_challenges_issued",
		Help: "The total number of payment challenges issued",
	})

	paymentsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tollgate_payments_granted",
		Help: "The total number of proofs of payment that granted access",
	})

	paymentsDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tollgate_payments_denied",
		Help: "The total number of proofs of payment that were denied",
	}, []string{"reason"})

	requestsProxied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tollgate_proxied_requests_total",
		Help: "Number of paid requests proxied through Tollgate to upstream targets",
	}, []string{"host"})
)

type Server struct {
	next     http.Handler
	mux      *http.ServeMux
	issuer   *Issuer
	verifier *Verifier
	payload  json.RawMessage
	network  string
	priv     ed25519.PrivateKey
}

// ChallengeResponse is the 402 body. The field set matches what paying
// clients in the wild already parse.
type ChallengeResponse struct {
	Message        string `json:"message"`
	Receiver       string `json:"receiver"`
	AmountLamports uint64 `json:"amount_lamports"`
	Reference      string `json:"reference"`
	Network        string `json:"network"`
}

// AccessResponse is the 200 body served when Tollgate answers a granted
// request itself (no upstream configured).
type AccessResponse struct {
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data"`
	TxSignature string          `json:"tx_signature"`
	Receipt     string          `json:"receipt,omitempty"`
}

// ErrorResponse is the body of every denial.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// gate is the per-request decision function. Presence of both proof headers
// routes to verification; absence of either routes to challenge issuance.
func (s *Server) gate(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	proof, ok := challenge.ProofFromHeader(r.Header)
	if !ok {
		s.issueChallenge(w, r, lg)
		return
	}

	ch, err := s.verifier.Verify(r.Context(), proof)
	if err != nil {
		s.rejectProof(w, lg, proof, err)
		return
	}

	paymentsGranted.Inc()
	lg.Info("payment verified", "reference", ch.Reference, "tx_signature", ch.TransactionID, "amount_lamports", ch.AmountLamports)

	receipt, err := s.signReceipt(ch)
	if err != nil {
		lg.Error("can't sign receipt", "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	w.Header().Set(tollgate.HeaderReceipt, receipt)

	if s.next != nil {
		requestsProxied.WithLabelValues(r.Host).Inc()
		r.Header.Set("X-Tollgate-Status", "PASS")
		s.next.ServeHTTP(w, r)
		return
	}

	writeJSON(w, http.StatusOK, AccessResponse{
		Message:     "Access granted! Thank you for your payment.",
		Data:        s.payload,
		TxSignature: ch.TransactionID,
		Receipt:     receipt,
	})
}

func (s *Server) issueChallenge(w http.ResponseWriter, r *http.Request, lg *slog.Logger) {
	ch, err := s.issuer.Issue(r.Context(), r.URL.Path)
	if err != nil {
		// Store failures here are server trouble (capacity or backend
		// loss), not client error.
		lg.Error("can't issue challenge", "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	challengesIssued.Inc()
	lg.Debug("issued challenge", "reference", ch.Reference, "amount_lamports", ch.AmountLamports)

	writeJSON(w, http.StatusPaymentRequired, ChallengeResponse{
		Message:        "Payment Required",
		Receiver:       ch.Receiver,
		AmountLamports: ch.AmountLamports,
		Reference:      ch.Reference,
		Network:        s.network,
	})
}

func (s *Server) rejectProof(w http.ResponseWriter, lg *slog.Logger, proof challenge.Proof, err error) {
	reason, label := denialReason(err)
	paymentsDenied.WithLabelValues(label).Inc()

	status := http.StatusBadRequest
	if errors.Is(err, ErrVerificationUnavailable) {
		// The ledger being unreachable is not the client's fault; 503
		// tells them to retry verification later without paying again.
		status = http.StatusServiceUnavailable
		lg.Error("verification unavailable", "err", err)
	} else {
		lg.Info("payment rejected", "reference", proof.Reference, "tx_signature", proof.TransactionID, "reason", reason)
	}

	writeJSON(w, status, ErrorResponse{Error: reason})
}

// denialReason maps a verification error to the client-visible reason and
// the metric label. The reason strings never disclose whether some other
// reference exists.
func denialReason(err error) (reason, label string) {
	for _, d := range []struct {
		err   error
		label string
	}{
		{ErrMalformedProof, "malformed"},
		{ErrUnknownReference, "unknown_reference"},
		{ErrReferenceConsumed, "consumed"},
		{ErrPaymentNotFound, "not_found"},
		{ErrPaymentMismatch, "mismatch"},
		{ErrVerificationUnavailable, "unavailable"},
	} {
		if errors.Is(err, d.err) {
			return d.err.Error(), d.label
		}
	}

	return "payment verification failed", "other"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response body", "err", err)
	}
}
