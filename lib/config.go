package lib

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tollgatehq/tollgate"
	"github.com/tollgatehq/tollgate/lib/challenge/store"
	"github.com/tollgatehq/tollgate/lib/ledger"
	"github.com/tollgatehq/tollgate/lib/policy"
)

var (
	ErrNoStore  = errors.New("lib: Options.Store is required")
	ErrNoLedger = errors.New("lib: Options.Ledger is required")
	ErrNoPolicy = errors.New("lib: Options.Policy is required")
)

type Options struct {
	// Next is the upstream handler serving the protected resource. When
	// nil, the server answers granted requests with Payload instead.
	Next http.Handler

	// Payload is the protected document served when Next is nil.
	Payload json.RawMessage

	Policy *policy.ParsedConfig
	Store  store.Interface
	Ledger ledger.Query

	// Network names the ledger in challenge responses, e.g.
	// "solana-devnet".
	Network string

	// ED25519PrivateKey signs payment receipts. A random key is generated
	// when unset.
	ED25519PrivateKey ed25519.PrivateKey
}

func New(opts Options) (*Server, error) {
	var errs []error
	if opts.Store == nil {
		errs = append(errs, ErrNoStore)
	}
	if opts.Ledger == nil {
		errs = append(errs, ErrNoLedger)
	}
	if opts.Policy == nil {
		errs = append(errs, ErrNoPolicy)
	}
	if len(errs) != 0 {
		return nil, errors.Join(errs...)
	}

	if opts.ED25519PrivateKey == nil {
		slog.Debug("opts.ED25519PrivateKey not set, generating a new one")
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("lib: can't generate private key: %v", err)
		}
		opts.ED25519PrivateKey = priv
	}

	if opts.Network == "" {
		opts.Network = tollgate.DefaultNetwork
	}

	if opts.Payload == nil {
		opts.Payload = json.RawMessage(`"This is the secret information you paid for."`)
	}

	result := &Server{
		next:     opts.Next,
		payload:  opts.Payload,
		network:  opts.Network,
		priv:     opts.ED25519PrivateKey,
		issuer:   &Issuer{Store: opts.Store, Policy: opts.Policy},
		verifier: &Verifier{Store: opts.Store, Ledger: opts.Ledger},
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET "+tollgate.APIPrefix+"healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Free endpoint telling clients how to pay, modeled on the 402 body so
	// generic tooling can discover the proof headers without burning a
	// challenge.
	mux.HandleFunc("GET "+tollgate.APIPrefix+"info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Message         string `json:"message"`
			Network         string `json:"network"`
			ReferenceHeader string `json:"reference_header"`
			SignatureHeader string `json:"signature_header"`
		}{
			Message:         "Payment is required for protected resources. Request one to receive a challenge.",
			Network:         result.network,
			ReferenceHeader: tollgate.HeaderPaymentReference,
			SignatureHeader: tollgate.HeaderPaymentSignature,
		})
	})

	mux.HandleFunc("GET "+tollgate.APIPrefix+"receipt-key", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Alg       string `json:"alg"`
			PublicKey string `json:"public_key"`
		}{
			Alg:       "EdDSA",
			PublicKey: hex.EncodeToString(result.ReceiptPublicKey()),
		})
	})

	mux.HandleFunc("/", result.gate)

	result.mux = mux

	return result, nil
}
