// Package tollgate holds the wire-level constants shared by the server,
// the client, and the tests.
package tollgate

import "time"

var (
	// Version is the version of Tollgate in use.
	Version = "devel"
)

const (
	// HeaderPaymentReference carries the challenge reference on a retried
	// request.
	HeaderPaymentReference = "X-Payment-Reference"

	// HeaderPaymentSignature carries the Solana transaction signature that
	// allegedly settles the challenge.
	HeaderPaymentSignature = "X-Payment-Signature"

	// HeaderReceipt carries the signed payment receipt on an Access response.
	HeaderReceipt = "X-Tollgate-Receipt"

	// APIPrefix is where Tollgate mounts its own routes so they can't collide
	// with upstream paths.
	APIPrefix = "/.tollgate/"

	// DefaultChallengeTTL is how long an unfulfilled challenge stays valid.
	DefaultChallengeTTL = 5 * time.Minute

	// DefaultPriceLamports is the fallback price when no policy entry
	// matches. 700 lamports is one US cent at the reference exchange rate.
	DefaultPriceLamports uint64 = 700

	// DefaultNetwork names the ledger the default configuration settles on.
	DefaultNetwork = "solana-devnet"

	// LamportsPerSOL is the number of lamports in one SOL.
	LamportsPerSOL uint64 = 1_000_000_000
)
