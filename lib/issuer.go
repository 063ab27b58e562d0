package lib

import (
	"context"

	"github.com/tollgatehq/tollgate/lib/challenge"
	"github.com/tollgatehq/tollgate/lib/challenge/store"
	"github.com/tollgatehq/tollgate/lib/policy"
)

// Issuer produces a fresh challenge for a protected resource that was
// requested without proof of payment.
type Issuer struct {
	Store  store.Interface
	Policy *policy.ParsedConfig
}

// Issue looks up the resource's price and records a new Pending challenge.
func (i *Issuer) Issue(ctx context.Context, resource string) (challenge.Challenge, error) {
	res := i.Policy.For(resource)

	return i.Store.Create(ctx, res.AmountLamports, res.Receiver, res.TTL)
}
