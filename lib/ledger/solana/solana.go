// Package solana implements the ledger query port against a Solana RPC node.
package solana

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/tollgatehq/tollgate/lib/ledger"
)

// RPCClient is the subset of the Solana RPC surface the query needs. This
// allows for dependency injection and easier testing.
type RPCClient interface {
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// Query implements ledger.Query against a Solana RPC node.
type Query struct {
	client RPCClient
}

// New creates a Query talking to the given RPC endpoint.
func New(rpcURL string) *Query {
	return &Query{client: rpc.New(rpcURL)}
}

// NewWithClient creates a Query with an injected RPC client.
func NewWithClient(client RPCClient) *Query {
	return &Query{client: client}
}

func (q *Query) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	sig, err := solana.SignatureFromBase58(id)
	if err != nil {
		// A malformed signature can never settle anything, which makes it
		// indistinguishable from a transaction that does not exist.
		return nil, fmt.Errorf("%w: %q is not a transaction signature", ledger.ErrNotFound, id)
	}

	maxVersion := uint64(0)
	out, err := q.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	switch {
	case errors.Is(err, rpc.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	case out == nil || out.Meta == nil || out.Transaction == nil:
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}

	if out.Meta.Err != nil {
		return nil, fmt.Errorf("%w: transaction failed on-chain", ledger.ErrNotFound)
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("%w: can't decode transaction: %w", ledger.ErrUnavailable, err)
	}

	return decode(tx, out.Meta)
}

// decode recovers the transfer the verifier cares about from a confirmed
// transaction: who paid whom how much, and the attached memo. The receiver is
// the account with the largest balance increase, which sidesteps parsing the
// system program's instruction encoding (the fee payer's delta is always
// negative, so fees can't be mistaken for the transfer).
func decode(tx *solana.Transaction, meta *rpc.TransactionMeta) (*ledger.Transaction, error) {
	keys := tx.Message.AccountKeys
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: transaction has no accounts", ledger.ErrNotFound)
	}

	if len(meta.PreBalances) != len(keys) || len(meta.PostBalances) != len(keys) {
		return nil, fmt.Errorf("%w: balance lists don't match account list", ledger.ErrUnavailable)
	}

	result := &ledger.Transaction{
		Sender:    keys[0].String(),
		Confirmed: true,
	}

	var best uint64
	for n := range keys {
		pre, post := meta.PreBalances[n], meta.PostBalances[n]
		if post <= pre {
			continue
		}

		if delta := post - pre; delta > best {
			best = delta
			result.Receiver = keys[n].String()
			result.AmountLamports = delta
		}
	}

	if result.Receiver == "" {
		return nil, fmt.Errorf("%w: no lamports were transferred", ledger.ErrNotFound)
	}

	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(keys) {
			continue
		}

		if keys[ix.ProgramIDIndex].Equals(solana.MemoProgramID) {
			result.Memo = string(ix.Data)
			break
		}
	}

	return result, nil
}
