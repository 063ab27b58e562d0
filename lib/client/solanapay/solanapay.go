// Package solanapay settles payment challenges with native SOL transfers on
// a Solana cluster. The challenge reference rides along in a memo
// instruction so the gate can bind the transfer back to its challenge.
package solanapay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	ErrNotConfirmed = errors.New("solanapay: transaction was not confirmed in time")
	ErrTxFailed     = errors.New("solanapay: transaction failed on-chain")
)

// RPCClient is the subset of the Solana RPC surface the submitter needs.
// Narrowing it here lets tests inject a fake cluster.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Submitter pays challenges from a single wallet.
type Submitter struct {
	rpc  RPCClient
	priv solana.PrivateKey

	// PollInterval and ConfirmTimeout bound the confirmation wait after a
	// send. Zero values fall back to 2s and 60s.
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
}

// New builds a Submitter from a base58-encoded private key and an RPC URL.
func New(rpcURL, privateKeyBase58 string) (*Submitter, error) {
	priv, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("solanapay: can't parse private key: %w", err)
	}

	return NewWithClient(rpc.New(rpcURL), priv), nil
}

// NewWithClient builds a Submitter on an existing RPC client.
func NewWithClient(client RPCClient, priv solana.PrivateKey) *Submitter {
	return &Submitter{rpc: client, priv: priv}
}

// PublicKey returns the paying wallet's address.
func (s *Submitter) PublicKey() solana.PublicKey {
	return s.priv.PublicKey()
}

// Submit transfers amountLamports to receiver with memo attached, waits for
// the transaction to reach confirmed commitment, and returns its signature.
func (s *Submitter) Submit(ctx context.Context, receiver string, amountLamports uint64, memo string) (string, error) {
	to, err := solana.PublicKeyFromBase58(receiver)
	if err != nil {
		return "", fmt.Errorf("solanapay: bad receiver address %q: %w", receiver, err)
	}

	from := s.priv.PublicKey()

	recent, err := s.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("solanapay: can't get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(amountLamports, from, to).Build(),
			solana.NewInstruction(
				solana.MemoProgramID,
				solana.AccountMetaSlice{solana.NewAccountMeta(from, false, true)},
				[]byte(memo),
			),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return "", fmt.Errorf("solanapay: can't build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(from) {
			return &s.priv
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("solanapay: can't sign transaction: %w", err)
	}

	sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("solanapay: can't send transaction: %w", err)
	}

	slog.Debug("sent payment", "tx_signature", sig, "receiver", receiver, "amount_lamports", amountLamports)

	if err := s.awaitConfirmed(ctx, sig); err != nil {
		return "", err
	}

	return sig.String(), nil
}

// awaitConfirmed polls signature status until the transaction reaches
// confirmed commitment. Presenting an unconfirmed signature would only earn
// a denial, so waiting here is cheaper than retrying verification.
func (s *Submitter) awaitConfirmed(ctx context.Context, sig solana.Signature) error {
	interval := s.PollInterval
	if interval == 0 {
		interval = 2 * time.Second
	}
	timeout := s.ConfirmTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		statuses, err := s.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			st := statuses.Value[0]
			if st.Err != nil {
				return fmt.Errorf("%w: %v", ErrTxFailed, st.Err)
			}
			switch st.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrNotConfirmed, sig)
		case <-t.C:
		}
	}
}
