package solanapay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
)

// fakeCluster answers the RPC calls Submit makes. It confirms the sent
// transaction after a configurable number of status polls.
type fakeCluster struct {
	sent         *solana.Transaction
	sig          solana.Signature
	pollsToGo    int
	chainFailure any
}

func (f *fakeCluster) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash: solana.Hash{1, 2, 3},
		},
	}, nil
}

func (f *fakeCluster) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	f.sent = tx
	f.sig = tx.Signatures[0]
	return f.sig, nil
}

func (f *fakeCluster) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if f.pollsToGo > 0 {
		f.pollsToGo--
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
	}

	return &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{{
			Err:                f.chainFailure,
			ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
		}},
	}, nil
}

func testSubmitter(cluster *fakeCluster) *Submitter {
	sub := NewWithClient(cluster, solana.NewWallet().PrivateKey)
	sub.PollInterval = time.Millisecond
	sub.ConfirmTimeout = time.Second
	return sub
}

func TestSubmit(t *testing.T) {
	receiver := solana.NewWallet().PublicKey()
	cluster := &fakeCluster{pollsToGo: 2}
	sub := testSubmitter(cluster)

	sig, err := sub.Submit(t.Context(), receiver.String(), 700, "ref-123")
	if err != nil {
		t.Fatal(err)
	}

	if sig != cluster.sig.String() {
		t.Errorf("wanted signature %s, got: %s", cluster.sig, sig)
	}

	tx := cluster.sent
	if tx == nil {
		t.Fatal("no transaction was sent")
	}

	if err := tx.VerifySignatures(); err != nil {
		t.Errorf("sent transaction has bad signatures: %v", err)
	}

	if n := len(tx.Message.Instructions); n != 2 {
		t.Fatalf("wanted 2 instructions, got: %d", n)
	}

	var sawTransfer, sawMemo bool
	for _, ix := range tx.Message.Instructions {
		prog, err := tx.Message.Program(ix.ProgramIDIndex)
		if err != nil {
			t.Fatal(err)
		}

		switch prog {
		case system.ProgramID:
			sawTransfer = true
		case solana.MemoProgramID:
			sawMemo = true
			if got := string(ix.Data); got != "ref-123" {
				t.Errorf("wanted memo %q, got: %q", "ref-123", got)
			}
		}
	}

	if !sawTransfer {
		t.Error("no system transfer instruction in transaction")
	}
	if !sawMemo {
		t.Error("no memo instruction in transaction")
	}
}

func TestSubmitBadReceiver(t *testing.T) {
	sub := testSubmitter(&fakeCluster{})

	if _, err := sub.Submit(t.Context(), "not-an-address", 700, "ref"); err == nil {
		t.Error("wanted error for bad receiver, got nil")
	}
}

func TestSubmitChainFailure(t *testing.T) {
	cluster := &fakeCluster{chainFailure: map[string]any{"InstructionError": []any{}}}
	sub := testSubmitter(cluster)

	_, err := sub.Submit(t.Context(), solana.NewWallet().PublicKey().String(), 700, "ref")
	if !errors.Is(err, ErrTxFailed) {
		t.Errorf("wanted ErrTxFailed, got: %v", err)
	}
}

func TestSubmitConfirmTimeout(t *testing.T) {
	cluster := &fakeCluster{pollsToGo: 1 << 30}
	sub := testSubmitter(cluster)
	sub.ConfirmTimeout = 25 * time.Millisecond

	_, err := sub.Submit(t.Context(), solana.NewWallet().PublicKey().String(), 700, "ref")
	if !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("wanted ErrNotConfirmed, got: %v", err)
	}
}
