package solana

import (
	"errors"
	"slices"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/tollgatehq/tollgate/lib/ledger"
)

func buildTransfer(t *testing.T, sender, receiver solana.PublicKey, lamports uint64, memo string) *solana.Transaction {
	t.Helper()

	instructions := []solana.Instruction{
		system.NewTransferInstruction(lamports, sender, receiver).Build(),
	}

	if memo != "" {
		instructions = append(instructions, solana.NewInstruction(
			solana.MemoProgramID,
			solana.AccountMetaSlice{
				{PublicKey: sender, IsSigner: true, IsWritable: false},
			},
			[]byte(memo),
		))
	}

	tx, err := solana.NewTransaction(instructions, solana.Hash{}, solana.TransactionPayer(sender))
	if err != nil {
		t.Fatalf("can't build transaction: %v", err)
	}

	return tx
}

// metaFor fabricates balance lists matching the compiled account ordering:
// the receiver gains lamports, the sender pays lamports plus the fee.
func metaFor(t *testing.T, tx *solana.Transaction, sender, receiver solana.PublicKey, lamports uint64) *rpc.TransactionMeta {
	t.Helper()

	const fee = 5000
	keys := tx.Message.AccountKeys

	senderIdx := slices.IndexFunc(keys, sender.Equals)
	receiverIdx := slices.IndexFunc(keys, receiver.Equals)
	if senderIdx < 0 || receiverIdx < 0 {
		t.Fatalf("sender or receiver missing from account keys: %v", keys)
	}

	pre := make([]uint64, len(keys))
	post := make([]uint64, len(keys))
	for n := range keys {
		pre[n], post[n] = 1, 1
	}

	pre[senderIdx] = 10 * solana.LAMPORTS_PER_SOL
	post[senderIdx] = pre[senderIdx] - lamports - fee
	pre[receiverIdx] = 0
	post[receiverIdx] = lamports

	return &rpc.TransactionMeta{
		Fee:          fee,
		PreBalances:  pre,
		PostBalances: post,
	}
}

func TestDecode(t *testing.T) {
	sender := solana.NewWallet().PublicKey()
	receiver := solana.NewWallet().PublicKey()

	tx := buildTransfer(t, sender, receiver, 700, "ref-A")
	got, err := decode(tx, metaFor(t, tx, sender, receiver, 700))
	if err != nil {
		t.Fatal(err)
	}

	if got.Sender != sender.String() {
		t.Errorf("wanted sender %s, got %s", sender, got.Sender)
	}
	if got.Receiver != receiver.String() {
		t.Errorf("wanted receiver %s, got %s", receiver, got.Receiver)
	}
	if got.AmountLamports != 700 {
		t.Errorf("wanted 700 lamports, got %d", got.AmountLamports)
	}
	if got.Memo != "ref-A" {
		t.Errorf("wanted memo %q, got %q", "ref-A", got.Memo)
	}
	if !got.Confirmed {
		t.Error("decoded transaction should be confirmed")
	}
}

func TestDecodeNoMemo(t *testing.T) {
	sender := solana.NewWallet().PublicKey()
	receiver := solana.NewWallet().PublicKey()

	tx := buildTransfer(t, sender, receiver, 700, "")
	got, err := decode(tx, metaFor(t, tx, sender, receiver, 700))
	if err != nil {
		t.Fatal(err)
	}

	if got.Memo != "" {
		t.Errorf("wanted empty memo, got %q", got.Memo)
	}
}

func TestDecodeNoTransfer(t *testing.T) {
	sender := solana.NewWallet().PublicKey()
	receiver := solana.NewWallet().PublicKey()

	tx := buildTransfer(t, sender, receiver, 700, "ref-A")

	// Everyone's balance only goes down: fee burned, nothing transferred.
	meta := metaFor(t, tx, sender, receiver, 700)
	for n := range meta.PostBalances {
		if meta.PostBalances[n] > meta.PreBalances[n] {
			meta.PostBalances[n] = meta.PreBalances[n]
		}
	}

	if _, err := decode(tx, meta); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("wanted ErrNotFound, got: %v", err)
	}
}

func TestGetTransactionMalformedSignature(t *testing.T) {
	q := NewWithClient(nil)

	if _, err := q.GetTransaction(t.Context(), "not base58!!"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("wanted ErrNotFound, got: %v", err)
	}
}
