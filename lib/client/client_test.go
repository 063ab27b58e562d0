package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tollgatehq/tollgate/lib"
	"github.com/tollgatehq/tollgate/lib/challenge/store/memory"
	"github.com/tollgatehq/tollgate/lib/ledger"
	"github.com/tollgatehq/tollgate/lib/policy"
)

const testReceiver = "6vP6mLnqdDfxzvNYbzpPhtRM7nTJp4hxhCc5zZ9FPzuR"

// fakeChain is both the ledger the gate verifies against and the submitter
// the client pays with, so a submitted payment is immediately visible to
// verification.
type fakeChain struct {
	txns    map[string]ledger.Transaction
	pays    int
	failure error
}

func (f *fakeChain) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	tx, ok := f.txns[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &tx, nil
}

func (f *fakeChain) Submit(ctx context.Context, receiver string, amountLamports uint64, memo string) (string, error) {
	if f.failure != nil {
		return "", f.failure
	}

	f.pays++
	id := "sig-payment"
	if f.txns == nil {
		f.txns = map[string]ledger.Transaction{}
	}
	f.txns[id] = ledger.Transaction{
		Sender:         "payer",
		Receiver:       receiver,
		AmountLamports: amountLamports,
		Memo:           memo,
		Confirmed:      true,
	}

	return id, nil
}

func spawnGate(t *testing.T, chain *fakeChain) *httptest.Server {
	t.Helper()

	pol, err := policy.Static(policy.Resource{
		AmountLamports: 700,
		Receiver:       testReceiver,
	})
	if err != nil {
		t.Fatal(err)
	}

	srv, err := lib.New(lib.Options{
		Policy: pol,
		Store:  memory.New(t.Context(), memory.Config{}),
		Ledger: chain,
	})
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return ts
}

func TestFetch(t *testing.T) {
	chain := &fakeChain{}
	ts := spawnGate(t, chain)

	d := &Driver{HTTP: ts.Client(), Submitter: chain}

	body, err := d.Fetch(t.Context(), ts.URL+"/premium")
	if err != nil {
		t.Fatal(err)
	}

	if len(body) == 0 {
		t.Error("fetched an empty body")
	}

	if chain.pays != 1 {
		t.Errorf("wanted exactly 1 payment, got: %d", chain.pays)
	}
}

func TestFetchFreeResource(t *testing.T) {
	free := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("no charge"))
	}))
	defer free.Close()

	chain := &fakeChain{}
	d := &Driver{HTTP: free.Client(), Submitter: chain}

	body, err := d.Fetch(t.Context(), free.URL)
	if err != nil {
		t.Fatal(err)
	}

	if string(body) != "no charge" {
		t.Errorf("wanted body %q, got: %q", "no charge", string(body))
	}

	if chain.pays != 0 {
		t.Errorf("paid %d times for a free resource", chain.pays)
	}
}

func TestFetchSubmitFailure(t *testing.T) {
	chain := &fakeChain{failure: errors.New("wallet is empty")}
	ts := spawnGate(t, chain)

	d := &Driver{HTTP: ts.Client(), Submitter: chain}

	if _, err := d.Fetch(t.Context(), ts.URL+"/premium"); err == nil {
		t.Error("wanted error when payment submission fails, got nil")
	}
}

func TestFetchDenied(t *testing.T) {
	// A gate whose ledger never confirms anything denies every proof.
	chain := &fakeChain{}
	ts := spawnGate(t, chain)

	liar := &fakeChain{} // separate ledger: payments land where the gate can't see them
	d := &Driver{HTTP: ts.Client(), Submitter: liar}

	_, err := d.Fetch(t.Context(), ts.URL+"/premium")

	var de *DenialError
	if !errors.As(err, &de) {
		t.Fatalf("wanted *DenialError, got: %v", err)
	}

	if de.StatusCode != http.StatusBadRequest {
		t.Errorf("wanted status %d, got: %d", http.StatusBadRequest, de.StatusCode)
	}

	if de.Retryable() {
		t.Error("a 400 denial must not be retryable")
	}

	// One payment went out, and the denial did not trigger another.
	if liar.pays != 1 {
		t.Errorf("wanted exactly 1 payment, got: %d", liar.pays)
	}
}

func TestFetchBadChallenge(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"message": "Payment Required"}`))
	}))
	defer broken.Close()

	d := &Driver{HTTP: broken.Client(), Submitter: &fakeChain{}}

	if _, err := d.Fetch(t.Context(), broken.URL); !errors.Is(err, ErrBadChallenge) {
		t.Errorf("wanted ErrBadChallenge, got: %v", err)
	}
}
