// Package client implements the paying side of the payment gate: fetch a
// resource, settle the 402 challenge it answers with, and fetch again with
// proof of payment.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tollgatehq/tollgate"
)

var (
	ErrBadChallenge = errors.New("client: challenge response is missing required fields")
)

// Submitter settles a challenge by moving funds on the ledger. It returns
// the transaction id once the transfer is confirmed enough for the gate to
// see it.
type Submitter interface {
	Submit(ctx context.Context, receiver string, amountLamports uint64, memo string) (string, error)
}

// PaymentRequired is the parsed 402 body.
type PaymentRequired struct {
	Message        string `json:"message"`
	Receiver       string `json:"receiver"`
	AmountLamports uint64 `json:"amount_lamports"`
	Reference      string `json:"reference"`
	Network        string `json:"network"`
}

// DenialError is a non-2xx answer to a proof of payment. A 503 means the
// gate could not check the ledger and the same proof may be retried later;
// anything else means the proof was judged and refused.
type DenialError struct {
	StatusCode int
	Reason     string
}

func (de *DenialError) Error() string {
	return fmt.Sprintf("client: payment denied (status %d): %s", de.StatusCode, de.Reason)
}

// Retryable reports whether presenting the same proof again may succeed.
func (de *DenialError) Retryable() bool {
	return de.StatusCode == http.StatusServiceUnavailable
}

// Driver fetches payment-gated resources. The zero value is not usable; both
// HTTP and Submitter must be set.
type Driver struct {
	HTTP      *http.Client
	Submitter Submitter

	// Log is the logger for payment progress. Defaults to slog.Default().
	Log *slog.Logger
}

func (d *Driver) log() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

// Fetch retrieves url, paying for it if the server demands payment. It pays
// at most once: if the proof is denied, the denial is returned as a
// *DenialError rather than triggering another transfer.
func (d *Driver) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := d.get(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		return readOrError(resp)
	}

	var pr PaymentRequired
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("client: can't parse challenge: %w", err)
	}

	if pr.Receiver == "" || pr.Reference == "" || pr.AmountLamports == 0 {
		return nil, ErrBadChallenge
	}

	d.log().Info("payment required", "receiver", pr.Receiver, "amount_lamports", pr.AmountLamports, "reference", pr.Reference, "network", pr.Network)

	txID, err := d.Submitter.Submit(ctx, pr.Receiver, pr.AmountLamports, pr.Reference)
	if err != nil {
		return nil, fmt.Errorf("client: can't submit payment: %w", err)
	}

	d.log().Info("payment confirmed", "tx_signature", txID)

	proof := map[string]string{
		tollgate.HeaderPaymentReference: pr.Reference,
		tollgate.HeaderPaymentSignature: txID,
	}

	resp, err = d.get(ctx, url, proof)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return readOrError(resp)
}

func (d *Driver) get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: can't build request: %w", err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: request failed: %w", err)
	}

	return resp, nil
}

func readOrError(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: can't read response body: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	de := &DenialError{StatusCode: resp.StatusCode}

	var er struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		de.Reason = er.Error
	} else {
		de.Reason = http.StatusText(resp.StatusCode)
	}

	return nil, de
}
