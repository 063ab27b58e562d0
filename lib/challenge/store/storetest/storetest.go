// Package storetest provides the contract test suite every challenge store
// backend must pass.
package storetest

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tollgatehq/tollgate/lib/challenge"
	"github.com/tollgatehq/tollgate/lib/challenge/store"
)

const (
	testReceiver = "6vP6mLnqdDfxzvNYbzpPhtRM7nTJp4hxhCc5zZ9FPzuR"
	testAmount   = uint64(700)
)

func Common(t *testing.T, f store.Factory, config json.RawMessage) {
	if err := f.Valid(config); err != nil {
		t.Fatal(err)
	}

	s, err := f.Build(t.Context(), config)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, s store.Interface) error
		err  error
	}{
		{
			name: "create then lookup",
			doer: func(t *testing.T, s store.Interface) error {
				ch, err := s.Create(t.Context(), testAmount, testReceiver, 5*time.Minute)
				if err != nil {
					return err
				}

				if ch.Reference == "" {
					t.Error("created challenge has no reference")
				}
				if ch.Status != challenge.StatusPending {
					t.Errorf("wanted status %q, got %q", challenge.StatusPending, ch.Status)
				}

				got, err := s.Lookup(t.Context(), ch.Reference)
				if err != nil {
					return err
				}

				if got.Receiver != testReceiver || got.AmountLamports != testAmount {
					t.Errorf("lookup returned wrong challenge: %#v", got)
				}

				return nil
			},
		},
		{
			name: "references are unique",
			doer: func(t *testing.T, s store.Interface) error {
				seen := map[string]bool{}
				for range 64 {
					ch, err := s.Create(t.Context(), testAmount, testReceiver, 5*time.Minute)
					if err != nil {
						return err
					}
					if seen[ch.Reference] {
						t.Errorf("reference %q issued twice", ch.Reference)
					}
					seen[ch.Reference] = true
				}

				return nil
			},
		},
		{
			name: "unknown reference is not found",
			doer: func(t *testing.T, s store.Interface) error {
				if _, err := s.Lookup(t.Context(), challenge.NewReference()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted ErrNotFound, got: %v", err)
				}

				return nil
			},
		},
		{
			name: "expired challenge behaves like not found",
			doer: func(t *testing.T, s store.Interface) error {
				ch, err := s.Create(t.Context(), testAmount, testReceiver, 150*time.Millisecond)
				if err != nil {
					return err
				}

				//nosleep:bypass XXX: use Go's time faking thing when it exists.
				time.Sleep(200 * time.Millisecond)

				if _, err := s.Lookup(t.Context(), ch.Reference); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted ErrNotFound after expiry, got: %v", err)
				}

				if err := s.MarkFulfilled(t.Context(), ch.Reference, "sig-after-expiry"); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted ErrNotFound from MarkFulfilled after expiry, got: %v", err)
				}

				return nil
			},
		},
		{
			name: "fulfill is consumed exactly once",
			doer: func(t *testing.T, s store.Interface) error {
				ch, err := s.Create(t.Context(), testAmount, testReceiver, 5*time.Minute)
				if err != nil {
					return err
				}

				if err := s.MarkFulfilled(t.Context(), ch.Reference, "sig-once"); err != nil {
					return err
				}

				got, err := s.Lookup(t.Context(), ch.Reference)
				if err != nil {
					return err
				}
				if got.Status != challenge.StatusFulfilled {
					t.Errorf("wanted status %q, got %q", challenge.StatusFulfilled, got.Status)
				}
				if got.TransactionID != "sig-once" {
					t.Errorf("wanted transaction id %q, got %q", "sig-once", got.TransactionID)
				}

				if err := s.MarkFulfilled(t.Context(), ch.Reference, "sig-once"); !errors.Is(err, store.ErrAlreadyFulfilled) {
					t.Errorf("wanted ErrAlreadyFulfilled, got: %v", err)
				}

				return nil
			},
		},
		{
			name: "transaction id fulfills at most one reference",
			doer: func(t *testing.T, s store.Interface) error {
				first, err := s.Create(t.Context(), testAmount, testReceiver, 5*time.Minute)
				if err != nil {
					return err
				}
				second, err := s.Create(t.Context(), testAmount, testReceiver, 5*time.Minute)
				if err != nil {
					return err
				}

				if err := s.MarkFulfilled(t.Context(), first.Reference, "sig-shared"); err != nil {
					return err
				}

				if err := s.MarkFulfilled(t.Context(), second.Reference, "sig-shared"); !errors.Is(err, store.ErrTransactionReplayed) {
					t.Errorf("wanted ErrTransactionReplayed, got: %v", err)
				}

				return nil
			},
		},
		{
			name: "fulfill unknown reference is not found",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.MarkFulfilled(t.Context(), challenge.NewReference(), "sig-nowhere"); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted ErrNotFound, got: %v", err)
				}

				return nil
			},
		},
		{
			name: "concurrent fulfill has a single winner",
			doer: func(t *testing.T, s store.Interface) error {
				ch, err := s.Create(t.Context(), testAmount, testReceiver, 5*time.Minute)
				if err != nil {
					return err
				}

				const racers = 16
				results := make([]error, racers)

				var wg sync.WaitGroup
				for n := range racers {
					wg.Add(1)
					go func() {
						defer wg.Done()
						results[n] = s.MarkFulfilled(t.Context(), ch.Reference, "sig-race")
					}()
				}
				wg.Wait()

				var wins, losses int
				for _, err := range results {
					switch {
					case err == nil:
						wins++
					case errors.Is(err, store.ErrAlreadyFulfilled):
						losses++
					default:
						t.Errorf("unexpected race error: %v", err)
					}
				}

				if wins != 1 {
					t.Errorf("wanted exactly 1 winner, got %d (losers: %d)", wins, losses)
				}

				return nil
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.doer(t, s); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}
