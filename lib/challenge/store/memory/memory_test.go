package memory

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tollgatehq/tollgate/lib/challenge/store"
	"github.com/tollgatehq/tollgate/lib/challenge/store/storetest"
)

func TestImpl(t *testing.T) {
	storetest.Common(t, factory{}, json.RawMessage(`{}`))
}

func TestNilConfig(t *testing.T) {
	if err := (factory{}).Valid(nil); err != nil {
		t.Errorf("empty config should be valid: %v", err)
	}

	if _, err := (factory{}).Build(t.Context(), nil); err != nil {
		t.Errorf("can't build store from empty config: %v", err)
	}
}

func TestMaxPending(t *testing.T) {
	s, err := (factory{}).Build(t.Context(), json.RawMessage(`{"max_pending": 2}`))
	if err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if _, err := s.Create(t.Context(), 700, "recv", 5*time.Minute); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := s.Create(t.Context(), 700, "recv", 5*time.Minute); !errors.Is(err, store.ErrCapacity) {
		t.Errorf("wanted ErrCapacity, got: %v", err)
	}
}

func TestMaxPendingFreesAfterExpiry(t *testing.T) {
	s, err := (factory{}).Build(t.Context(), json.RawMessage(`{"max_pending": 1}`))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Create(t.Context(), 700, "recv", 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	time.Sleep(150 * time.Millisecond)

	if _, err := s.Create(t.Context(), 700, "recv", 5*time.Minute); err != nil {
		t.Errorf("expired challenge still counts against capacity: %v", err)
	}
}

func TestBadConfig(t *testing.T) {
	if err := (factory{}).Valid(json.RawMessage(`{"max_pending": -1}`)); err == nil {
		t.Error("negative max_pending should not validate")
	}
}
