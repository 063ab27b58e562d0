// Package memory provides a simple in-memory challenge store. This will not
// scale to multiple Tollgate instances; use the valkey backend for that.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tollgatehq/tollgate/lib/challenge"
	"github.com/tollgatehq/tollgate/lib/challenge/store"
)

// spentRetention is how long a transaction id is remembered after it
// fulfilled a challenge. It only needs to outlive every challenge the
// transaction could conceivably be replayed against.
const spentRetention = 24 * time.Hour

type factory struct{}

func (factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	var config Config
	if len(data) > 0 {
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
		}
	}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return New(ctx, config), nil
}

func (factory) Valid(data json.RawMessage) error {
	var config Config
	if len(data) > 0 {
		if err := json.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
		}
	}

	return config.Valid()
}

func init() {
	store.Register("memory", factory{})
}

// Config is the memory store configuration.
type Config struct {
	// MaxPending caps the number of outstanding challenges. Zero means
	// unlimited.
	MaxPending int `json:"max_pending"`
}

func (c Config) Valid() error {
	if c.MaxPending < 0 {
		return fmt.Errorf("%w: max_pending must not be negative", store.ErrBadConfig)
	}

	return nil
}

type spentEntry struct {
	reference string
	expires   time.Time
}

type impl struct {
	mu         sync.Mutex
	challenges map[string]challenge.Challenge
	spent      map[string]spentEntry
	maxPending int
}

// New creates an in-memory challenge store. The context bounds the lifetime
// of its background cleanup goroutine.
func New(ctx context.Context, config Config) store.Interface {
	result := &impl{
		challenges: map[string]challenge.Challenge{},
		spent:      map[string]spentEntry{},
		maxPending: config.MaxPending,
	}

	go result.cleanupThread(ctx)

	return result
}

func (i *impl) Create(_ context.Context, amountLamports uint64, receiver string, ttl time.Duration) (challenge.Challenge, error) {
	now := time.Now()

	i.mu.Lock()
	defer i.mu.Unlock()

	i.reapLocked(now)

	if i.maxPending > 0 {
		pending := 0
		for _, ch := range i.challenges {
			if ch.Status == challenge.StatusPending {
				pending++
			}
		}
		if pending >= i.maxPending {
			return challenge.Challenge{}, fmt.Errorf("%w: %d pending", store.ErrCapacity, pending)
		}
	}

	reference := challenge.NewReference()
	for {
		if _, taken := i.challenges[reference]; !taken {
			break
		}
		reference = challenge.NewReference()
	}

	ch := challenge.Challenge{
		Reference:      reference,
		Receiver:       receiver,
		AmountLamports: amountLamports,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		Status:         challenge.StatusPending,
	}

	i.challenges[reference] = ch

	return ch, nil
}

func (i *impl) Lookup(_ context.Context, reference string) (challenge.Challenge, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	ch, ok := i.challenges[reference]
	if !ok {
		return challenge.Challenge{}, fmt.Errorf("%w: %q", store.ErrNotFound, reference)
	}

	if ch.Expired(time.Now()) {
		delete(i.challenges, reference)
		return challenge.Challenge{}, fmt.Errorf("%w: %q", store.ErrNotFound, reference)
	}

	return ch, nil
}

func (i *impl) MarkFulfilled(_ context.Context, reference, txID string) error {
	now := time.Now()

	i.mu.Lock()
	defer i.mu.Unlock()

	ch, ok := i.challenges[reference]
	if !ok {
		return fmt.Errorf("%w: %q", store.ErrNotFound, reference)
	}

	if ch.Expired(now) {
		delete(i.challenges, reference)
		return fmt.Errorf("%w: %q", store.ErrNotFound, reference)
	}

	if ch.Status != challenge.StatusPending {
		return fmt.Errorf("%w: %q", store.ErrAlreadyFulfilled, reference)
	}

	if prior, taken := i.spent[txID]; taken && prior.reference != reference {
		return fmt.Errorf("%w: %q", store.ErrTransactionReplayed, txID)
	}

	ch.Status = challenge.StatusFulfilled
	ch.TransactionID = txID
	i.challenges[reference] = ch
	i.spent[txID] = spentEntry{reference: reference, expires: now.Add(spentRetention)}

	return nil
}

func (i *impl) reapLocked(now time.Time) {
	for reference, ch := range i.challenges {
		if ch.Expired(now) {
			delete(i.challenges, reference)
		}
	}

	for txID, entry := range i.spent {
		if now.After(entry.expires) {
			delete(i.spent, txID)
		}
	}
}

func (i *impl) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			i.mu.Lock()
			i.reapLocked(time.Now())
			i.mu.Unlock()
		}
	}
}
