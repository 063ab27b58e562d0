package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/tollgatehq/tollgate/lib/challenge"
	"github.com/tollgatehq/tollgate/lib/challenge/store"
)

var (
	bucketChallenges = []byte("challenges")
	bucketSpent      = []byte("spent")
)

const spentRetention = 24 * time.Hour

// Store implements store.Interface backed by bbolt[1].
//
// Challenges live in the "challenges" bucket as one sub-bucket per reference
// with two keys:
//
//  1. data - the challenge record as JSON
//  2. expiry - the expiry time as a time.RFC3339Nano timestamp string
//
// Keeping the expiry outside the JSON lets the cleanup phase scan timestamps
// without decoding whole records. Spent transaction ids live in the "spent"
// bucket as txID -> JSON {reference, expiry}.
//
// bbolt serializes all writes through a single Update transaction, which is
// what makes MarkFulfilled a single-winner operation here.
//
// bbolt is not suitable for environments where multiple Tollgate instances
// need to share a backend store. For that, use the valkey backend.
//
// [1]: https://github.com/etcd-io/bbolt
type Store struct {
	bdb *bbolt.DB
}

type spentRecord struct {
	Reference string    `json:"reference"`
	Expires   time.Time `json:"expires"`
}

func (s *Store) Create(ctx context.Context, amountLamports uint64, receiver string, ttl time.Duration) (challenge.Challenge, error) {
	now := time.Now()

	ch := challenge.Challenge{
		Receiver:       receiver,
		AmountLamports: amountLamports,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		Status:         challenge.StatusPending,
	}

	err := s.bdb.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(bucketChallenges)
		if err != nil {
			return fmt.Errorf("can't create challenges bucket: %w", err)
		}

		ch.Reference = challenge.NewReference()
		for root.Bucket([]byte(ch.Reference)) != nil {
			ch.Reference = challenge.NewReference()
		}

		itemBucket, err := root.CreateBucket([]byte(ch.Reference))
		if err != nil {
			return fmt.Errorf("can't create bucket for %q: %w", ch.Reference, err)
		}

		data, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("can't encode challenge %q: %w", ch.Reference, err)
		}

		if err := itemBucket.Put([]byte("expiry"), []byte(ch.ExpiresAt.Format(time.RFC3339Nano))); err != nil {
			return fmt.Errorf("can't store expiry for %q: %w", ch.Reference, err)
		}

		return itemBucket.Put([]byte("data"), data)
	})
	if err != nil {
		return challenge.Challenge{}, err
	}

	return ch, nil
}

func (s *Store) Lookup(ctx context.Context, reference string) (challenge.Challenge, error) {
	var ch challenge.Challenge

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		var err error
		ch, err = getChallenge(tx, reference)
		return err
	}); err != nil {
		return challenge.Challenge{}, err
	}

	if ch.Expired(time.Now()) {
		go s.deleteChallenge(context.Background(), reference)
		return challenge.Challenge{}, fmt.Errorf("%w: %q", store.ErrNotFound, reference)
	}

	return ch, nil
}

func (s *Store) MarkFulfilled(ctx context.Context, reference, txID string) error {
	now := time.Now()

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		ch, err := getChallenge(tx, reference)
		if err != nil {
			return err
		}

		if ch.Expired(now) {
			return fmt.Errorf("%w: %q", store.ErrNotFound, reference)
		}

		if ch.Status != challenge.StatusPending {
			return fmt.Errorf("%w: %q", store.ErrAlreadyFulfilled, reference)
		}

		spent, err := tx.CreateBucketIfNotExists(bucketSpent)
		if err != nil {
			return fmt.Errorf("can't create spent bucket: %w", err)
		}

		if prior := spent.Get([]byte(txID)); prior != nil {
			var rec spentRecord
			if err := json.Unmarshal(prior, &rec); err != nil {
				return fmt.Errorf("[unexpected] can't decode spent record for %q: %w", txID, err)
			}
			if rec.Reference != reference {
				return fmt.Errorf("%w: %q", store.ErrTransactionReplayed, txID)
			}
		}

		ch.Status = challenge.StatusFulfilled
		ch.TransactionID = txID

		data, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("can't encode challenge %q: %w", reference, err)
		}

		itemBucket := tx.Bucket(bucketChallenges).Bucket([]byte(reference))
		if err := itemBucket.Put([]byte("data"), data); err != nil {
			return fmt.Errorf("can't store challenge %q: %w", reference, err)
		}

		rec, err := json.Marshal(spentRecord{Reference: reference, Expires: now.Add(spentRetention)})
		if err != nil {
			return fmt.Errorf("can't encode spent record for %q: %w", txID, err)
		}

		return spent.Put([]byte(txID), rec)
	})
}

func getChallenge(tx *bbolt.Tx, reference string) (challenge.Challenge, error) {
	var ch challenge.Challenge

	root := tx.Bucket(bucketChallenges)
	if root == nil {
		return ch, fmt.Errorf("%w: %q", store.ErrNotFound, reference)
	}

	itemBucket := root.Bucket([]byte(reference))
	if itemBucket == nil {
		return ch, fmt.Errorf("%w: %q", store.ErrNotFound, reference)
	}

	data := itemBucket.Get([]byte("data"))
	if data == nil {
		return ch, fmt.Errorf("[unexpected] %w: %q (data is nil)", store.ErrNotFound, reference)
	}

	if err := json.Unmarshal(data, &ch); err != nil {
		return ch, fmt.Errorf("can't decode challenge %q: %w", reference, err)
	}

	return ch, nil
}

func (s *Store) deleteChallenge(ctx context.Context, reference string) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketChallenges)
		if root == nil || root.Bucket([]byte(reference)) == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, reference)
		}

		return root.DeleteBucket([]byte(reference))
	})
}

func (s *Store) cleanup(ctx context.Context) error {
	now := time.Now()

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		if root := tx.Bucket(bucketChallenges); root != nil {
			var stale [][]byte

			if err := root.ForEachBucket(func(key []byte) error {
				expiryStr := root.Bucket(key).Get([]byte("expiry"))
				if expiryStr == nil {
					slog.Warn("while running cleanup, expiry is not set somehow, file a bug?", "key", string(key))
					return nil
				}

				expiry, err := time.Parse(time.RFC3339Nano, string(expiryStr))
				if err != nil {
					return fmt.Errorf("[unexpected] can't decode expiry in bucket %q: %w", string(key), err)
				}

				if now.After(expiry) {
					stale = append(stale, key)
				}

				return nil
			}); err != nil {
				return err
			}

			for _, key := range stale {
				if err := root.DeleteBucket(key); err != nil {
					return err
				}
			}
		}

		if spent := tx.Bucket(bucketSpent); spent != nil {
			var stale [][]byte

			if err := spent.ForEach(func(key, value []byte) error {
				var rec spentRecord
				if err := json.Unmarshal(value, &rec); err != nil {
					return fmt.Errorf("[unexpected] can't decode spent record %q: %w", string(key), err)
				}

				if now.After(rec.Expires) {
					stale = append(stale, key)
				}

				return nil
			}); err != nil {
				return err
			}

			for _, key := range stale {
				if err := spent.Delete(key); err != nil {
					return err
				}
			}
		}

		return nil
	})
}

func (s *Store) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.cleanup(ctx); err != nil {
				slog.Error("error during bbolt cleanup", "err", err)
			}
		}
	}
}
