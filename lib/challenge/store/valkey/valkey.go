package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	valkey "github.com/redis/go-redis/v9"

	"github.com/tollgatehq/tollgate/lib/challenge"
	"github.com/tollgatehq/tollgate/lib/challenge/store"
)

const (
	challengePrefix = "tollgate:challenge:"
	spentPrefix     = "tollgate:spent:"

	spentRetention = 24 * time.Hour
)

// fulfillScript is the Pending to Fulfilled compare-and-swap. Valkey runs
// scripts atomically, so exactly one racing verifier observes status ==
// pending; everyone else sees the terminal state. KEYS[1] is the challenge
// key, KEYS[2] the spent-transaction key, ARGV[1] the reference, ARGV[2] the
// transaction id and ARGV[3] the retention of the spent marker in seconds.
var fulfillScript = valkey.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return 'not_found'
end
local ch = cjson.decode(data)
if ch['status'] ~= 'pending' then
  return 'already_fulfilled'
end
local prior = redis.call('GET', KEYS[2])
if prior and prior ~= ARGV[1] then
  return 'replayed'
end
ch['status'] = 'fulfilled'
ch['transactionId'] = ARGV[2]
redis.call('SET', KEYS[1], cjson.encode(ch), 'KEEPTTL')
redis.call('SET', KEYS[2], ARGV[1], 'EX', ARGV[3])
return 'ok'
`)

type Store struct {
	rdb *valkey.Client
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

	for {
		ch.Reference = challenge.NewReference()

		data, err := json.Marshal(ch)
		if err != nil {
			return challenge.Challenge{}, fmt.Errorf("can't encode challenge %q: %w", ch.Reference, err)
		}

		ok, err := s.rdb.SetNX(ctx, challengePrefix+ch.Reference, data, ttl).Result()
		if err != nil {
			return challenge.Challenge{}, fmt.Errorf("can't store challenge in valkey: %w", err)
		}

		if ok {
			return ch, nil
		}
	}
}

func (s *Store) Lookup(ctx context.Context, reference string) (challenge.Challenge, error) {
	data, err := s.rdb.Get(ctx, challengePrefix+reference).Result()
	if err != nil {
		if valkey.HasErrorPrefix(err, "redis: nil") {
			return challenge.Challenge{}, fmt.Errorf("%w: %q", store.ErrNotFound, reference)
		}

		return challenge.Challenge{}, fmt.Errorf("can't get challenge from valkey: %w", err)
	}

	var ch challenge.Challenge
	if err := json.Unmarshal([]byte(data), &ch); err != nil {
		return challenge.Challenge{}, fmt.Errorf("can't decode challenge %q: %w", reference, err)
	}

	// The key TTL normally handles expiry; this guards against clock skew
	// between Tollgate and the valkey server.
	if ch.Expired(time.Now()) {
		return challenge.Challenge{}, fmt.Errorf("%w: %q", store.ErrNotFound, reference)
	}

	return ch, nil
}

func (s *Store) MarkFulfilled(ctx context.Context, reference, txID string) error {
	keys := []string{challengePrefix + reference, spentPrefix + txID}

	result, err := fulfillScript.Run(ctx, s.rdb, keys, reference, txID, int(spentRetention.Seconds())).Text()
	if err != nil {
		return fmt.Errorf("can't run fulfill script: %w", err)
	}

	switch result {
	case "ok":
		return nil
	case "not_found":
		return fmt.Errorf("%w: %q", store.ErrNotFound, reference)
	case "already_fulfilled":
		return fmt.Errorf("%w: %q", store.ErrAlreadyFulfilled, reference)
	case "replayed":
		return fmt.Errorf("%w: %q", store.ErrTransactionReplayed, txID)
	default:
		return fmt.Errorf("[unexpected] fulfill script returned %q", result)
	}
}
