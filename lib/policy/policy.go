// Package policy maps protected resources to the payment they require.
//
// This is deliberately a flat table, not a pricing engine: a resource path
// either has its own price entry or falls through to the default.
package policy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"

	"github.com/tollgatehq/tollgate"
)

var (
	ErrNoReceiver  = errors.New("policy: no receiver wallet configured")
	ErrBadReceiver = errors.New("policy: receiver is not a Solana address")
	ErrZeroAmount  = errors.New("policy: amount_lamports must be positive")
	ErrBadTTL      = errors.New("policy: ttl is not a duration")
)

// Resource is the price of one protected resource.
type Resource struct {
	Path           string
	AmountLamports uint64
	Receiver       string
	TTL            time.Duration
}

// ParsedConfig is a validated price policy.
type ParsedConfig struct {
	Resources []Resource
	Default   Resource
}

type fileConfig struct {
	Resources []fileResource `yaml:"resources"`
	Default   *fileResource  `yaml:"default"`
}

type fileResource struct {
	Path           string `yaml:"path"`
	AmountLamports uint64 `yaml:"amount_lamports"`
	Receiver       string `yaml:"receiver"`
	TTL            string `yaml:"ttl"`
}

func (fr fileResource) parse(fallback Resource) (Resource, error) {
	var errs []error

	result := Resource{
		Path:           fr.Path,
		AmountLamports: fr.AmountLamports,
		Receiver:       fr.Receiver,
		TTL:            fallback.TTL,
	}

	if result.AmountLamports == 0 {
		result.AmountLamports = fallback.AmountLamports
	}
	if result.AmountLamports == 0 {
		errs = append(errs, fmt.Errorf("%w: %q", ErrZeroAmount, fr.Path))
	}

	if result.Receiver == "" {
		result.Receiver = fallback.Receiver
	}
	if result.Receiver == "" {
		errs = append(errs, fmt.Errorf("%w: %q", ErrNoReceiver, fr.Path))
	} else if _, err := solana.PublicKeyFromBase58(result.Receiver); err != nil {
		errs = append(errs, fmt.Errorf("%w: %q: %v", ErrBadReceiver, result.Receiver, err))
	}

	if fr.TTL != "" {
		ttl, err := time.ParseDuration(fr.TTL)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %q: %v", ErrBadTTL, fr.TTL, err))
		} else {
			result.TTL = ttl
		}
	}

	if len(errs) != 0 {
		return Resource{}, errors.Join(errs...)
	}

	return result, nil
}

// Parse reads and validates a price policy. Entries inherit unset fields
// from the default, which in turn inherits from fallback (normally built
// from command line flags).
func Parse(fin io.Reader, fallback Resource) (*ParsedConfig, error) {
	var fc fileConfig

	d := yaml.NewDecoder(fin)
	d.KnownFields(true)
	if err := d.Decode(&fc); err != nil {
		return nil, fmt.Errorf("policy: can't parse config: %w", err)
	}

	def := fallback
	if fc.Default != nil {
		var err error
		def, err = fc.Default.parse(fallback)
		if err != nil {
			return nil, err
		}
	}

	result := &ParsedConfig{Default: def}

	var errs []error
	for _, fr := range fc.Resources {
		res, err := fr.parse(def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result.Resources = append(result.Resources, res)
	}

	if len(errs) != 0 {
		return nil, fmt.Errorf("policy: invalid config: %w", errors.Join(errs...))
	}

	return result, nil
}

// Static builds a single-price policy out of the given default, for setups
// without a policy file.
func Static(def Resource) (*ParsedConfig, error) {
	if def.TTL == 0 {
		def.TTL = tollgate.DefaultChallengeTTL
	}

	parsed, err := fileResource{
		AmountLamports: def.AmountLamports,
		Receiver:       def.Receiver,
	}.parse(Resource{TTL: def.TTL})
	if err != nil {
		return nil, err
	}

	return &ParsedConfig{Default: parsed}, nil
}

// LoadOrDefault parses the policy file if one is named, and otherwise
// returns the static policy built from def.
func LoadOrDefault(fname string, def Resource) (*ParsedConfig, error) {
	if fname == "" {
		return Static(def)
	}

	fin, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("policy: can't open policy file %s: %w", fname, err)
	}
	defer func() {
		if err := fin.Close(); err != nil {
			slog.Error("failed to close policy file", "file", fname, "err", err)
		}
	}()

	if def.TTL == 0 {
		def.TTL = tollgate.DefaultChallengeTTL
	}

	return Parse(fin, def)
}

// For returns the price entry for a resource path, falling back to the
// default when no entry matches.
func (c *ParsedConfig) For(path string) Resource {
	for _, res := range c.Resources {
		if res.Path == path {
			return res
		}
	}

	return c.Default
}
