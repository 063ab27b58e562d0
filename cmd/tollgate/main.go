package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tollgatehq/tollgate"
	"github.com/tollgatehq/tollgate/internal"
	libtollgate "github.com/tollgatehq/tollgate/lib"
	"github.com/tollgatehq/tollgate/lib/challenge/store"
	_ "github.com/tollgatehq/tollgate/lib/challenge/store/all"
	"github.com/tollgatehq/tollgate/lib/ledger/solana"
	"github.com/tollgatehq/tollgate/lib/policy"
)

var (
	amountLamports           = flag.Uint64("amount-lamports", tollgate.DefaultPriceLamports, "default price of a protected resource in lamports")
	bind                     = flag.String("bind", ":8402", "network address to bind HTTP to")
	challengeTTL             = flag.Duration("challenge-ttl", tollgate.DefaultChallengeTTL, "how long an issued challenge stays payable")
	ed25519PrivateKeyHex     = flag.String("ed25519-private-key-hex", "", "private key used to sign receipts, if not set a random one will be assigned")
	ed25519PrivateKeyHexFile = flag.String("ed25519-private-key-hex-file", "", "file name containing value for ed25519-private-key-hex")
	healthcheck              = flag.Bool("healthcheck", false, "run a health check against Tollgate")
	metricsBind              = flag.String("metrics-bind", ":9402", "network address to bind metrics to, set empty to disable")
	network                  = flag.String("network", tollgate.DefaultNetwork, "ledger network name advertised in challenges")
	payload                  = flag.String("payload", "", "JSON document served to paying clients when no target is set")
	policyFname              = flag.String("policy-fname", "", "full path to tollgate price policy document (defaults to a flat price from flags)")
	receiverWallet           = flag.String("receiver-wallet", "", "Solana address payments must be sent to")
	rpcURL                   = flag.String("rpc-url", "https://api.devnet.solana.com", "Solana RPC endpoint used to verify payments")
	slogLevel                = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	storeBackend             = flag.String("store-backend", "memory", "challenge storage backend (see --help for the full list)")
	storeConfig              = flag.String("store-config", "", "JSON configuration for the challenge storage backend")
	target                   = flag.String("target", "", "target to reverse proxy paid requests to, set to an empty string to serve the payload directly")
	versionFlag              = flag.Bool("version", false, "print Tollgate version")
)

func keyFromHex(value string) (ed25519.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("supplied key is not hex-encoded: %w", err)
	}

	if len(keyBytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("supplied key is not %d bytes long, got %d bytes", ed25519.SeedSize, len(keyBytes))
	}

	return ed25519.NewKeyFromSeed(keyBytes), nil
}

func doHealthCheck() error {
	resp, err := http.Get("http://localhost" + *bind + tollgate.APIPrefix + "healthz")
	if err != nil {
		return fmt.Errorf("failed to fetch healthz: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

func setupListener(address string) (net.Listener, string) {
	formattedAddress := "http://" + address
	if strings.HasPrefix(address, ":") { // assume it's just a port e.g. :8402
		formattedAddress = "http://localhost" + address
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to bind to %s: %w", formattedAddress, err))
	}

	return listener, formattedAddress
}

func makeReverseProxy(target string) (http.Handler, error) {
	targetUri, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("failed to parse target URL: %w", err)
	}

	rp := httputil.NewSingleHostReverseProxy(targetUri)
	rp.Transport = http.DefaultTransport.(*http.Transport).Clone()

	return rp, nil
}

func buildStore(ctx context.Context) (store.Interface, error) {
	factory, ok := store.Get(*storeBackend)
	if !ok {
		return nil, fmt.Errorf("unknown store backend %q, must be one of: %s", *storeBackend, strings.Join(store.Methods(), ", "))
	}

	config := json.RawMessage(*storeConfig)
	if *storeConfig == "" {
		config = json.RawMessage("{}")
	}

	if err := factory.Valid(config); err != nil {
		return nil, fmt.Errorf("invalid store config for backend %q: %w", *storeBackend, err)
	}

	return factory.Build(ctx, config)
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("Tollgate", tollgate.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	if *healthcheck {
		log.Println("running healthcheck")
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	var rp http.Handler
	if strings.TrimSpace(*target) != "" {
		var err error
		rp, err = makeReverseProxy(*target)
		if err != nil {
			log.Fatalf("can't make reverse proxy: %v", err)
		}
	}

	prices, err := policy.LoadOrDefault(*policyFname, policy.Resource{
		AmountLamports: *amountLamports,
		Receiver:       *receiverWallet,
		TTL:            *challengeTTL,
	})
	if err != nil {
		log.Fatalf("can't load price policy: %v", err)
	}

	var ed25519Priv ed25519.PrivateKey
	if *ed25519PrivateKeyHex != "" && *ed25519PrivateKeyHexFile != "" {
		log.Fatal("do not specify both ED25519_PRIVATE_KEY_HEX and ED25519_PRIVATE_KEY_HEX_FILE")
	} else if *ed25519PrivateKeyHex != "" {
		ed25519Priv, err = keyFromHex(*ed25519PrivateKeyHex)
		if err != nil {
			log.Fatalf("failed to parse and validate ED25519_PRIVATE_KEY_HEX: %v", err)
		}
	} else if *ed25519PrivateKeyHexFile != "" {
		hexFile, err := os.ReadFile(*ed25519PrivateKeyHexFile)
		if err != nil {
			log.Fatalf("failed to read ED25519_PRIVATE_KEY_HEX_FILE %s: %v", *ed25519PrivateKeyHexFile, err)
		}

		ed25519Priv, err = keyFromHex(string(bytes.TrimSpace(hexFile)))
		if err != nil {
			log.Fatalf("failed to parse and validate content of ED25519_PRIVATE_KEY_HEX_FILE: %v", err)
		}
	} else {
		slog.Warn("generating random receipt key, receipts will not verify across restarts or between multiple instances")
	}

	var payloadDoc json.RawMessage
	if *payload != "" {
		if !json.Valid([]byte(*payload)) {
			log.Fatalf("PAYLOAD is not valid JSON")
		}
		payloadDoc = json.RawMessage(*payload)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	challengeStore, err := buildStore(ctx)
	if err != nil {
		log.Fatalf("can't build challenge store: %v", err)
	}

	s, err := libtollgate.New(libtollgate.Options{
		Next:              rp,
		Payload:           payloadDoc,
		Policy:            prices,
		Store:             challengeStore,
		Ledger:            solana.New(*rpcURL),
		Network:           *network,
		ED25519PrivateKey: ed25519Priv,
	})
	if err != nil {
		log.Fatalf("can't construct tollgate server: %v", err)
	}

	wg := new(sync.WaitGroup)

	if *metricsBind != "" {
		wg.Add(1)
		go metricsServer(ctx, wg.Done)
	}

	srv := http.Server{Handler: s, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, listenerUrl := setupListener(*bind)
	slog.Info(
		"listening",
		"url", listenerUrl,
		"amount-lamports", *amountLamports,
		"receiver-wallet", *receiverWallet,
		"network", *network,
		"rpc-url", *rpcURL,
		"store-backend", *storeBackend,
		"target", *target,
		"version", tollgate.Version,
	)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	wg.Wait()
}

func metricsServer(ctx context.Context, done func()) {
	defer done()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := http.Server{Handler: mux, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, metricsUrl := setupListener(*metricsBind)
	slog.Debug("listening for metrics", "url", metricsUrl)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
