// Command tollgate-client fetches a payment-gated resource, paying for it
// from a local wallet when the server demands payment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/facebookgo/flagenv"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	_ "github.com/joho/godotenv/autoload"

	"github.com/tollgatehq/tollgate"
	"github.com/tollgatehq/tollgate/internal"
	"github.com/tollgatehq/tollgate/lib/client"
	"github.com/tollgatehq/tollgate/lib/client/solanapay"
)

var (
	confirmTimeout  = flag.Duration("confirm-timeout", 60*time.Second, "how long to wait for payment confirmation")
	pollInterval    = flag.Duration("poll-interval", 2*time.Second, "how often to poll for payment confirmation")
	rpcURL          = flag.String("rpc-url", "https://api.devnet.solana.com", "Solana RPC endpoint used to pay")
	slogLevel       = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	url             = flag.String("url", "http://localhost:8402/", "URL of the payment-gated resource")
	versionFlag     = flag.Bool("version", false, "print Tollgate version")
	walletKeyBase58 = flag.String("client-wallet-private-key-base58", "", "base58-encoded private key of the paying wallet")
	walletKeyFile   = flag.String("client-wallet-private-key-file", "", "file name containing value for client-wallet-private-key-base58")
)

func loadWallet() (solanago.PrivateKey, error) {
	switch {
	case *walletKeyBase58 != "" && *walletKeyFile != "":
		return nil, errors.New("do not specify both CLIENT_WALLET_PRIVATE_KEY_BASE58 and CLIENT_WALLET_PRIVATE_KEY_FILE")
	case *walletKeyBase58 != "":
		return solanago.PrivateKeyFromBase58(*walletKeyBase58)
	case *walletKeyFile != "":
		return solanago.PrivateKeyFromSolanaKeygenFile(*walletKeyFile)
	default:
		return nil, errors.New("a wallet is required, set CLIENT_WALLET_PRIVATE_KEY_BASE58 or CLIENT_WALLET_PRIVATE_KEY_FILE")
	}
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("Tollgate", tollgate.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	wallet, err := loadWallet()
	if err != nil {
		log.Fatalf("can't load wallet: %v", err)
	}

	ctx := context.Background()

	cluster := rpc.New(*rpcURL)

	balance, err := cluster.GetBalance(ctx, wallet.PublicKey(), rpc.CommitmentConfirmed)
	if err != nil {
		log.Fatalf("can't fetch wallet balance: %v", err)
	}

	slog.Info("paying from wallet",
		"wallet", wallet.PublicKey(),
		"balance_sol", float64(balance.Value)/float64(tollgate.LamportsPerSOL),
		"rpc-url", *rpcURL,
	)

	sub := solanapay.NewWithClient(cluster, wallet)
	sub.PollInterval = *pollInterval
	sub.ConfirmTimeout = *confirmTimeout

	d := &client.Driver{
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		Submitter: sub,
	}

	body, err := d.Fetch(ctx, *url)
	if err != nil {
		var de *client.DenialError
		if errors.As(err, &de) && de.Retryable() {
			log.Fatalf("payment sent but not yet verified, retry later: %v", err)
		}
		log.Fatalf("can't fetch %s: %v", *url, err)
	}

	os.Stdout.Write(body)
	fmt.Println()
}
