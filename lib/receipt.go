package lib

import (
	"crypto/ed25519"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tollgatehq/tollgate/lib/challenge"
)

// receiptValidity is how long a signed receipt stays verifiable. Receipts
// exist so upstreams can check a grant offline; they do not grant access to
// anything by themselves.
const receiptValidity = 24 * time.Hour

func (s *Server) signReceipt(ch challenge.Challenge) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"sub":             ch.Reference,
		"receiver":        ch.Receiver,
		"amount_lamports": ch.AmountLamports,
		"tx_signature":    ch.TransactionID,
		"iat":             now.Unix(),
		"nbf":             now.Add(-1 * time.Minute).Unix(),
		"exp":             now.Add(receiptValidity).Unix(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.priv)
}

// ReceiptPublicKey returns the key receipts are verified against.
func (s *Server) ReceiptPublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}
