package rps

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewNonce draws a fresh random nonce for a round commitment.
func NewNonce() string {
	return uuid.NewString()
}

// Commitment computes the one-way commitment binding a move and a nonce:
// hex(sha256("<move>|<nonce>")). The clear move and nonce must never be
// transmitted before both parties have exchanged commitments.
func Commitment(move Move, nonce string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s", move, nonce)))
	return hex.EncodeToString(sum[:])
}

// VerifyCommitment reports whether a revealed move and nonce hash back
// to the previously broadcast commitment.
func VerifyCommitment(commitment string, move Move, nonce string) bool {
	return Commitment(move, nonce) == commitment
}
