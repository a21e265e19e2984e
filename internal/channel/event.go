// Package channel provides the per-match duplex message bus between
// exactly two participants: presence detection, commit broadcast, reveal
// broadcast, and round-advance signaling.
package channel

// EventKind enumerates the message types carried by a match channel.
type EventKind string

const (
	// KindPresence reports a membership change (Joined true/false).
	KindPresence EventKind = "presence"
	// KindCommit carries a sealed move commitment for a round.
	KindCommit EventKind = "commit"
	// KindReveal carries the clear move and nonce after both commitments
	// exist.
	KindReveal EventKind = "reveal"
	// KindAdvance requests lockstep advancement to the next round.
	KindAdvance EventKind = "advance"
)

// Event is one message observed on a match channel. Messages from a
// single sender are delivered in send order; nothing is guaranteed
// across senders.
type Event struct {
	Kind EventKind `json:"kind"`
	From string    `json:"from"`

	// Round the event refers to. Events for the wrong round are safe to
	// ignore; handlers must also tolerate duplicates.
	Round int `json:"round,omitempty"`

	// Commitment is hex(sha256(move|nonce)), set on KindCommit.
	Commitment string `json:"commitment,omitempty"`

	// Move and Nonce are set on KindReveal only, never before both
	// parties' commitments for the round have been exchanged.
	Move  string `json:"move,omitempty"`
	Nonce string `json:"nonce,omitempty"`

	// Joined is set on KindPresence.
	Joined bool `json:"joined,omitempty"`
}
