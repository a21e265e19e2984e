// Package identity issues the opaque per-session client identities used
// for pairing and match channels. A client identity is not a wallet
// identity; a wallet may be attached later for payout bookkeeping.
package identity

import (
	"github.com/google/uuid"
)

// Scope controls how long a client is expected to keep its identity.
const (
	// ScopeTab identities live for one connection (one browser tab).
	ScopeTab = "tab"
	// ScopeDevice identities are persisted by the client across sessions.
	ScopeDevice = "device"
)

// Issuer resolves or mints client identities. Resolution rules, in order:
// an explicit well-formed id supplied by the client is used as-is (handy
// for testing two tabs against each other), anything else gets a fresh
// uuid. An identity is immutable once issued.
type Issuer struct {
	scope string
}

// NewIssuer creates an Issuer with the given scope. An unknown scope
// falls back to ScopeTab.
func NewIssuer(scope string) *Issuer {
	if scope != ScopeDevice {
		scope = ScopeTab
	}
	return &Issuer{scope: scope}
}

// Scope returns the configured identity scope.
func (i *Issuer) Scope() string {
	return i.scope
}

// Resolve returns the client identity for a connection. If requested is
// a well-formed uuid it is adopted unchanged, otherwise a new identity
// is minted. The second return reports whether a new identity was minted.
func (i *Issuer) Resolve(requested string) (string, bool) {
	if requested != "" {
		if _, err := uuid.Parse(requested); err == nil {
			return requested, false
		}
	}
	return uuid.NewString(), true
}
