// Package authz implements the authorization gate for resource access.
//
// Every resource exposure runs through CheckResourceAccess before ranking;
// the gate is not a cache, since credentials can be revoked between calls.
// Each decision (except the missing-resource branch) appends one entry to
// the audit log.
package authz

import (
	"errors"
	"time"
)

// Common errors for credential operations.
var (
	// ErrKeyNotFound is returned when no credential matches the presented
	// key, or the matching credential has been revoked.
	ErrKeyNotFound = errors.New("actor key not found or inactive")

	// ErrKeyExpired is returned when the matching credential is past its
	// expiry.
	ErrKeyExpired = errors.New("actor key expired")

	// ErrEmptyKey is returned when an empty key is presented.
	ErrEmptyKey = errors.New("actor key cannot be empty")

	// ErrEmptyKeyName is returned when issuing a key without a name.
	ErrEmptyKeyName = errors.New("key name cannot be empty")
)

// Decision reasons surfaced to callers and recorded in the audit log.
const (
	ReasonResourceNotFound = "Resource not found"
	ReasonPublicResource   = "Public resource"
	ReasonScopeMatch       = "Actor has required scope"
)

// AccessDecision is the ephemeral result of one authorization check.
// It is derived, never stored, except via the audit entry it produces.
type AccessDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`

	// EvaluatedScopes is the actor's effective scope set at check time.
	EvaluatedScopes []string `json:"evaluated_scopes"`
}

// IssuedKey is the result of key issuance. Plaintext is returned exactly
// once and is never retrievable again.
type IssuedKey struct {
	ID        string     `json:"id"`
	ActorID   int64      `json:"actor_id"`
	Name      string     `json:"name"`
	Plaintext string     `json:"key"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
