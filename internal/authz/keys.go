package authz

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrieverd/internal/store"
)

// keyPrefix marks retrieverd actor keys so they are recognizable in
// config files and secret scanners.
const keyPrefix = "rk_"

// hashKey derives the stored credential hash from a plaintext key.
// One-way: the plaintext is never persisted.
func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// GenerateActorKey issues a new credential for an actor.
//
// The plaintext key is returned exactly once in the IssuedKey and cannot
// be retrieved again; only its hash is stored. A nil expiresAt issues a
// non-expiring key.
func (g *Gate) GenerateActorKey(ctx context.Context, actorID int64, name string, scopes []string, expiresAt *time.Time) (*IssuedKey, error) {
	if name == "" {
		return nil, ErrEmptyKeyName
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating key material: %w", err)
	}
	plaintext := keyPrefix + hex.EncodeToString(raw)

	cred := &store.Credential{
		ActorID:   actorID,
		KeyHash:   hashKey(plaintext),
		Name:      name,
		Scopes:    scopes,
		Active:    true,
		ExpiresAt: expiresAt,
	}
	if err := g.db.CreateCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("storing credential: %w", err)
	}

	g.logger.Info("actor key issued",
		zap.String("key_id", cred.ID),
		zap.Int64("actor_id", actorID),
		zap.String("name", name),
		zap.Strings("scopes", scopes))

	return &IssuedKey{
		ID:        cred.ID,
		ActorID:   actorID,
		Name:      name,
		Plaintext: plaintext,
		Scopes:    cred.Scopes,
		ExpiresAt: cred.ExpiresAt,
		CreatedAt: cred.CreatedAt,
	}, nil
}

// ValidateActorKey resolves a presented plaintext key to its credential.
//
// Returns ErrKeyNotFound when no active credential matches the hash and
// ErrKeyExpired when the matching credential is past its expiry.
func (g *Gate) ValidateActorKey(ctx context.Context, plaintext string) (*store.Credential, error) {
	if plaintext == "" {
		return nil, ErrEmptyKey
	}

	cred, err := g.db.GetCredentialByHash(ctx, hashKey(plaintext))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up credential: %w", err)
	}

	if !cred.Active {
		return nil, ErrKeyNotFound
	}
	if cred.ExpiresAt != nil && !cred.ExpiresAt.After(time.Now()) {
		return nil, ErrKeyExpired
	}
	return cred, nil
}

// RevokeActorKey deactivates a credential. The row is kept so the audit
// trail of who could have accessed what, when, stays intact.
func (g *Gate) RevokeActorKey(ctx context.Context, keyID string) error {
	if err := g.db.RevokeCredential(ctx, keyID); err != nil {
		return fmt.Errorf("revoking key: %w", err)
	}
	g.logger.Info("actor key revoked", zap.String("key_id", keyID))
	return nil
}

// ActorKeys lists the credential metadata for an actor. Hashes are present
// on the returned records but excluded from their JSON form.
func (g *Gate) ActorKeys(ctx context.Context, actorID int64) ([]store.Credential, error) {
	return g.db.ListCredentials(ctx, actorID)
}
