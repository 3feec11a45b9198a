package authz

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGenerateActorKey tests key issuance and the returned plaintext.
func TestGenerateActorKey(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	key, err := gate.GenerateActorKey(ctx, 1, "ci", []string{"project:demo"}, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, key.ID)
	assert.Equal(t, int64(1), key.ActorID)
	assert.Equal(t, "ci", key.Name)
	assert.Equal(t, []string{"project:demo"}, key.Scopes)
	assert.Nil(t, key.ExpiresAt)
	assert.True(t, strings.HasPrefix(key.Plaintext, "rk_"))
	// 32 random bytes hex-encoded after the prefix.
	assert.Len(t, key.Plaintext, len("rk_")+64)
}

// TestGenerateActorKey_EmptyName tests the name guard.
func TestGenerateActorKey_EmptyName(t *testing.T) {
	gate, _ := newTestGate(t)

	_, err := gate.GenerateActorKey(context.Background(), 1, "", nil, nil)
	assert.ErrorIs(t, err, ErrEmptyKeyName)
}

// TestValidateActorKey tests plaintext resolution to the credential.
func TestValidateActorKey(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	key, err := gate.GenerateActorKey(ctx, 7, "ci", []string{"a", "b"}, nil)
	require.NoError(t, err)

	cred, err := gate.ValidateActorKey(ctx, key.Plaintext)
	require.NoError(t, err)
	assert.Equal(t, key.ID, cred.ID)
	assert.Equal(t, int64(7), cred.ActorID)
	assert.Equal(t, []string{"a", "b"}, cred.Scopes)
}

// TestValidateActorKey_Unknown tests rejection of unknown keys.
func TestValidateActorKey_Unknown(t *testing.T) {
	gate, _ := newTestGate(t)

	_, err := gate.ValidateActorKey(context.Background(), "rk_doesnotexist")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

// TestValidateActorKey_Empty tests the empty-key guard.
func TestValidateActorKey_Empty(t *testing.T) {
	gate, _ := newTestGate(t)

	_, err := gate.ValidateActorKey(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

// TestValidateActorKey_Revoked tests that revoked keys stop validating.
func TestValidateActorKey_Revoked(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	key, err := gate.GenerateActorKey(ctx, 1, "ci", nil, nil)
	require.NoError(t, err)

	require.NoError(t, gate.RevokeActorKey(ctx, key.ID))

	_, err = gate.ValidateActorKey(ctx, key.Plaintext)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

// TestValidateActorKey_Expired tests expiry enforcement.
func TestValidateActorKey_Expired(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	key, err := gate.GenerateActorKey(ctx, 1, "temp", nil, &past)
	require.NoError(t, err)

	_, err = gate.ValidateActorKey(ctx, key.Plaintext)
	assert.ErrorIs(t, err, ErrKeyExpired)
}

// TestActorKeys tests credential listing without hash leakage.
func TestActorKeys(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	_, err := gate.GenerateActorKey(ctx, 1, "first", nil, nil)
	require.NoError(t, err)
	_, err = gate.GenerateActorKey(ctx, 1, "second", nil, nil)
	require.NoError(t, err)
	_, err = gate.GenerateActorKey(ctx, 2, "other", nil, nil)
	require.NoError(t, err)

	keys, err := gate.ActorKeys(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

// TestHashKey tests that hashing is deterministic and one-way distinct.
func TestHashKey(t *testing.T) {
	assert.Equal(t, hashKey("rk_abc"), hashKey("rk_abc"))
	assert.NotEqual(t, hashKey("rk_abc"), hashKey("rk_abd"))
	assert.Len(t, hashKey("anything"), 64)
}
