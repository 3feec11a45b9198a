package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Credential is a hashed actor key with its scope set.
//
// The plaintext key is never persisted; only the one-way hash is stored.
// Revocation flips Active to false so audit history stays attributable.
type Credential struct {
	ID        string     `json:"id"`
	ActorID   int64      `json:"actor_id"`
	KeyHash   string     `json:"-"`
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Valid reports whether the credential is active and unexpired.
func (c *Credential) Valid(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return false
	}
	return true
}

const credentialColumns = `id, actor_id, key_hash, name, scopes, active, expires_at, created_at`

// CreateCredential inserts a new actor credential. A missing ID is generated.
func (db *DB) CreateCredential(ctx context.Context, c *Credential) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	scopes, err := json.Marshal(emptyIfNil(c.Scopes))
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	var expiresAt any
	if c.ExpiresAt != nil {
		expiresAt = c.ExpiresAt.UnixMilli()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO actor_credentials (id, actor_id, key_hash, name, scopes, active, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ActorID, c.KeyHash, c.Name, string(scopes),
		boolToInt(c.Active), expiresAt, c.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

// GetCredentialByHash looks up a credential by its key hash, or ErrNotFound.
func (db *DB) GetCredentialByHash(ctx context.Context, keyHash string) (*Credential, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM actor_credentials WHERE key_hash = ?
	`, keyHash)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("credential: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential by hash: %w", err)
	}
	return c, nil
}

// GetCredential returns a credential by ID, or ErrNotFound.
func (db *DB) GetCredential(ctx context.Context, id string) (*Credential, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM actor_credentials WHERE id = ?
	`, id)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("credential %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

// ListCredentials returns all credentials for an actor, newest first.
func (db *DB) ListCredentials(ctx context.Context, actorID int64) ([]Credential, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+credentialColumns+` FROM actor_credentials
		WHERE actor_id = ? ORDER BY created_at DESC
	`, actorID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, *c)
	}
	return creds, rows.Err()
}

// RevokeCredential deactivates a credential. The row is never deleted so
// audit history remains attributable. Returns ErrNotFound for unknown IDs.
func (db *DB) RevokeCredential(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE actor_credentials SET active = 0 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credential %s: %w", id, ErrNotFound)
	}
	return nil
}

// ActorScopes returns the union of scopes across the actor's currently
// valid (active, unexpired) credentials.
func (db *DB) ActorScopes(ctx context.Context, actorID int64) ([]string, error) {
	creds, err := db.ListCredentials(ctx, actorID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	seen := make(map[string]bool)
	var scopes []string
	for _, c := range creds {
		if !c.Valid(now) {
			continue
		}
		for _, s := range c.Scopes {
			if !seen[s] {
				seen[s] = true
				scopes = append(scopes, s)
			}
		}
	}
	return scopes, nil
}

func scanCredential(row rowScanner) (*Credential, error) {
	var c Credential
	var scopes string
	var active int
	var expiresAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&c.ID, &c.ActorID, &c.KeyHash, &c.Name, &scopes,
		&active, &expiresAt, &createdAt)
	if err != nil {
		return nil, err
	}

	c.Active = active != 0
	c.CreatedAt = time.UnixMilli(createdAt)
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64)
		c.ExpiresAt = &t
	}
	if err := json.Unmarshal([]byte(scopes), &c.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
