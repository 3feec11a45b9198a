package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrieverd/internal/authz"
	"github.com/fyrsmithlabs/retrieverd/internal/config"
	"github.com/fyrsmithlabs/retrieverd/internal/store"
)

var (
	keyActorID int64
	keyName    string
	keyScopes  []string
	keyExpires string
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage actor keys",
	Long: `Manage actor keys directly against the local store. Use these commands to
bootstrap the first key; after that, keys can also be managed over the HTTP API.`,
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new actor key",
	Long: `Generate a new actor key. The plaintext key is printed once and cannot be
recovered; only its hash is stored.

Examples:
  # A non-expiring key with two scopes
  retrieverd keys generate --actor 1 --name ci --scope project:demo --scope team:search

  # A key that expires at year end
  retrieverd keys generate --actor 2 --name temp --expires 2026-12-31T00:00:00Z`,
	RunE: runKeysGenerate,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys for an actor",
	RunE:  runKeysList,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an actor key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

func init() {
	keysGenerateCmd.Flags().Int64Var(&keyActorID, "actor", 0, "actor ID the key belongs to")
	keysGenerateCmd.Flags().StringVar(&keyName, "name", "", "human-readable key name")
	keysGenerateCmd.Flags().StringArrayVar(&keyScopes, "scope", nil, "scope granted to the key (repeatable)")
	keysGenerateCmd.Flags().StringVar(&keyExpires, "expires", "", "expiry time in RFC 3339 format (omit for non-expiring)")
	_ = keysGenerateCmd.MarkFlagRequired("actor")
	_ = keysGenerateCmd.MarkFlagRequired("name")

	keysListCmd.Flags().Int64Var(&keyActorID, "actor", 0, "actor ID to list keys for")
	_ = keysListCmd.MarkFlagRequired("actor")

	keysCmd.AddCommand(keysGenerateCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRevokeCmd)
}

// openGate opens the local store and builds an authorization gate for
// key management.
func openGate() (*authz.Gate, *store.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	gate, err := authz.NewGate(db, zap.NewNop())
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return gate, db, nil
}

func runKeysGenerate(cmd *cobra.Command, args []string) error {
	var expiresAt *time.Time
	if keyExpires != "" {
		t, err := time.Parse(time.RFC3339, keyExpires)
		if err != nil {
			return fmt.Errorf("parsing --expires: %w", err)
		}
		expiresAt = &t
	}

	gate, db, err := openGate()
	if err != nil {
		return err
	}
	defer db.Close()

	key, err := gate.GenerateActorKey(cmd.Context(), keyActorID, keyName, keyScopes, expiresAt)
	if err != nil {
		return err
	}

	fmt.Printf("Key ID:    %s\n", key.ID)
	fmt.Printf("Actor:     %d\n", key.ActorID)
	fmt.Printf("Name:      %s\n", key.Name)
	fmt.Printf("Scopes:    %v\n", key.Scopes)
	if key.ExpiresAt != nil {
		fmt.Printf("Expires:   %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Printf("\nKey (store this now, it will not be shown again):\n%s\n", key.Plaintext)
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	gate, db, err := openGate()
	if err != nil {
		return err
	}
	defer db.Close()

	keys, err := gate.ActorKeys(cmd.Context(), keyActorID)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Printf("No keys for actor %d\n", keyActorID)
		return nil
	}

	for _, k := range keys {
		status := "active"
		if !k.Active {
			status = "revoked"
		} else if k.ExpiresAt != nil && !k.ExpiresAt.After(time.Now()) {
			status = "expired"
		}
		fmt.Printf("%s  %-20s %-8s scopes=%v created=%s\n",
			k.ID, k.Name, status, k.Scopes, k.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	gate, db, err := openGate()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := gate.RevokeActorKey(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Key %s revoked\n", args[0])
	return nil
}
