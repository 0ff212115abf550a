package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/personacore/core/internal/adapter/keyring"
	"github.com/personacore/core/internal/adapter/vault"
	"github.com/personacore/core/internal/config"
)

// runVaultInit dispatches the vault-init subcommand: it seals a fresh,
// passphrase-derived master key into the keyring file so an operator can
// reproduce it on a new machine by passphrase alone, instead of relying on
// the one vault.Open generates silently (and irreproducibly) on first run.
func runVaultInit(args []string) error {
	fs := flag.NewFlagSet("vault-init", flag.ContinueOnError)
	force := fs.Bool("force", false, "overwrite an existing master key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	keyringPath, err := resolveKeyringPath(cfg.Vault.MasterKeyPath)
	if err != nil {
		return fmt.Errorf("keyring path: %w", err)
	}
	kr := keyring.New(keyringPath)

	ctx := context.Background()
	exists, err := vault.HasMasterKey(ctx, kr)
	if err != nil {
		return fmt.Errorf("check existing master key: %w", err)
	}
	if exists && !*force {
		return fmt.Errorf("a master key already exists at %s; pass --force to replace it", keyringPath)
	}

	passphrase, err := promptPassphrase("Vault passphrase: ")
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}
	confirm, err := promptPassphrase("Confirm passphrase: ")
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}
	if passphrase != confirm {
		return fmt.Errorf("passphrases do not match")
	}

	if err := vault.Init(ctx, kr, passphrase); err != nil {
		return fmt.Errorf("seal master key: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Vault master key sealed at %s\n", keyringPath)
	return nil
}

// promptPassphrase reads a passphrase from the terminal without echoing it.
func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
