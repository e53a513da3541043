package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"consilium/internal/config"
	"consilium/internal/store"
	"consilium/internal/vault"
)

func runSecrets(args []string) error {
	if len(args) == 0 {
		printSecretsUsage()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Vault.Passphrase == "" {
		return fmt.Errorf("vault passphrase is required (CONSILIUM_VAULT_PASSPHRASE)")
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	mgr := vault.NewManager(cfg.Vault.Passphrase, db)

	switch args[0] {
	case "list":
		return secretsList(mgr)
	case "set":
		return secretsSet(mgr, args[1:])
	case "get":
		return secretsGet(mgr, args[1:])
	case "delete":
		return secretsDelete(mgr, args[1:])
	default:
		printSecretsUsage()
		return fmt.Errorf("unknown secrets command: %s", args[0])
	}
}

func printSecretsUsage() {
	fmt.Fprintf(os.Stderr, `Usage: consilium secrets <command>

Commands:
  list                                             List secrets (metadata only)
  set <name> --value <str> [--description <text>]  Store a string secret
  set <name> --file <path> [--description <text>]  Store a file secret
  get <name>                                       Retrieve and decrypt a secret
  delete <name>                                    Delete a secret

Environment:
  CONSILIUM_VAULT_PASSPHRASE    Encryption passphrase (or vault.passphrase in config).
`)
}

func secretsList(mgr *vault.Manager) error {
	secrets, err := mgr.List()
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION\tUPDATED")
	for _, s := range secrets {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Description, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func secretsSet(mgr *vault.Manager, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: consilium secrets set <name> --value <string> | --file <path> [--description <text>]")
	}

	name := args[0]
	var value []byte

	switch args[1] {
	case "--value":
		value = []byte(args[2])
	case "--file":
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		value = data
	default:
		return fmt.Errorf("expected --value or --file, got %s", args[1])
	}

	description := ""
	for i := 3; i < len(args)-1; i++ {
		if args[i] == "--description" {
			description = args[i+1]
			break
		}
	}

	if err := mgr.Put(name, description, value); err != nil {
		return err
	}
	fmt.Printf("Secret %q saved\n", name)
	return nil
}

func secretsGet(mgr *vault.Manager, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: consilium secrets get <name>")
	}

	value, err := mgr.Reveal(args[0])
	if err != nil {
		return err
	}
	if value == nil {
		return fmt.Errorf("secret %q not found", args[0])
	}

	fmt.Print(string(value))
	if len(value) > 0 && value[len(value)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

func secretsDelete(mgr *vault.Manager, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: consilium secrets delete <name>")
	}
	if err := mgr.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Secret %q deleted\n", args[0])
	return nil
}
