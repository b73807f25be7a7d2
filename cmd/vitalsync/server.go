package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"vitalsync/internal/app"
	"vitalsync/internal/encryption"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run and administer the ingestion gateway",
}

var serverServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve /sync and run the retention sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := newServerApp(ctx, "server serve")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx)
	},
}

var serverMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply central database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if err := app.MigrateServer(cfg); err != nil {
			return err
		}
		fmt.Println("Central database is up to date")
		return nil
	},
}

var serverSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retention sweep now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newServerApp(cmd.Context(), "server sweep")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Sweep(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Users:     %d\n", len(res.Users))
		fmt.Printf("Purged:    %d samples\n", res.Purged)
		fmt.Printf("Compacted: %d samples\n", res.Compacted)
		fmt.Printf("Archived:  %d chunks\n", res.Archived)
		fmt.Printf("Released:  %d archives\n", res.Released)
		fmt.Printf("Took:      %s\n", res.FinishedAt.Sub(res.StartedAt))
		for _, e := range res.Errors {
			fmt.Fprintf(os.Stderr, "error: %v\n", e)
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("%d users failed", len(res.Errors))
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the archive encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the age key pair used to seal archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			return fmt.Errorf("keys already exist at %s", cfg.Encryption.PrivateKeyPath)
		}

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		fmt.Printf("Keys written to %s\n", cfg.Encryption.PublicKeyPath)
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect archived chunks",
}

var archiveCatCmd = &cobra.Command{
	Use:   "cat KEY",
	Short: "Decrypt an archived chunk and print its samples as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newServerApp(cmd.Context(), "archive cat")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		n, err := a.ArchiveCat(cmd.Context(), strings.TrimSpace(args[0]), passphrase, os.Stdout)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%d samples\n", n)
		return nil
	},
}

func init() {
	serverCmd.AddCommand(serverServeCmd)
	serverCmd.AddCommand(serverMigrateCmd)
	serverCmd.AddCommand(serverSweepCmd)

	keysCmd.AddCommand(keysInitCmd)
	archiveCmd.AddCommand(archiveCatCmd)
}
