package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"vitalsync/internal/app"
	"vitalsync/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig locates and reads the config file.
func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newEdgeApp reads the config and creates an EdgeApp. The caller must defer a.Close().
func newEdgeApp(operation string) (*app.EdgeApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewEdgeApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing edge: %w", err)
	}
	return a, nil
}

// newServerApp reads the config and creates a ServerApp. The caller must defer a.Close().
func newServerApp(ctx context.Context, operation string) (*app.ServerApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewServerApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing server: %w", err)
	}
	return a, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "vitalsync",
	Short:        "Wearable sample buffering, sync and retention",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		cfg.Edge.DeviceExternalID = uuid.New().String()
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("generating jwt secret: %w", err)
		}
		cfg.Server.JWTSecret = secret

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device external ID: %s\n", cfg.Edge.DeviceExternalID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:      %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		fmt.Printf("Server URL:    %s\n", cfg.Edge.ServerURL)
		fmt.Printf("User/Device:   %d/%d (%s)\n", cfg.Edge.UserID, cfg.Edge.DeviceID, cfg.Edge.DeviceExternalID)
		fmt.Printf("Batch Size:    %d\n", cfg.Edge.BatchSize)
		fmt.Printf("Listen:        %s\n", cfg.Server.Listen)
		fmt.Printf("Sweep:         every %s, hot window %s, codec %s\n",
			cfg.Retention.SweepInterval.Duration, cfg.Retention.HotWindow.Duration, cfg.Retention.Codec)
		vaultType := cfg.Vault.Type
		if vaultType == "" {
			vaultType = "none"
		}
		fmt.Printf("Archive Vault: %s\n", vaultType)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(edgeCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(deviceCmd)
	rootCmd.AddCommand(archiveCmd)
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
