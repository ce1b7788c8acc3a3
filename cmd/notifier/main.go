// File: cmd/notifier/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/stacks-mempool-notifier/internal/config"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/storage"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// loadConfig reads configuration and applies command line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if level := viper.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if viper.GetBool("debug") {
		cfg.App.Debug = true
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "stacks-mempool-notifier",
	Short:   "Stacks mempool smart contract notifier",
	Long:    `Polls the Stacks mempool for smart contract deployments matching a suffix, notifies Telegram recipients and follows each deployment until it confirms.`,
	Version: AppVersion,
	RunE:    runNotifier,
}

// runNotifier is the main command to run the service
func runNotifier(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Set up signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	return app.Stop()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Stacks mempool notifier %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Stacks Node: %s\n", cfg.Stacks.NodeURL)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Dedup: %s\n", cfg.Dedup.Backend)
		fmt.Printf("Suffixes: %v\n", cfg.Scanner.ContractSuffixes)

		return nil
	},
}

// recipientsCmd groups recipient store management
var recipientsCmd = &cobra.Command{
	Use:   "recipients",
	Short: "Manage notification recipients",
}

// withStore opens the configured store for a one-off command
func withStore(fn func(ctx context.Context, store storage.Storage, cfg *config.Config) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if strings.EqualFold(cfg.Storage.Type, storage.TypeNone) {
		return errors.New("recipient storage is disabled (storage.type = none)")
	}

	store, err := openStorage(&cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, store, cfg)
}

var listRecipientsCmd = &cobra.Command{
	Use:   "list",
	Short: "List recipients",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store storage.Storage, _ *config.Config) error {
			recipients, err := store.ListRecipients(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USER ID\tCONNECTED\tWALLET\tADDED")
			for _, r := range recipients {
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", r.UserID, r.Connected, r.WalletAddress(), r.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		})
	},
}

var addRecipientCmd = &cobra.Command{
	Use:   "add <user-id>...",
	Short: "Allow chat ids to receive notifications",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store storage.Storage, _ *config.Config) error {
			for _, id := range args {
				if _, err := store.AddRecipient(ctx, id); err != nil {
					if errors.Is(err, storage.ErrAlreadyExists) {
						fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", id)
						continue
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s added\n", id)
			}
			return nil
		})
	},
}

var removeRecipientCmd = &cobra.Command{
	Use:   "remove <user-id>...",
	Short: "Stop notifying chat ids",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store storage.Storage, _ *config.Config) error {
			for _, id := range args {
				if err := store.DeleteRecipient(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s removed\n", id)
			}
			return nil
		})
	},
}

var seedRecipientsCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the configured default recipients",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store storage.Storage, cfg *config.Config) error {
			added, err := store.SeedRecipients(ctx, cfg.Telegram.DefaultRecipients)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d default recipients added\n", added, len(cfg.Telegram.DefaultRecipients))
			return nil
		})
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(recipientsCmd)
	configCmd.AddCommand(validateConfigCmd)
	recipientsCmd.AddCommand(listRecipientsCmd, addRecipientCmd, removeRecipientCmd, seedRecipientsCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
