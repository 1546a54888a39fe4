package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"devcat/internal/app"
	"devcat/internal/config"
	"devcat/internal/database"
	"devcat/internal/encryption"
	"devcat/internal/vault"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig reads the config file from its default location.
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

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:           "devcat",
	Short:         "Catalog the files on removable volumes",
	SilenceUsage:  true,
	SilenceErrors: false,
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

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
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
		fmt.Printf("Host ID:      %s\n", cfg.HostID)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("Storage Root: %s\n", cfg.Mount.StorageRoot)
		fmt.Printf("Hotplug:      %s\n", cfg.Hotplug.Type)
		fmt.Printf("Workers:      %d\n", cfg.Coordinator.Workers)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:        %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage catalog encryption keys",
}

var configKeysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair used to encrypt catalog snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
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
			return errors.New("passphrases do not match")
		}

		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("setting up keys: %w", err)
		}
		fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var configVaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage vaults",
}

var configVaultCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that every configured vault is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if len(cfg.Vaults) == 0 {
			return app.ErrNoVault
		}

		var errs []error
		for _, vc := range cfg.Vaults {
			v, err := vault.NewVaultFromConfig(cmd.Context(), vc)
			if err == nil {
				err = v.ValidateSetup(cmd.Context())
			}
			if err != nil {
				fmt.Printf("%-15s FAILED  %v\n", vc.Name, err)
				errs = append(errs, fmt.Errorf("vault %s: %w", vc.Name, err))
				continue
			}
			fmt.Printf("%-15s ok\n", vc.Name)
		}
		return errors.Join(errs...)
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the catalog database schema up to date",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		from, to, err := db.Migrate()
		if err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		if from == to {
			fmt.Printf("Database %s is up to date (version %d)\n", db.Path(), to)
			return nil
		}
		fmt.Printf("Database %s migrated from version %d to %d\n", db.Path(), from, to)
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch for devices and keep the catalog in sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		runErr := a.Run(ctx)
		if err := a.Close(); err != nil {
			return errors.Join(runErr, err)
		}
		return runErr
	},
}

// devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List known devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		devices, err := a.Devices(cmd.Context(), all)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No devices recorded.")
			return nil
		}

		for _, d := range devices {
			state := "present"
			switch {
			case d.Removed:
				state = "removed"
			case d.Mounted():
				state = "mounted"
			}
			volume := d.UUID
			if volume == "" {
				volume = "-"
			}
			fmt.Printf("#%-4d %-12s %-38s %-8s %s  %s\n",
				d.ID,
				d.Devnode,
				volume,
				state,
				d.LastSeen.Local().Format("2006-01-02 15:04:05"),
				d.MountPath,
			)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View scan history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		scans, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(scans) == 0 {
			fmt.Println("No scans recorded.")
			return nil
		}

		for _, s := range scans {
			duration := ""
			if s.FinishedAt != nil {
				duration = s.FinishedAt.Sub(s.StartedAt).Truncate(time.Second).String()
			}
			fmt.Printf("#%d  device:%d  %s  %-9s  +%d -%d ~%d  %-6s  %s\n",
				s.ID,
				s.DeviceID,
				s.StartedAt.Local().Format("2006-01-02 15:04:05"),
				s.Status,
				s.FilesAdded,
				s.FilesRemoved,
				s.FilesRevised,
				duration,
				s.MountPath,
			)
		}
		return nil
	},
}

// reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile DEVNODE",
	Short: "Mount and scan a device now",
	Long:  "Mount and scan a device now. Use this on hosts without a hotplug source. It refuses to run while the daemon holds the catalog lock.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volumeUUID, _ := cmd.Flags().GetString("uuid")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.Reconcile(cmd.Context(), args[0], volumeUUID)
		if err != nil {
			return err
		}
		fmt.Printf("%s reconciled at %s\n", d.Devnode, d.MountPath)
		return nil
	},
}

// eject command
var ejectCmd = &cobra.Command{
	Use:   "eject DEVNODE",
	Short: "Unmount a device without forgetting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volumeUUID, _ := cmd.Flags().GetString("uuid")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Eject(cmd.Context(), args[0], volumeUUID); err != nil {
			return err
		}
		fmt.Printf("%s ejected\n", args[0])
		return nil
	},
}

// catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Back up and restore the catalog database",
}

var catalogBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload an encrypted catalog snapshot to the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		version, err := a.BackupCatalog(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Catalog snapshot uploaded (version %d)\n", version)
		return nil
	},
}

var catalogRestoreCmd = &cobra.Command{
	Use:   "restore DEST",
	Short: "Download and decrypt the newest catalog snapshot to DEST",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		version, err := app.RestoreCatalog(cmd.Context(), cfg, args[0], passphrase)
		if err != nil {
			return err
		}
		fmt.Printf("Catalog version %d restored to %s\n", version, args[0])
		fmt.Printf("Move it to %s to use it.\n", database.CatalogPath(cfg.Database.DataDir, cfg.HostID))
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)
	configKeysCmd.AddCommand(configKeysInitCmd)
	configCmd.AddCommand(configVaultCmd)
	configVaultCmd.AddCommand(configVaultCheckCmd)

	// catalog subcommands
	catalogCmd.AddCommand(catalogBackupCmd)
	catalogCmd.AddCommand(catalogRestoreCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.Flags().BoolP("all", "a", false, "Include removed devices")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of scans to show")
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().String("uuid", "", "Filesystem UUID of the volume (default: looked up in /dev/disk/by-uuid)")
	rootCmd.AddCommand(ejectCmd)
	ejectCmd.Flags().String("uuid", "", "Filesystem UUID of the volume (default: looked up in /dev/disk/by-uuid)")
	rootCmd.AddCommand(catalogCmd)
}
