package main

import (
	"fmt"
	"os"
	"time"

	"fsledger/internal/app"
	"fsledger/internal/config"
	"fsledger/internal/database"
	"fsledger/internal/ledger"
	"fsledger/internal/model"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(cmd *cobra.Command) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewApp(cfg, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	return config.ReadFromFile(defaults["config_path"])
}

var rootCmd = &cobra.Command{
	Use:   "fsledger",
	Short: "Directory mirror and file version ledger",
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

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
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
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Database:  %s (%s)\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Blob:      %s\n", cfg.Blob.Type)
		fmt.Printf("Workers:   %d\n", cfg.Scan.Workers)
		if len(cfg.Roots) == 0 {
			fmt.Println("Roots:     (none configured)")
		} else {
			fmt.Println("Roots:")
			for _, r := range cfg.Roots {
				fmt.Printf("  %s\n", r.Path)
			}
		}
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan [PATH...]",
	Short: "Reconcile the ledger with the filesystem",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if len(args) == 0 {
			reps, err := a.ScanAll(ctx)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			for _, rep := range reps {
				printReport(rep)
			}
			return nil
		}

		for _, path := range args {
			rep, err := a.ScanPath(ctx, path)
			if err != nil {
				return fmt.Errorf("scanning %s: %w", path, err)
			}
			printReport(rep)
		}
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log FILENAME",
	Short: "View file version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		versions, err := a.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		for i, v := range versions {
			current := ""
			if i == len(versions)-1 {
				current = "  [current]"
			}
			fmt.Printf("%s  %s%s\n",
				v.BackupTS.Format("2006-01-02 15:04:05"),
				describeVersion(v),
				current,
			)
		}
		return nil
	},
}

// latest command
var latestCmd = &cobra.Command{
	Use:   "latest FILENAME",
	Short: "View a file's most recent version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.Latest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if v == nil {
			fmt.Println("Not tracked.")
			return nil
		}

		fmt.Printf("%s  %s\n", v.BackupTS.Format("2006-01-02 15:04:05"), describeVersion(v))
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls PATH",
	Short: "List mirrored subdirectories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		children, err := a.Children(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if len(children) == 0 {
			fmt.Println("No subdirectories.")
			return nil
		}
		for _, c := range children {
			fmt.Println(c.Name)
		}
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Remove a directory subtree from the mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected exactly one path")
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveDir(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("removing %s: %w", args[0], err)
		}
		fmt.Printf("Removed %s and its history from the mirror\n", args[0])
		return nil
	},
}

// runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "View recent scan runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.Runs(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No scan runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %s  %s  %-8s  seen:%d changed:%d removed:%d  %s\n",
				r.ID,
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Root,
				r.Status,
				r.FilesSeen,
				r.FilesChanged,
				r.FilesRemoved,
				duration,
			)
		}
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the ledger database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		store, err := database.NewStoreFromConfig(cfg.Database, cfg.Scan.CaseInsensitive)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		if err := store.MigrateUp(); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		fmt.Println("Database schema is up to date.")
		return nil
	},
}

var dbCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check schema migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		store, err := database.NewStoreFromConfig(cfg.Database, cfg.Scan.CaseInsensitive)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		if err := store.CheckMigrations(); err != nil {
			return fmt.Errorf("schema check failed: %w", err)
		}
		fmt.Println("Database schema is up to date.")
		return nil
	},
}

func describeVersion(v *model.FileVersion) string {
	if v.IsTombstone() {
		return "(removed)"
	}
	return *v.Hsh
}

func printReport(rep *ledger.ScanReport) {
	duration := rep.FinishedAt.Sub(rep.StartedAt).Truncate(time.Millisecond)
	fmt.Printf("%s: %d file(s) seen, %d changed, %d removed, %d dir(s) removed (%s)\n",
		rep.Root, rep.FilesSeen, rep.FilesChanged, rep.FilesRemoved, rep.DirsRemoved, duration)
	for _, p := range rep.SkippedCycles {
		fmt.Printf("  skipped cycle at %s\n", p)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose logging to stderr")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbCheckCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(latestCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	rootCmd.AddCommand(dbCmd)
}
