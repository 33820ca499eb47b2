package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/nefaxer/pkg/nefax/config"
	"github.com/jamesainslie/nefaxer/pkg/nefax/indexer"
	"github.com/jamesainslie/nefaxer/pkg/nefax/logging"
	"github.com/jamesainslie/nefaxer/pkg/nefax/output"
	"github.com/jamesainslie/nefaxer/pkg/nefax/tuner"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "nefaxer [path]",
		Short: "Index a directory tree and detect changes",
		Long: `Nefaxer indexes a directory tree into a durable snapshot and reports
what changed since the previous run: added, removed, and modified paths.

The pipeline adapts to the drive backing the root (SSD, HDD, or network
mount). Content hashing is optional; without it, change detection uses
modification time and size.

Examples:
  nefaxer                        # Index the current directory
  nefaxer ~/projects             # Index a specific directory
  nefaxer -c ~/projects          # Index with content hashing
  nefaxer --dry-run -l .         # Compare only, list changed paths
  nefaxer -x ~/private           # Keep the snapshot encrypted`,
		Args: cobra.MaximumNArgs(1),
		RunE: runIndex,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/nefaxer/config.yaml)")
	rootCmd.Flags().String("db", "", "snapshot database path (default: "+config.DBName+" in the root)")
	rootCmd.Flags().BoolP("dry-run", "d", false, "compare against the snapshot without writing")
	rootCmd.Flags().BoolP("list", "l", false, "list each changed path")
	rootCmd.Flags().BoolP("hash", "c", false, "hash file contents for change detection")
	rootCmd.Flags().BoolP("follow-links", "f", false, "traverse symbolic links")
	rootCmd.Flags().Int64P("mtime-window", "m", 0, "mtime tolerance in seconds")
	rootCmd.Flags().StringSliceP("exclude", "e", nil, "exclude patterns (glob; repeatable)")
	rootCmd.Flags().Bool("strict", false, "abort on the first access error")
	rootCmd.Flags().Bool("paranoid", false, "re-hash even when mtime and size agree")
	rootCmd.Flags().BoolP("encrypt", "x", false, "encrypt the snapshot database")
	rootCmd.Flags().Int("workers", 0, "force worker count (with --drive-type and --parallel-walk)")
	rootCmd.Flags().String("drive-type", "", "force drive classification: ssd, hdd, network, unknown")
	rootCmd.Flags().Bool("parallel-walk", false, "force the parallel walk (with --workers and --drive-type)")
	rootCmd.Flags().Int("max-workers", 0, "cap the detected worker count")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "log errors only")

	_ = viper.BindPFlag("db", rootCmd.Flags().Lookup("db"))
	_ = viper.BindPFlag("list", rootCmd.Flags().Lookup("list"))
	_ = viper.BindPFlag("hash", rootCmd.Flags().Lookup("hash"))
	_ = viper.BindPFlag("follow_links", rootCmd.Flags().Lookup("follow-links"))
	_ = viper.BindPFlag("mtime_window", rootCmd.Flags().Lookup("mtime-window"))
	_ = viper.BindPFlag("exclude", rootCmd.Flags().Lookup("exclude"))
	_ = viper.BindPFlag("strict", rootCmd.Flags().Lookup("strict"))
	_ = viper.BindPFlag("paranoid", rootCmd.Flags().Lookup("paranoid"))
	_ = viper.BindPFlag("encrypt", rootCmd.Flags().Lookup("encrypt"))
	_ = viper.BindPFlag("max_workers", rootCmd.Flags().Lookup("max-workers"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

// initConfig reads in config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")

		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			viper.AddConfigPath(filepath.Join(xdgConfigHome, "nefaxer"))
		}
		if homeDir, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(homeDir, ".config", "nefaxer"))
		}
	}

	viper.SetEnvPrefix("NEFAXER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// runIndex is the root command: index the target directory and report
// the diff.
func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	level := "info"
	if viper.GetBool("verbose") {
		level = "debug"
	} else if viper.GetBool("quiet") {
		level = "error"
	}
	if err := logging.Init(logging.Config{Level: level}); err != nil {
		return err
	}
	defer logging.Close()
	logger := logging.Get("cli")

	root := "."
	if len(args) == 1 {
		root = args[0]
	}

	opts, err := buildOptions(cmd, root)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, diff, err := indexer.Index(ctx, root, opts, nil, nil)
	if err != nil {
		logger.Error("indexing failed", "error", err)
		return err
	}

	if err := output.Report(os.Stdout, diff, output.ReportOptions{
		Root:      root,
		ListPaths: viper.GetBool("list"),
		DryRun:    opts.DryRun,
	}); err != nil {
		return err
	}

	logger.Debug("run complete", "elapsed", time.Since(start))
	return nil
}

// buildOptions assembles run options from flags, config file, and
// environment.
func buildOptions(cmd *cobra.Command, root string) (config.Options, error) {
	opts := config.Options{
		DBPath:        viper.GetString("db"),
		WithHash:      viper.GetBool("hash"),
		FollowLinks:   viper.GetBool("follow_links"),
		Exclude:       viper.GetStringSlice("exclude"),
		MtimeWindowNS: viper.GetInt64("mtime_window") * int64(time.Second),
		Strict:        viper.GetBool("strict"),
		Paranoid:      viper.GetBool("paranoid"),
		Encrypt:       viper.GetBool("encrypt"),
		MaxThreads:    viper.GetInt("max_workers"),
	}

	// The tuning override trio is flag-only; config files should not
	// silently pin a machine-specific tuning.
	if cmd.Flags().Changed("workers") || cmd.Flags().Changed("drive-type") || cmd.Flags().Changed("parallel-walk") {
		workers, _ := cmd.Flags().GetInt("workers")
		driveType, _ := cmd.Flags().GetString("drive-type")
		parallel, _ := cmd.Flags().GetBool("parallel-walk")
		opts.NumThreads = workers
		opts.DriveType = tuner.DriveType(driveType)
		opts.UseParallelWalk = &parallel
	}

	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")

	// The key provider is installed whenever it might be needed: for
	// -x, and for detection of an already-encrypted snapshot.
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(root, config.DBName)
	}
	_, statErr := os.Stat(dbPath)
	opts.KeyProvider = passphraseProvider(root, opts.Encrypt && os.IsNotExist(statErr))

	if err := opts.Validate(); err != nil {
		return config.Options{}, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
