// Command learn drives the Megawatts learning pipeline from the command line:
// batch analysis of exported interactions, behavior review, scripted A/B
// experiments, knowledge curation, and a long-running ingestion loop.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DavinciDreams/Megawatts-sub008/internal/config"
	"github.com/DavinciDreams/Megawatts-sub008/internal/logging"
	"github.com/DavinciDreams/Megawatts-sub008/internal/pipeline"
	"github.com/DavinciDreams/Megawatts-sub008/internal/store"
)

var (
	// Global flags
	cfgPath    string
	dbPath     string
	driver     string
	verbose    bool
	jsonOutput bool
	timeout    time.Duration

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "learn",
	Short: "Megawatts self-learning pipeline",
	Long: `learn turns bot interaction logs into validated behavior adaptations.

Interactions are analyzed into patterns, patterns are validated for safety,
bias and privacy, and valid patterns drive behavior adaptation. Knowledge
entries and A/B experiments are managed alongside.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Storage.Path = dbPath
		}
		if driver != "" {
			cfg.Storage.Driver = driver
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return initLogging(cfg.Logging)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Sync()
	},
}

// initLogging routes the category loggers through a zap logger. A log file
// in the config switches to the file-backed core.
func initLogging(lc config.LoggingConfig) error {
	if lc.File != "" {
		return logging.Initialize(lc.Options())
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	if lc.Format == "json" {
		zcfg.Encoding = "json"
	}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	level := zapcore.InfoLevel
	if lc.Level != "" {
		if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", lc.Level, err)
		}
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	var err error
	logger, err = zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.SetLogger(logger, lc.Categories)
	return nil
}

// openEngine opens the configured repository and builds an engine over it.
// The caller closes the returned repository.
func openEngine(ctx context.Context) (*pipeline.Engine, store.Repository, error) {
	repo, err := openRepository(ctx)
	if err != nil {
		return nil, nil, err
	}
	return pipeline.NewEngine(repo, cfg), repo, nil
}

func openRepository(ctx context.Context) (store.Repository, error) {
	repo, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return repo, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, timeout)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "learn.yaml", "Config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Repository path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&driver, "driver", "", "Repository driver: sqlite3, sqlite, memory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(adaptCmd)
	rootCmd.AddCommand(behaviorCmd)
	rootCmd.AddCommand(abtestCmd)
	rootCmd.AddCommand(knowledgeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
