package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docsearch/config"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/logging"
)

// globals holds the state shared by every subcommand of one invocation.
type globals struct {
	cfgFile  string
	rootDir  string
	logLevel string
	logJSON  bool

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCommand builds the docsearch command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "docsearch",
		Short: "Hybrid search over a corpus of technical documents",
		Long: `docsearch indexes extracted document text into a sharded vector store and a
BM25 keyword index, and answers queries with semantic, keyword, hybrid (RRF)
or collection-aware multi-step retrieval.

Example usage:
  docsearch index ./corpus                      # Index a directory
  docsearch search -q "pandeo lateral torsional" # Hybrid search
  docsearch multistep -q "galpón con tekla"      # Collection-aware search
  docsearch eval --ground-truth truth.yaml       # Measure retrieval quality`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load()
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.cfgFile, "config", "", "config file (default is ./docsearch.yaml)")
	rootCmd.PersistentFlags().StringVarP(&g.rootDir, "dir", "d", "", "root directory (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (default from config)")
	rootCmd.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "emit logs as JSON")

	rootCmd.AddCommand(
		newIndexCmd(g),
		newWatchCmd(g),
		newSearchCmd(g),
		newMultiStepCmd(g),
		newStatsCmd(g),
		newDeleteCmd(g),
		newKeywordCmd(g),
		newMigrateCmd(g),
		newEvalCmd(g),
		newLogsCmd(g),
	)
	return rootCmd
}

// load resolves the root directory, environment, configuration and logger.
func (g *globals) load() error {
	var err error
	if g.rootDir == "" {
		g.rootDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
	}
	g.rootDir, err = filepath.Abs(g.rootDir)
	if err != nil {
		return fmt.Errorf("invalid root directory: %w", err)
	}

	// A .env next to the corpus may carry API keys; a missing one is fine.
	_ = godotenv.Load(filepath.Join(g.rootDir, ".env"))

	if g.cfgFile != "" {
		g.cfg, err = config.Load(g.cfgFile)
	} else {
		g.cfg, err = config.LoadFromDir(g.rootDir)
	}
	if err != nil {
		return err
	}

	level := g.cfg.Logging.Level
	if g.logLevel != "" {
		level = g.logLevel
	}
	g.logger = logging.Setup(logging.Config{Level: level, JSON: g.logJSON})
	return nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprint(os.Stderr, docerrors.FormatForCLI(err))
		return 1
	}
	return 0
}
