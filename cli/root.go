// Package cli implements the trade-inputs command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trade-inputs/config"
	"trade-inputs/reconciler"
)

var (
	// Global flags
	envFile    string
	tokensFile string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "trade-inputs",
	Short: "Paired trade input calculator",
	Long: `trade-inputs keeps two linked trade amounts consistent: type an amount on
either side and the other side is derived from live USD prices, optionally
scaled by a leverage multiplier.`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", ".env file to load (default ./.env when present)")
	rootCmd.PersistentFlags().StringVar(&tokensFile, "tokens", "", "token catalogue YAML (overrides TOKENS_FILE)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig() (config.Config, config.TokenCatalog, error) {
	var (
		cfg config.Config
		err error
	)
	if envFile != "" {
		cfg, err = config.Load(envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, config.TokenCatalog{}, err
	}
	if tokensFile != "" {
		cfg.TokensFile = tokensFile
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return config.Config{}, config.TokenCatalog{}, err
	}
	return cfg, catalog, nil
}

// writeState prints both inputs on one line.
func writeState(w io.Writer, s reconciler.State) {
	fmt.Fprintf(w, "A: %s %s (%s) | B: %s %s (%s) | ref=%s",
		reconciler.FormatAmount(s.A.RawAmount, s.A.Token), s.A.Token,
		reconciler.USDLabel(s.A.USDPrice),
		reconciler.FormatAmount(s.B.RawAmount, s.B.Token), s.B.Token,
		reconciler.USDLabel(s.B.USDPrice),
		s.Reference)
	if s.Mode == reconciler.ModeLeveraged {
		fmt.Fprintf(w, " lev=%sx", s.Leverage)
	}
	fmt.Fprintln(w)
}
