// Package cli implements ledgerctl, the operator command line. Commands
// that mutate open the full stack and must not run while cmd/api or
// cmd/worker owns the same data directory.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"contribledger/internal/app"
	"contribledger/internal/config"
	"contribledger/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type options struct {
	envFile  string
	dataDir  string
	store    string
	logLevel string
	cfg      config.Config
}

// Execute runs ledgerctl with the process arguments.
func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operate the contribution archive and token ledger",
		Long: `ledgerctl submits and evaluates contributions, inspects the token
ledger and exports allocation history.

Configuration comes from CONTRIB_* environment variables, optionally
loaded from an env file. Flags override the data directory and backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load(o.envFile)
			o.cfg = config.Load()
			if o.dataDir != "" {
				o.cfg.DataDir = o.dataDir
			}
			if o.store != "" {
				o.cfg.StoreBackend = o.store
			}
			if o.logLevel != "" {
				o.cfg.LogLevel = o.logLevel
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&o.envFile, "env-file", ".env", "env file to load before reading CONTRIB_* variables")
	root.PersistentFlags().StringVar(&o.dataDir, "data-dir", "", "data directory (overrides CONTRIB_DATA_DIR)")
	root.PersistentFlags().StringVar(&o.store, "store", "", "store backend: file, leveldb or postgres")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "warn", "log level for diagnostics on stderr")

	root.AddCommand(
		newSubmitCmd(o),
		newEvaluateCmd(o),
		newGetCmd(o),
		newListCmd(o),
		newRegisterCmd(o),
		newInspectCmd(o),
		newEpochsCmd(o),
		newStatsCmd(o),
		newGraphCmd(o),
		newExportCmd(o),
		newReindexCmd(o),
	)
	return root
}

func (o *options) open(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	log := logging.NewWithWriter(cmd.ErrOrStderr(), o.cfg.LogLevel, o.cfg.LogFormat)
	a, err := app.Open(ctx, o.cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open ledger at %s: %w", o.cfg.DataDir, err)
	}
	return a, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readInput(path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}
