package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/siting-cli/internal/config"
	"github.com/sells-group/siting-cli/internal/model"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "siting-cli",
	Short: "Demand-driven facility location recommendations",
	Long:  "Aggregates geotagged demand, forecasts per-entity trends, clusters demand per segment and ranks candidate sites for new facilities.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// Exit codes.
const (
	exitOK     = 0
	exitNoData = 1
	exitFatal  = 2
)

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, model.ErrNoUsableData):
		return exitNoData
	default:
		return exitFatal
	}
}

func main() {
	err := rootCmd.Execute()
	os.Exit(exitCode(err))
}
