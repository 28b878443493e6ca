package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single monitoring pass and print its statistics",
	Long: `Run one scheduler tick in the foreground. The pass honours the
instance lease and each user's scan marker, so it is skipped while a
running daemon holds the lease.`,
	RunE: runTick,
}

func init() {
	rootCmd.AddCommand(tickCmd)
}

func runTick(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pipeline, err := a.pipeline()
	if err != nil {
		return err
	}
	svc := a.scheduler(pipeline)
	stats := svc.RunOnce(cmd.Context())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
