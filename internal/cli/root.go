// Package cli implements the uavlog commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/saviobatista/uavlog/internal/app"
	"github.com/saviobatista/uavlog/internal/config"
	"github.com/saviobatista/uavlog/internal/decoder"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	outputDir string
	workers   int
	offline   bool
	dryRun    bool
	format    string
	policy    string
}

// NewRootCmd builds the command tree. Each call returns independent flag
// state.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "uavlog",
		Short:         "Decode UAV telemetry logs into session views",
		Long:          "Decodes autopilot telemetry recordings with their schema document and publishes summary, chronological, grouped and time-series views per session.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&opts.outputDir, "output", "o", "", "Output directory (default: $OUTPUT_DIR or ./output)")
	root.PersistentFlags().IntVarP(&opts.workers, "workers", "w", 0, "Concurrent sessions when reprocessing (default: $WORKERS or 4)")
	root.PersistentFlags().BoolVar(&opts.offline, "offline", false, "Ignore configured database, Redis and NATS")
	root.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "Never persist the decoder version stamp")
	root.PersistentFlags().StringVarP(&opts.format, "format", "f", "text", "Output format: text or json")

	root.AddCommand(
		newDecodeCmd(opts),
		newProjectCmd(opts),
		newSummaryCmd(opts),
		newVersionCmd(opts),
		newStaleCmd(opts),
		newReprocessCmd(opts),
		newStatsCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// loadConfig reads the environment and applies the flag overrides
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	if o.workers > 0 {
		cfg.Workers = o.workers
	}
	if o.policy != "" {
		if _, err := decoder.ParsePolicy(o.policy); err != nil {
			return nil, err
		}
		cfg.Decoder.Policy = o.policy
	}
	return cfg, nil
}

// open loads the configuration and wires the application
func (o *globalOptions) open() (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.Open(cfg, app.Options{DryRun: o.dryRun, Offline: o.offline})
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return a, nil
}

// closeApp persists the statistics of the run before closing the clients
func closeApp(a *app.App) {
	if a.DB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.Stats.Persist(ctx); err != nil {
			log.Printf("Warning: failed to persist statistics: %v", err)
		}
		cancel()
	}
	a.Close()
}

func (o *globalOptions) jsonOutput() bool {
	return o.format == "json"
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
