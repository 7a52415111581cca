package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/saviobatista/uavlog/internal/types"
)

func newVersionCmd(opts *globalOptions) *cobra.Command {
	var commit bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the decoder version and whether published outputs are stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer closeApp(a)

			tracker := a.Processor.Tracker()
			status := tracker.Status(cmd.Context())
			current := tracker.Current()

			var wrote bool
			if commit {
				if wrote, err = tracker.Commit(cmd.Context()); err != nil {
					return err
				}
			}

			w := cmd.OutOrStdout()
			if opts.jsonOutput() {
				return writeJSON(w, struct {
					Current   string   `json:"current"`
					Stored    string   `json:"stored,omitempty"`
					Stale     bool     `json:"stale"`
					Artifacts []string `json:"artifacts"`
					Committed bool     `json:"committed"`
				}{status.Current, status.Stored, status.Stale, current.Artifacts, wrote})
			}

			fmt.Fprintf(w, "Current:   %s\n", status.Current)
			if status.Stored != "" {
				fmt.Fprintf(w, "Stored:    %s\n", status.Stored)
			} else {
				fmt.Fprintln(w, "Stored:    none")
			}
			fmt.Fprintf(w, "Stale:     %v\n", status.Stale)
			fmt.Fprintf(w, "Artifacts: %v\n", current.Artifacts)
			if commit {
				fmt.Fprintf(w, "Committed: %v\n", wrote)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&commit, "commit", false, "Record the running decoder version as current")
	return cmd
}

func newReprocessCmd(opts *globalOptions) *cobra.Command {
	var (
		force   bool
		request bool
	)
	cmd := &cobra.Command{
		Use:   "reprocess [session-id...]",
		Short: "Rebuild stale sessions from their archived inputs",
		Long:  "Rebuilds every session decoded by another decoder version, or the named sessions, and records the running version once all of them succeed. With --request the work is handed to the reprocessor service over NATS.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer closeApp(a)
			w := cmd.OutOrStdout()

			if request {
				if a.NATS == nil {
					return fmt.Errorf("--request needs NATS_URL")
				}
				ids := args
				if len(ids) == 0 {
					ids = []string{""}
				}
				for _, id := range ids {
					req := &types.ReprocessRequest{SessionID: id, Force: force, Timestamp: time.Now().UTC()}
					if err := a.NATS.PublishReprocessRequest(req); err != nil {
						return err
					}
				}
				fmt.Fprintf(w, "Requested reprocessing of %d target(s)\n", len(ids))
				return nil
			}

			if len(args) > 0 {
				for _, id := range args {
					out, err := a.Processor.ReprocessSession(cmd.Context(), id)
					if out != nil {
						fmt.Fprintf(w, "%s: %s\n", id, out.Report.Status)
					}
					if err != nil {
						return err
					}
				}
				return nil
			}

			res, err := a.Processor.Reprocess(cmd.Context(), force)
			if res != nil {
				if opts.jsonOutput() {
					failed := make(map[string]string, len(res.Failed))
					for id, ferr := range res.Failed {
						failed[id] = ferr.Error()
					}
					if jerr := writeJSON(w, struct {
						Rebuilt   []string          `json:"rebuilt"`
						Failed    map[string]string `json:"failed"`
						Committed bool              `json:"committed"`
					}{res.Rebuilt, failed, res.Committed}); jerr != nil {
						return jerr
					}
				} else {
					fmt.Fprintf(w, "Rebuilt:   %d\n", len(res.Rebuilt))
					for _, id := range sortedKeys(res.Failed) {
						fmt.Fprintf(w, "Failed:    %s: %v\n", id, res.Failed[id])
					}
					fmt.Fprintf(w, "Committed: %v\n", res.Committed)
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Rebuild every session, stale or not")
	cmd.Flags().BoolVar(&request, "request", false, "Publish a reprocess request instead of working locally")
	return cmd
}
