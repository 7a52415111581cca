package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newProjectCmd(opts *globalOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "project [session-id...]",
		Short: "Rebuild session views from the archived decoded messages",
		Long:  "Regenerates every view of the named sessions from their decoded message archive, without decoding the frames again.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer closeApp(a)

			ids := args
			if all {
				if ids, err = a.Storage.ListSessions(); err != nil {
					return err
				}
			}
			if len(ids) == 0 {
				return fmt.Errorf("no sessions given, name them or use --all")
			}

			w := cmd.OutOrStdout()
			for _, id := range ids {
				proj, err := a.Processor.Reproject(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s: %d messages, %d aircraft\n", id, proj.Summary.MessageCount, proj.Summary.AircraftCount)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Rebuild every published session")
	return cmd
}

func newSummaryCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <session-id>",
		Short: "Print the summary view of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer closeApp(a)

			summary, err := a.Processor.Summary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if a.DB == nil {
				_, err = fmt.Fprintln(w, string(summary))
				return err
			}

			counts, err := a.DB.CountDecodeErrors(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(w, struct {
				Summary json.RawMessage `json:"summary"`
				Errors  map[string]int  `json:"errors"`
			}{summary, counts})
		},
	}
}

func newStaleCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stale",
		Short: "List sessions decoded by another decoder version",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer closeApp(a)

			ids, err := a.Processor.StaleSessions(cmd.Context(), false)
			if err != nil {
				return err
			}
			if opts.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), ids)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
