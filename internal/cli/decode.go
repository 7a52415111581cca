package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/saviobatista/uavlog/internal/pipeline"
	"github.com/saviobatista/uavlog/internal/schema"
)

func newDecodeCmd(opts *globalOptions) *cobra.Command {
	var (
		sessionID string
		format    string
	)
	cmd := &cobra.Command{
		Use:   "decode <schema-file> <data-file>",
		Short: "Decode one session and publish its views",
		Long:  "Builds the catalog from the schema document, decodes the frame buffer and publishes every view atomically under the output directory.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaDoc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read schema: %w", err)
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read data: %w", err)
			}
			schemaFormat, err := schema.ParseFormat(format)
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = pipeline.SessionIDFromPath(args[1])
			}

			a, err := opts.open()
			if err != nil {
				return err
			}
			defer closeApp(a)

			out, err := a.Processor.Process(cmd.Context(), pipeline.Session{
				ID:     sessionID,
				Schema: schemaDoc,
				Data:   data,
				Format: schemaFormat,
			})
			if out != nil {
				if perr := printReport(cmd, opts, out.Report); perr != nil {
					return perr
				}
			}
			if errors.Is(err, schema.ErrSchema) {
				return fmt.Errorf("session %s is unprocessable: %w", sessionID, err)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&sessionID, "id", "", "Session id (default: data file name without extension)")
	cmd.Flags().StringVar(&format, "schema-format", "", "Schema document format: xml or yaml (default: detect)")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "Decode policy: skip or stop (default: $DECODE_POLICY or skip)")
	return cmd
}

func printReport(cmd *cobra.Command, opts *globalOptions, rep *pipeline.Report) error {
	w := cmd.OutOrStdout()
	if opts.jsonOutput() {
		return writeJSON(w, rep)
	}

	fmt.Fprintf(w, "Session:  %s\n", rep.SessionID)
	fmt.Fprintf(w, "Run:      %s\n", rep.RunID)
	fmt.Fprintf(w, "Status:   %s\n", rep.Status)
	fmt.Fprintf(w, "Decoder:  %s\n", rep.Version.Hash)
	if rep.Decoded != "" {
		fmt.Fprintf(w, "Decoded:  %s\n", rep.Decoded)
	}
	if len(rep.ErrorCounts) > 0 {
		kinds := make([]string, 0, len(rep.ErrorCounts))
		for k := range rep.ErrorCounts {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %-20s %d\n", k, rep.ErrorCounts[k])
		}
	}
	if rep.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", rep.Error)
	}
	return nil
}
