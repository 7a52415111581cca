package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/saviobatista/uavlog/internal/db"
	"github.com/saviobatista/uavlog/internal/types"
)

func newStatsCmd(opts *globalOptions) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the decoder statistics recorded in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if since <= 0 {
				return fmt.Errorf("--since must be positive")
			}
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()
			if a.DB == nil {
				return errors.New("stats needs a database, set DB_CONN_STR")
			}

			end := time.Now().UTC()
			rows, err := a.DB.GetDecoderStats(cmd.Context(), end.Add(-since), end)
			if err != nil {
				return fmt.Errorf("read statistics: %w", err)
			}
			return printStats(cmd.OutOrStdout(), rows, opts.jsonOutput())
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "How far back to read snapshots")
	return cmd
}

// printStats writes snapshots newest first
func printStats(w io.Writer, rows []db.DecoderStats, asJSON bool) error {
	if asJSON {
		type snapshot struct {
			Time                time.Time        `json:"time"`
			FramesTotal         int64            `json:"frames_total"`
			MessagesDecoded     int64            `json:"messages_decoded"`
			FramesFiltered      int64            `json:"frames_filtered"`
			FramesFailed        int64            `json:"frames_failed"`
			SessionsProcessed   int64            `json:"sessions_processed"`
			SessionsFailed      int64            `json:"sessions_failed"`
			SessionsReprocessed int64            `json:"sessions_reprocessed"`
			MessageTypes        map[string]int64 `json:"message_types"`
			ProcessingMillis    int64            `json:"processing_ms"`
		}
		out := make([]snapshot, len(rows))
		for i, s := range rows {
			out[i] = snapshot{s.Time, s.FramesTotal, s.MessagesDecoded, s.FramesFiltered, s.FramesFailed,
				s.SessionsProcessed, s.SessionsFailed, s.SessionsReprocessed, s.MessageTypes, s.ProcessingTime.Milliseconds()}
		}
		return writeJSON(w, out)
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No statistics recorded")
		return err
	}
	for _, s := range rows {
		fmt.Fprintf(w, "%s  frames %d, decoded %d, filtered %d, failed %d, sessions %d (%d failed, %d reprocessed)\n",
			s.Time.Format(time.RFC3339), s.FramesTotal, s.MessagesDecoded, s.FramesFiltered, s.FramesFailed,
			s.SessionsProcessed, s.SessionsFailed, s.SessionsReprocessed)
		if len(s.MessageTypes) == 0 {
			continue
		}
		names := make([]string, 0, len(s.MessageTypes))
		for name := range s.MessageTypes {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = fmt.Sprintf("%s=%d", name, s.MessageTypes[name])
		}
		fmt.Fprintf(w, "    %s\n", strings.Join(parts, " "))
	}
	return nil
}

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var replay bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print session events as sessions are decoded",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()
			if a.NATS == nil {
				return errors.New("watch needs NATS, set NATS_URL")
			}

			w := cmd.OutOrStdout()
			events := make(chan *types.SessionEvent, 16)
			var subOpts []nats.SubOpt
			if !replay {
				subOpts = append(subOpts, nats.DeliverNew())
			}
			ctx := cmd.Context()
			sub, err := a.NATS.SubscribeSessionEvents(func(ev *types.SessionEvent) {
				select {
				case events <- ev:
				case <-ctx.Done():
				}
			}, subOpts...)
			if err != nil {
				return err
			}
			defer func() {
				if err := sub.Unsubscribe(); err != nil {
					log.Printf("Warning: failed to unsubscribe: %v", err)
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-events:
					if err := printEvent(w, ev, opts.jsonOutput()); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&replay, "replay", false, "Start from the oldest retained event")
	return cmd
}

func printEvent(w io.Writer, ev *types.SessionEvent, asJSON bool) error {
	if asJSON {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	kind := "decoded"
	if ev.Reprocessed {
		kind = "reprocessed"
	}
	_, err := fmt.Fprintf(w, "%s  %s %s %s: %d messages, %d errors (decoder %s)\n",
		ev.Timestamp.Format(time.RFC3339), ev.SessionID, kind, ev.Status, ev.MessageCount, ev.ErrorCount, ev.VersionHash)
	return err
}
