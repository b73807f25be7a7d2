package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Collect and sync samples on this device",
}

var edgeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect, sync and clean up until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newEdgeApp("edge run")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		fmt.Println("Collecting. Press Ctrl-C to stop.")
		return a.Run(ctx)
	},
}

var edgeSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send one batch of buffered samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newEdgeApp("edge sync")
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.RefreshProfile(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: refreshing profile: %v (using cached tier)\n", err)
		}

		report, err := a.SyncOnce(cmd.Context())
		if report != nil {
			fmt.Printf("Status: %s (sent %d, accepted %d, duplicates %d, rejected %d, removed %d)\n",
				report.Status, report.Sent, report.Accepted, report.Duplicates, report.Rejected, report.Removed)
		}
		return err
	},
}

var edgeRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the account profile and update the cached tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newEdgeApp("edge refresh")
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.RefreshProfile(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("User:      %s\n", p.Username)
		fmt.Printf("Tier:      %s\n", p.Tier)
		fmt.Printf("Retention: %d days\n", p.RetentionDays)
		fmt.Printf("Active:    %t\n", p.Active)
		return nil
	},
}

var edgeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the buffer and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newEdgeApp("edge status")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Tier:        %s\n", st.Tier)
		fmt.Printf("Pending:     %d\n", st.Buffer.Pending)
		fmt.Printf("Quarantined: %d\n", st.Buffer.Quarantined)
		if st.Buffer.Oldest != nil {
			fmt.Printf("Oldest:      %s\n", formatTime(*st.Buffer.Oldest))
		}
		if st.LastRun == nil {
			fmt.Println("Last sync:   never")
		} else {
			fmt.Printf("Last sync:   %s (%s)\n", formatTime(st.LastRun.FinishedAt), st.LastRun.Status)
		}
		return nil
	},
}

var historyLimit int

var edgeHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent sync runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newEdgeApp("edge history")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No sync runs recorded")
			return nil
		}
		for _, r := range runs {
			line := fmt.Sprintf("%s  %-12s sent=%d accepted=%d dup=%d rejected=%d removed=%d",
				formatTime(r.StartedAt), r.Status, r.Sent, r.Accepted, r.Duplicates, r.Rejected, r.Removed)
			if r.Error != "" {
				line += "  error: " + r.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

var quarantineLimit int

var edgeQuarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "List samples the server rejected",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newEdgeApp("edge quarantine")
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.Quarantined(cmd.Context(), quarantineLimit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Quarantine is empty")
			return nil
		}
		for _, q := range items {
			fmt.Printf("%d  %s  %s\n", q.Key.ID, formatTime(q.Key.Timestamp), q.Reason)
		}
		return nil
	},
}

var edgeRequeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Move quarantined samples back to pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newEdgeApp("edge requeue")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Requeue(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Requeued %d samples\n", n)
		return nil
	},
}

var edgeCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drop buffered samples older than the retention horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newEdgeApp("edge cleanup")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Cleanup(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d samples\n", n)
		return nil
	},
}

func init() {
	edgeHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
	edgeQuarantineCmd.Flags().IntVarP(&quarantineLimit, "limit", "n", 50, "number of samples to show")

	edgeCmd.AddCommand(edgeRunCmd)
	edgeCmd.AddCommand(edgeSyncCmd)
	edgeCmd.AddCommand(edgeRefreshCmd)
	edgeCmd.AddCommand(edgeStatusCmd)
	edgeCmd.AddCommand(edgeHistoryCmd)
	edgeCmd.AddCommand(edgeQuarantineCmd)
	edgeCmd.AddCommand(edgeRequeueCmd)
	edgeCmd.AddCommand(edgeCleanupCmd)
}
