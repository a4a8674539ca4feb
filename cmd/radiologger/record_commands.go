package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"radiologger/internal/ipc"
	"radiologger/internal/upload"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Start or stop captures on demand",
	}

	recordCmd.AddCommand(&cobra.Command{
		Use:   "start <station>",
		Short: "Start a fixed-length manual capture regardless of schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RecordStart(strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Existed {
					fmt.Fprintf(out, "Capture of %s already running (%s, pid %d)\n", resp.Station, resp.Kind, resp.PID)
				} else {
					fmt.Fprintf(out, "Started manual capture of %s (pid %d)\n", resp.Station, resp.PID)
				}
				fmt.Fprintf(out, "Output: %s\n", resp.Output)
				return nil
			})
		},
	})

	recordCmd.AddCommand(&cobra.Command{
		Use:   "stop <station>",
		Short: "Stop every capture of a station",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RecordStop(strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stopped %d capture(s) of %s\n", resp.Stopped, args[0])
				return nil
			})
		},
	})

	return recordCmd
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Upload settled segments, sync the catalog with storage, and prune local files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reconcile()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Report)
				}
				renderReconcileReport(cmd.OutOrStdout(), resp.Report, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderReconcileReport(w io.Writer, r upload.Report, colorize bool) {
	printSection(w, "Upload", colorize)
	fmt.Fprintln(w, renderStatusLine("Scanned", statusInfo, fmt.Sprintf("%d segment(s), %d still being written", r.Scanned, r.Fresh), colorize))
	fmt.Fprintln(w, renderStatusLine("Uploaded", statusOK, fmt.Sprintf("%d new, %d already remote", r.Uploaded, r.AlreadyRemote), colorize))
	if r.UploadFailed > 0 {
		fmt.Fprintln(w, renderStatusLine("Failed", statusWarn, fmt.Sprintf("%d segment(s); retried next run", r.UploadFailed), colorize))
	}
	fmt.Fprintln(w)

	printSection(w, "Catalog", colorize)
	fmt.Fprintln(w, renderStatusLine("Remote objects", statusInfo, fmt.Sprintf("%d", r.Listed), colorize))
	fmt.Fprintln(w, renderStatusLine("Rows", statusOK, fmt.Sprintf("%d cataloged, %d inserted, %d removed", r.Cataloged, r.Inserted, r.Removed), colorize))
	fmt.Fprintln(w)

	printSection(w, "Retention", colorize)
	ret := r.Retention
	fmt.Fprintln(w, renderStatusLine("Pruned", statusOK,
		fmt.Sprintf("%d file(s), %s freed, %d dir(s)", ret.Deleted, humanize.IBytes(uint64(ret.FreedBytes)), ret.PrunedDirs), colorize))
	if ret.NotDurable > 0 {
		fmt.Fprintln(w, renderStatusLine("Kept", statusWarn, fmt.Sprintf("%d expired file(s) not yet in storage", ret.NotDurable), colorize))
	}
	if r.HeadFallback {
		fmt.Fprintln(w, renderStatusLine("Durability", statusWarn, "listing failed; checked objects individually", colorize))
	}

	if len(r.Errors) > 0 {
		fmt.Fprintln(w)
		printSection(w, "Errors", colorize)
		for _, msg := range r.Errors {
			fmt.Fprintln(w, renderStatusLine("Error", statusError, msg, colorize))
		}
	}
	fmt.Fprintf(w, "\nCompleted in %s\n", r.Duration.Round(time.Millisecond))
}
