package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"radiologger/internal/daemonctl"
	"radiologger/internal/ipc"
)

const (
	startWaitTimeout = 10 * time.Second
	stopGracePeriod  = 10 * time.Second
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the radiologger daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			socket, err := ctx.socketPath()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(socket, exe, daemonLaunchOptions(ctx), startWaitTimeout)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the radiologger daemon (captures keep running and are adopted on next start)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result, err := daemonctl.StopAndTerminate(cfg, stopGracePeriod)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if !result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, capture, and scheduler status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status *ipc.StatusResponse
			err := ctx.withClient(func(client *ipc.Client) error {
				var callErr error
				status, callErr = client.Status()
				return callErr
			})
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, status)
			}
			renderStatus(cmd.OutOrStdout(), status, time.Now(), shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

func renderStatus(w io.Writer, status *ipc.StatusResponse, now time.Time, colorize bool) {
	printSection(w, "Daemon", colorize)
	if status.Running {
		detail := fmt.Sprintf("pid %d", status.PID)
		if !status.StartedAt.IsZero() {
			detail += ", up since " + humanize.RelTime(status.StartedAt, now, "ago", "from now")
		}
		fmt.Fprintln(w, renderStatusLine("Radiologger", statusOK, detail, colorize))
	} else {
		fmt.Fprintln(w, renderStatusLine("Radiologger", statusWarn, "Not scheduling (run `radiologger start`)", colorize))
	}
	fmt.Fprintln(w, renderStatusLine("Catalog", statusInfo, status.DatabasePath, colorize))
	if r := status.LastReconcile; r != nil {
		kind := statusOK
		if len(r.Errors) > 0 || r.UploadFailed > 0 {
			kind = statusWarn
		}
		detail := fmt.Sprintf("%s: %d uploaded, %d failed, %d pruned",
			humanize.RelTime(r.Started, now, "ago", "from now"), r.Uploaded, r.UploadFailed, r.Retention.Deleted)
		fmt.Fprintln(w, renderStatusLine("Last upload", kind, detail, colorize))
	}
	fmt.Fprintln(w)

	printSection(w, "Captures", colorize)
	if len(status.Captures) == 0 {
		fmt.Fprintln(w, "No captures running")
	} else {
		rows := make([][]string, 0, len(status.Captures))
		for _, c := range status.Captures {
			rows = append(rows, []string{
				c.Station,
				c.Kind,
				c.State,
				strconv.Itoa(c.PID),
				humanize.RelTime(c.LaunchedAt, now, "ago", "from now"),
				yesNo(c.Adopted),
			})
		}
		printTable(w, []string{"Station", "Kind", "State", "PID", "Launched", "Adopted"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft})
	}
	fmt.Fprintln(w)

	printSection(w, "Jobs", colorize)
	rows := make([][]string, 0, len(status.Jobs))
	for _, j := range status.Jobs {
		next := "-"
		if !j.Next.IsZero() {
			next = humanize.RelTime(j.Next, now, "ago", "from now")
		}
		rows = append(rows, []string{
			j.Name,
			j.Schedule,
			strconv.Itoa(j.Runs),
			strconv.Itoa(j.Skipped),
			next,
			strings.TrimSpace(j.LastError),
		})
	}
	printTable(w, []string{"Job", "Schedule", "Runs", "Skipped", "Next", "Last error"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft})
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{LogLevel: ctx.logLevel()}
	if ctx.configFlag != nil {
		if cfg := strings.TrimSpace(*ctx.configFlag); cfg != "" {
			opts.ConfigPath = cfg
		} else if ctx.configPath != "" {
			opts.ConfigPath = ctx.configPath
		}
	}
	return opts
}
