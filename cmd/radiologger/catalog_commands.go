package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"radiologger/internal/api"
	"radiologger/internal/catalog"
	"radiologger/internal/daemon"
	"radiologger/internal/daemonrun"
	"radiologger/internal/logging"
	"radiologger/internal/upload"
)

func stationDTOs(stations []*catalog.Station) []api.Station {
	out := make([]api.Station, 0, len(stations))
	for _, st := range stations {
		out = append(out, api.FromStation(st))
	}
	return out
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var (
		limit    int
		jsonMode bool
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show recent capture jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			return ctx.withStore(func(store *catalog.Store) error {
				stations, err := store.ListStations(cmd.Context())
				if err != nil {
					return err
				}
				jobs, err := store.ListJobs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				names := api.StationNames(stations)
				if jsonMode {
					return writeJSON(cmd, api.JobListResponse{Jobs: api.FromJobs(jobs, names)})
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs recorded")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						names[job.StationID],
						string(job.Kind),
						string(job.Status),
						formatLocal(job.StartTime),
						formatLocalPtr(job.EndTime),
						job.JobID,
					})
				}
				printTable(out, []string{"Station", "Kind", "Status", "Started", "Ended", "Job"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft})
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs to show (0 for all)")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Output as JSON")
	return cmd
}

func newRecordingsCommand(ctx *commandContext) *cobra.Command {
	var (
		station  string
		date     string
		limit    int
		jsonMode bool
	)
	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "List catalogued recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			date = strings.TrimSpace(date)
			if date != "" {
				if _, err := time.Parse("2006-01-02", date); err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
			}
			return ctx.withStore(func(store *catalog.Store) error {
				filter := catalog.RecordingFilter{Date: date, Limit: limit}
				if name := strings.TrimSpace(station); name != "" {
					st, err := store.StationByName(cmd.Context(), name)
					if err != nil {
						return err
					}
					if st == nil {
						return fmt.Errorf("station %q not found", name)
					}
					filter.StationID = st.ID
				}
				stations, err := store.ListStations(cmd.Context())
				if err != nil {
					return err
				}
				recs, err := store.ListRecordings(cmd.Context(), filter)
				if err != nil {
					return err
				}
				names := api.StationNames(stations)
				if jsonMode {
					return writeJSON(cmd, api.RecordingListResponse{Recordings: api.FromRecordings(recs, names)})
				}
				out := cmd.OutOrStdout()
				if len(recs) == 0 {
					fmt.Fprintln(out, "No recordings found")
					return nil
				}
				rows := make([][]string, 0, len(recs))
				for _, rec := range recs {
					rows = append(rows, []string{
						strconv.FormatInt(rec.ID, 10),
						names[rec.StationID],
						rec.Date,
						rec.Hour,
						string(rec.Kind),
						rec.FilePath,
					})
				}
				printTable(out, []string{"ID", "Station", "Date", "Hour", "Kind", "Key"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&station, "station", "", "Only show recordings for this station")
	cmd.Flags().StringVar(&date, "date", "", "Only show recordings for this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of recordings to show (0 for all)")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Output as JSON")
	return cmd
}

func newRecordingCommand(ctx *commandContext) *cobra.Command {
	recordingCmd := &cobra.Command{
		Use:   "recording",
		Short: "Inspect a single recording",
	}
	urlCmd := &cobra.Command{
		Use:   "url <id>",
		Short: "Print a time-limited playback URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid recording id %q", args[0])
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			objects, err := daemonrun.OpenObjectStore(cfg, logging.NewNop())
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *catalog.Store) error {
				url, err := daemon.PresignRecording(cmd.Context(), cfg, store, objects, id)
				switch {
				case errors.Is(err, upload.ErrNoObjectStore):
					return errors.New("object storage is not configured; set [storage] bucket in the config")
				case errors.Is(err, daemon.ErrRecordingNotFound):
					return fmt.Errorf("recording %d not found", id)
				case err != nil:
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			})
		},
	}
	recordingCmd.AddCommand(urlCmd)
	return recordingCmd
}

func formatLocal(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatLocalPtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatLocal(*t)
}
