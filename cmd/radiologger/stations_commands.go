package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"radiologger/internal/catalog"
)

// stationFile is the YAML document accepted by `stations import`.
type stationFile struct {
	Stations []stationEntry `yaml:"stations"`
}

type stationEntry struct {
	Name         string       `yaml:"name"`
	URL          string       `yaml:"url"`
	AlwaysOn     bool         `yaml:"always_on"`
	DisplayOrder int          `yaml:"display_order"`
	Reason       string       `yaml:"reason"`
	Window       *windowEntry `yaml:"window"`
}

type windowEntry struct {
	StartDate string `yaml:"start_date"`
	StartHour int    `yaml:"start_hour"`
	EndDate   string `yaml:"end_date"`
	EndHour   int    `yaml:"end_hour"`
}

// parseStations decodes a station file. Unknown keys are rejected so typos in
// field names surface instead of silently dropping a schedule.
func parseStations(r io.Reader) ([]catalog.Station, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc stationFile
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("station file is empty")
		}
		return nil, fmt.Errorf("parse station file: %w", err)
	}
	seen := make(map[string]struct{}, len(doc.Stations))
	out := make([]catalog.Station, 0, len(doc.Stations))
	for i, entry := range doc.Stations {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("station %d: name is required", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("station %q listed twice", name)
		}
		seen[name] = struct{}{}
		st := catalog.Station{
			Name:         name,
			URL:          strings.TrimSpace(entry.URL),
			AlwaysOn:     entry.AlwaysOn,
			DisplayOrder: entry.DisplayOrder,
			Reason:       strings.TrimSpace(entry.Reason),
		}
		if w := entry.Window; w != nil {
			st.Window = &catalog.Window{
				StartDate: w.StartDate,
				StartHour: w.StartHour,
				EndDate:   w.EndDate,
				EndHour:   w.EndHour,
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func importStations(ctx context.Context, store *catalog.Store, stations []catalog.Station) (int, error) {
	for i := range stations {
		if _, err := store.UpsertStation(ctx, &stations[i]); err != nil {
			return i, err
		}
	}
	return len(stations), nil
}

func newStationsCommand(ctx *commandContext) *cobra.Command {
	stationsCmd := &cobra.Command{
		Use:   "stations",
		Short: "Manage the station list",
	}

	var listJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured stations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *catalog.Store) error {
				stations, err := store.ListStations(cmd.Context())
				if err != nil {
					return err
				}
				if listJSON {
					return writeJSON(cmd, stationDTOs(stations))
				}
				out := cmd.OutOrStdout()
				if len(stations) == 0 {
					fmt.Fprintln(out, "No stations configured (see `radiologger stations import`)")
					return nil
				}
				rows := make([][]string, 0, len(stations))
				for _, st := range stations {
					rows = append(rows, []string{
						strconv.FormatInt(st.ID, 10),
						st.Name,
						scheduleLabel(st),
						st.URL,
					})
				}
				printTable(out, []string{"ID", "Name", "Schedule", "URL"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft})
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")

	importCmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update stations from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open station file: %w", err)
			}
			defer file.Close()
			stations, err := parseStations(file)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *catalog.Store) error {
				n, err := importStations(cmd.Context(), store, stations)
				if err != nil {
					return fmt.Errorf("imported %d of %d stations: %w", n, len(stations), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d station(s)\n", n)
				return nil
			})
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a station with its jobs and catalog rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *catalog.Store) error {
				st, err := store.StationByName(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if st == nil {
					return fmt.Errorf("station %q not found", args[0])
				}
				if err := store.DeleteStation(cmd.Context(), st.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed station %s\n", st.Name)
				return nil
			})
		},
	}

	stationsCmd.AddCommand(listCmd, importCmd, removeCmd)
	return stationsCmd
}

func scheduleLabel(st *catalog.Station) string {
	switch {
	case st.AlwaysOn:
		return "always on"
	case st.Window != nil:
		w := st.Window
		return fmt.Sprintf("%s %02d:00 → %s %02d:00", w.StartDate, w.StartHour, w.EndDate, w.EndHour)
	default:
		return "off"
	}
}
