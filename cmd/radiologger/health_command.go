package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"radiologger/internal/api"
	"radiologger/internal/catalog"
	"radiologger/internal/daemonrun"
	"radiologger/internal/logging"
	"radiologger/internal/preflight"
)

var errUnhealthy = errors.New("one or more health checks failed")

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonMode bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run readiness checks against disk, catalog, capture tool, and storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			targets := preflight.Targets{}
			store, err := catalog.Open(cfg)
			if err == nil {
				defer store.Close()
				targets.Catalog = store
			}
			objects, err := daemonrun.OpenObjectStore(cfg, logging.NewNop())
			if err == nil && objects != nil {
				targets.Objects = objects
			}

			results := preflight.RunAll(cmd.Context(), cfg, targets)
			if jsonMode {
				if err := writeJSON(cmd, api.FromHealth(results)); err != nil {
					return err
				}
			} else {
				renderHealth(cmd.OutOrStdout(), results, shouldColorize(cmd.OutOrStdout()))
			}
			if !preflight.Healthy(results) {
				cmd.SilenceUsage = true
				return errUnhealthy
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Output as JSON")
	return cmd
}

func renderHealth(w io.Writer, results []preflight.Result, colorize bool) {
	printSection(w, "Health", colorize)
	for _, r := range results {
		detail := r.Detail
		if detail == "" {
			detail = "ok"
		}
		fmt.Fprintln(w, renderStatusLine(r.Name, passFail(r.Passed), detail, colorize))
	}
}
