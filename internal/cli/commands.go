package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/dramac/livechat-service/internal/api/dto"
	"github.com/dramac/livechat-service/internal/api/handlers"
	"github.com/dramac/livechat-service/internal/api/routes"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show service and component health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var resp handlers.HealthResponse
			err := newClient(opts).do(ctx, http.MethodGet, routes.BasePath+"/health", nil, &resp)
			if resp.Status == "" && err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:  %s\n", resp.Status)
			fmt.Fprintf(out, "Queue:   %d\n", resp.QueueLen)
			for name, status := range resp.Components {
				fmt.Fprintf(out, "  %-8s %s\n", name, status)
			}
			return err
		},
	}
}

func newSweepCmd(opts *options) *cobra.Command {
	var req dto.SweepRequest

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue pending conversations missed and close stale ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(opts)
			path, err := c.tenantPath(opts.tenant, "/maintenance/sweep")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var resp dto.SweepResponse
			if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
				return err
			}
			printPass(cmd, "missed", resp.Missed)
			printPass(cmd, "stale", resp.Stale)
			return nil
		},
	}

	cmd.Flags().IntVar(&req.MissedThresholdMinutes, "missed-minutes", 0, "pending age that counts as missed (0 uses the server default)")
	cmd.Flags().IntVar(&req.StaleHours, "stale-hours", 0, "inactivity that closes a conversation (0 uses the server default)")
	return cmd
}

func newReconcileCmd(opts *options) *cobra.Command {
	var req dto.ReconcileRequest

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute agent chat counts from active conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(opts)
			path, err := c.tenantPath(opts.tenant, "/maintenance/reconcile")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var resp dto.ReconcileResponse
			if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
				return err
			}
			printPass(cmd, "loads", resp.Loads)
			return nil
		},
	}

	cmd.Flags().BoolVar(&req.Immediate, "immediate", false, "correct drift in a single pass instead of confirming it on the next run")
	return cmd
}

func newRebalanceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rebalance",
		Short: "Route waiting conversations to agents with free capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(opts)
			path, err := c.tenantPath(opts.tenant, "/maintenance/rebalance")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var resp dto.RebalanceResponse
			if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebalance: scanned=%d assigned=%d waiting=%d\n", resp.Scanned, resp.Assigned, resp.Waiting)
			return nil
		},
	}
}

func printPass(cmd *cobra.Command, name string, r dto.PassResult) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: scanned=%d changed=%d skipped=%d\n", name, r.Scanned, r.Changed, r.Skipped)
}
