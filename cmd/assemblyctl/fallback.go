package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/lyzr/assembly/cmd/station/container"
	"github.com/lyzr/assembly/cmd/station/repository"
	"github.com/lyzr/assembly/common/bootstrap"
	"github.com/lyzr/assembly/common/db"
	"github.com/spf13/cobra"
)

// withContainer bootstraps the station's stores and clients for a one-shot
// command. Events and the lookup cache are not needed.
func withContainer(ctx context.Context, fn func(*container.Container) error) error {
	components, err := bootstrap.Setup(ctx, "assemblyctl",
		bootstrap.WithoutRedis(),
		bootstrap.WithoutCache(),
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			return database.EnsureSchema(ctx, repository.Schema...)
		}),
	)
	if err != nil {
		return err
	}
	defer components.Shutdown(context.Background())

	c, err := container.NewContainer(components)
	if err != nil {
		return err
	}
	return fn(c)
}

func newPendingCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List fallback records waiting for the assembly backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				records, err := c.StationService.PendingFallback(cmd.Context(), limit)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, records)
				}
				if len(records) == 0 {
					fmt.Fprintln(out, "no pending records")
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RECORD\tASSEMBLY\tBARCODE\tSTAGE\tATTEMPTS\tLAST ERROR")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
						r.RecordID, r.AssemblyID, r.GeneratedBarcode, r.ReconcileStage, r.Attempts, r.LastError)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum number of records to list")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Resubmit pending fallback records once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				report, err := c.StationService.Reconcile(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, report)
				}
				fmt.Fprintf(out, "attempted %d, reconciled %d, failed %d\n",
					report.Attempted, report.Reconciled, report.Failed)
				for id, msg := range report.Errors {
					fmt.Fprintf(out, "  %s: %s\n", id, msg)
				}
				if report.Failed > 0 {
					return fmt.Errorf("%d record(s) still pending", report.Failed)
				}
				return nil
			})
		},
	}
}
