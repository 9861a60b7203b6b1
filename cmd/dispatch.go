package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetlive/infra/backend"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Drive dispatch logs on the fleet backend",
}

func init() {
	dispatchCmd.AddCommand(
		&cobra.Command{
			Use:   "start-alley <vehicle_assignment_id>",
			Short: "Open a dispatch log in the alley",
			Args:  cobra.ExactArgs(1),
			RunE: withBackend(func(ctx context.Context, c *backend.Client, cmd *cobra.Command, args []string) error {
				dl, err := c.StartAlley(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(dl)
			}),
		},
		lifecycleCmd("end-alley", "Close the alley phase", (*backend.Client).EndAlley),
		lifecycleCmd("start", "Move a dispatch log on road", (*backend.Client).StartDispatch),
		lifecycleCmd("end", "End an on-road dispatch", (*backend.Client).EndDispatch),
		lifecycleCmd("delete", "Delete a dispatch log", (*backend.Client).DeleteDispatchLog),
		&cobra.Command{
			Use:   "assignments",
			Short: "List vehicle assignments",
			Args:  cobra.NoArgs,
			RunE: withBackend(func(ctx context.Context, c *backend.Client, cmd *cobra.Command, _ []string) error {
				list, err := c.ListAssignments(ctx)
				if err != nil {
					return err
				}
				for _, a := range list {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", a.ID, a.VehicleID, a.PlateNumber)
				}
				return nil
			}),
		},
	)
	rootCmd.AddCommand(dispatchCmd)
}

type backendFunc func(ctx context.Context, c *backend.Client, cmd *cobra.Command, args []string) error

func withBackend(f backendFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return f(ctx, backend.NewClient(cfg.Backend), cmd, args)
	}
}

func lifecycleCmd(use, short string, call func(*backend.Client, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <dispatch_log_id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withBackend(func(ctx context.Context, c *backend.Client, cmd *cobra.Command, args []string) error {
			if err := call(c, ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: ok\n", use, args[0])
			return nil
		}),
	}
}
