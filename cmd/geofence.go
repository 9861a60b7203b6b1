package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetlive/config"
	coregeo "github.com/kilianp07/fleetlive/core/geofence"
	infrageo "github.com/kilianp07/fleetlive/infra/geofence"
)

var geofenceCmd = &cobra.Command{
	Use:   "geofence",
	Short: "Inspect the terminal geofences",
}

var geofenceLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List geofences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		table, err := loadTable(cmd.Context())
		if err != nil {
			return err
		}
		for _, l := range table.Locations() {
			for _, c := range l.Coordinates {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.6f\t%.6f\n", l.Name, c.Lat, c.Lng)
			}
		}
		return nil
	},
}

var geofenceMatchCmd = &cobra.Command{
	Use:   "match <lat> <lng>",
	Short: "Find the geofence containing a position",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid latitude: %w", err)
		}
		lng, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid longitude: %w", err)
		}
		table, err := loadTable(cmd.Context())
		if err != nil {
			return err
		}
		m, ok := table.Match(lat, lng)
		if !ok {
			return fmt.Errorf("no geofence within %g of %g,%g", table.Tolerance(), lat, lng)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.6f\t%.6f\n", m.Name, m.Coordinate.Lat, m.Coordinate.Lng)
		return nil
	},
}

func init() {
	geofenceCmd.AddCommand(geofenceLsCmd, geofenceMatchCmd)
	rootCmd.AddCommand(geofenceCmd)
}

func loadTable(ctx context.Context) (*coregeo.Table, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return tableFrom(ctx, cfg)
}

func tableFrom(ctx context.Context, cfg *config.Config) (*coregeo.Table, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	l, closer, err := infrageo.NewLoader(cfg.Geofence)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return infrageo.LoadTable(ctx, l, cfg.Geofence.Tolerance)
}
