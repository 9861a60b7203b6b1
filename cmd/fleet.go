package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetlive/app"
	"github.com/kilianp07/fleetlive/core/model"
	"github.com/kilianp07/fleetlive/core/reconciler"
	"github.com/kilianp07/fleetlive/core/vehiclestatus"
	"github.com/kilianp07/fleetlive/infra/backend"
	"github.com/kilianp07/fleetlive/infra/logger"
	"github.com/kilianp07/fleetlive/infra/telemetry"
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Fleet related commands",
}

var (
	fleetWindow time.Duration
	fleetStatus string
)

var fleetLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Listen to the fleet channel and list the vehicles seen",
	Args:  cobra.NoArgs,
	RunE:  runFleetLs,
}

func init() {
	fleetLsCmd.Flags().DurationVarP(&fleetWindow, "window", "w", 5*time.Second, "how long to listen")
	fleetLsCmd.Flags().StringVarP(&fleetStatus, "status", "s", "all", "idle, on alley, on road or all")
	fleetCmd.AddCommand(fleetLsCmd)
	rootCmd.AddCommand(fleetCmd)
}

func runFleetLs(cmd *cobra.Command, args []string) error {
	status, ok := model.ParseStatus(fleetStatus)
	if !ok {
		return fmt.Errorf("invalid status %q", fleetStatus)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Channel.MQTT.ClientID != "" {
		cfg.Channel.MQTT.ClientID = fmt.Sprintf("%s-ls-%d", cfg.Channel.MQTT.ClientID, time.Now().UnixNano())
	}
	// Listening only: without a geofence table no dispatch is ever ended.
	rec, err := reconciler.New(vehiclestatus.NewMemoryStore(), nil, backend.NewClient(cfg.Backend), logger.NopLogger{})
	if err != nil {
		return err
	}
	router, err := reconciler.NewRouter(rec, cfg.Reconciler.LaneBuffer, logger.NopLogger{})
	if err != nil {
		return err
	}
	src, err := app.NewSource(cfg.Channel, nil)
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	mgr, err := telemetry.NewManager(src, router, nil, logger.NopLogger{}, telemetry.Options{
		IDFromSubject: cfg.Channel.SubjectIDs(),
	})
	if err != nil {
		src.Close()
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, fleetWindow)
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		src.Close()
		return err
	}
	drain, cancelDrain := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDrain()
	_ = router.Close(drain)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NUMBER\tNAME\tPLATE\tSTATUS\tLAT\tLNG\tSPEED\tROUTE\tTIME")
	for _, v := range rec.List(status) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.6f\t%.6f\t%.1f\t%s\t%s\n",
			v.Number, v.Name, v.PlateNumber, v.Status, v.Latitude, v.Longitude, v.Speed, v.Route, v.Time)
	}
	return w.Flush()
}
