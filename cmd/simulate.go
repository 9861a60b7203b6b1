package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetlive/app"
	"github.com/kilianp07/fleetlive/config"
	"github.com/kilianp07/fleetlive/infra/logger"
	"github.com/kilianp07/fleetlive/simulator"
)

var simCfg simulator.Config

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Publish synthetic bus telemetry on the fleet channel",
	Args:  cobra.NoArgs,
	RunE:  runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.IntVarP(&simCfg.Count, "count", "n", 5, "number of buses")
	f.IntVar(&simCfg.IDStart, "id-start", 1, "vehicle number of the first bus")
	f.DurationVarP(&simCfg.Interval, "interval", "i", 2*time.Second, "publish interval")
	f.IntVar(&simCfg.IdleTicks, "idle-ticks", 3, "events spent idle before a trip")
	f.IntVar(&simCfg.AlleyTicks, "alley-ticks", 3, "events spent in the alley")
	f.IntVar(&simCfg.RoadTicks, "road-ticks", 10, "events a trip takes")
	f.Float64Var(&simCfg.SpeedKMH, "speed", 35, "mean road speed in km/h")
	f.Uint64Var(&simCfg.Seed, "seed", 1, "random seed")
	rootCmd.AddCommand(simulateCmd)
}

func subjectPattern(cfg config.ChannelConfig) string {
	if cfg.Driver == "nats" {
		return cfg.NATS.Subject
	}
	return cfg.MQTT.Topic
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	table, err := tableFrom(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load geofences: %w", err)
	}
	log := logger.New("simulator")
	fleet, err := simulator.GenerateFleet(simCfg, table.Locations(), log)
	if err != nil {
		return err
	}
	if cfg.Channel.MQTT.ClientID != "" {
		cfg.Channel.MQTT.ClientID += "-sim"
	}
	cfg.Channel.NATS.Name += "-sim"
	pub, err := app.NewSource(cfg.Channel, nil)
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	defer pub.Close()

	log.Infof("simulating %d buses over %d terminals", len(fleet.Buses), table.Len())
	return fleet.Run(ctx, pub, subjectPattern(cfg.Channel))
}
