package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/powersaver/internal/device"
	"github.com/srg/powersaver/internal/devicefactory"
	"github.com/srg/powersaver/internal/groutine"
	"github.com/srg/powersaver/internal/wallclock"
	"github.com/srg/powersaver/pkg/config"
	"github.com/srg/powersaver/pkg/sensor"
	"github.com/srg/powersaver/pkg/session"
	"github.com/srg/powersaver/pkg/telemetry"
)

// rideCmd represents the ride command
var rideCmd = &cobra.Command{
	Use:   "ride",
	Short: "Connect sensors and show a live dashboard",
	Long: `Connect to one or more sensors and record a ride.

Each sensor flag takes a device address from "powersaver scan" or "auto"
to pick the strongest matching sensor in range. A sensor that drops out is
reconnected automatically a few times; the session is saved periodically
and on exit, and restored on the next ride unless --fresh is given.

Examples:
  powersaver ride --power auto
  powersaver ride --power C4:7C:8D:6A:11:01 --hr auto --mqtt localhost:1883`,
	RunE: runRide,
}

var (
	ridePower   string
	rideHR      string
	rideCadence string
	rideFresh   bool
	rideMQTT    string
	rideRefresh time.Duration

	// rideClock drives sensor timeouts, the session recorder and telemetry.
	// This is a variable so that it can be overridden in tests.
	rideClock wallclock.Clock = wallclock.Instance
)

func init() {
	rideCmd.Flags().StringVar(&ridePower, "power", "", "Power meter address or 'auto'")
	rideCmd.Flags().StringVar(&rideHR, "hr", "", "Heart rate monitor address or 'auto'")
	rideCmd.Flags().StringVar(&rideCadence, "cadence", "", "Cadence sensor address or 'auto'")
	rideCmd.Flags().BoolVar(&rideFresh, "fresh", false, "Discard the saved session and start a new one")
	rideCmd.Flags().StringVar(&rideMQTT, "mqtt", "", "MQTT broker for live telemetry (overrides mqtt.broker)")
	rideCmd.Flags().DurationVar(&rideRefresh, "refresh", time.Second, "Dashboard refresh interval")
}

type rideSensor struct {
	profile sensor.Profile
	address string
}

func selectedSensors() []rideSensor {
	var out []rideSensor
	for _, s := range []rideSensor{
		{sensor.PowerMeter(), ridePower},
		{sensor.HeartRateMonitor(), rideHR},
		{sensor.CadenceSensor(), rideCadence},
	} {
		if s.address != "" {
			out = append(out, s)
		}
	}
	return out
}

func runRide(cmd *cobra.Command, args []string) error {
	sensors := selectedSensors()
	if len(sensors) == 0 {
		return errors.New("at least one of --power, --hr or --cadence is required")
	}
	if rideRefresh <= 0 {
		return fmt.Errorf("invalid refresh interval %s", rideRefresh)
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if rideMQTT != "" {
		cfg.MQTT.Broker = rideMQTT
	}

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := devicefactory.Open(cfg.ScanTimeout, logger)
	if err != nil {
		return fmt.Errorf("failed to open Bluetooth adapter: %w", err)
	}
	defer stack.Close()

	return ride(ctx, cmd.OutOrStdout(), cfg, stack.Chooser, sensors, logger)
}

// ride runs until ctx is done. It is split from runRide so tests can drive
// it with a fake adapter.
func ride(ctx context.Context, out io.Writer, cfg *config.Config, adapter device.Adapter, sensors []rideSensor, logger *logrus.Logger) error {
	rec, err := openRecorder(cfg, rideClock, logger)
	if err != nil {
		return err
	}
	rec.Start(ctx)

	var (
		conns  []*sensor.Connection
		status = make(map[string]*session.RoleCallbacks, len(sensors))
		roles  []string
		dones  []<-chan struct{}
	)
	for _, s := range sensors {
		opts := cfg.SensorOptions(rideClock, logger)
		if s.address != "auto" {
			opts.DeviceAddress = s.address
		}
		conn := sensor.NewConnection(s.profile, adapter, opts)
		cb := rec.Callbacks(s.profile.Role)
		conns = append(conns, conn)
		status[s.profile.Role] = cb
		roles = append(roles, s.profile.Role)

		dones = append(dones, groutine.Go(ctx, "connect-"+s.profile.Role, func(ctx context.Context) {
			if err := conn.Connect(ctx, cb, cb); err != nil && ctx.Err() == nil {
				logger.WithError(err).WithField("role", s.profile.Role).Debug("Sensor connect failed")
				rec.Log().Append(session.LogEntry{
					Time:    rideClock.Now(),
					Role:    s.profile.Role,
					Level:   logrus.ErrorLevel,
					Message: FormatUserError(err),
				})
			}
		}))
	}

	var pub *telemetry.Publisher
	if topts, ok := cfg.TelemetryOptions(rideClock, logger); ok {
		pub = telemetry.NewPublisher(topts, rec.View)
		if err := pub.Start(ctx); err != nil {
			logger.WithError(err).Warn("Live telemetry disabled")
			fmt.Fprintf(out, "Live telemetry disabled: %v\n", err)
			pub = nil
		}
	}

	dash := newDashboard(out, roles, isTerminal(out))
	ticker := time.NewTicker(rideRefresh)
	defer ticker.Stop()

	for running := true; running; {
		dash.Render(rec.View(), status, rec.Log().Drain())
		select {
		case <-ctx.Done():
			running = false
		case <-ticker.C:
		}
	}

	for _, c := range conns {
		c.Disconnect()
	}
	for _, d := range dones {
		<-d
	}
	if pub != nil {
		if err := pub.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close telemetry")
		}
	}

	view := rec.View()
	if err := rec.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSession %s saved (%s, %d samples)\n",
		shortSession(view.SessionID), formatDuration(time.Duration(view.Samples)*cfg.SampleInterval), view.Samples)
	return nil
}

func openRecorder(cfg *config.Config, clock wallclock.Clock, logger *logrus.Logger) (*session.Recorder, error) {
	path, err := cfg.SessionPath()
	if err != nil {
		return nil, err
	}
	store := session.NewStore(path, cfg.SessionMaxAge, clock, logger)

	connLog := session.NewConnectionLog(session.DefaultLogSize)
	logger.AddHook(connLog)

	opts := cfg.SessionOptions(store, clock, logger)
	opts.Log = connLog
	rec := session.NewRecorder(opts)

	if rideFresh {
		if err := store.Clear(); err != nil {
			return nil, err
		}
		return rec, nil
	}
	if _, err := rec.Restore(); err != nil {
		logger.WithError(err).Warn("Could not restore the previous session")
	}
	return rec, nil
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
