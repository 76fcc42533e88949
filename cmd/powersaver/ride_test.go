package main

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/powersaver/internal/bledb"
	"github.com/srg/powersaver/internal/testutils"
	"github.com/srg/powersaver/pkg/config"
	"github.com/srg/powersaver/pkg/sensor"
	"github.com/srg/powersaver/pkg/session"
)

// syncBuffer lets the test read output the ride goroutine is still writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type RideTestSuite struct {
	testutils.MockSensorSuite

	cfg *config.Config
}

func (s *RideTestSuite) SetupTest() {
	s.MockSensorSuite.SetupTest()

	s.cfg = config.DefaultConfig()
	s.cfg.SessionFile = filepath.Join(s.T().TempDir(), "session.json")
	s.cfg.SampleInterval = 20 * time.Millisecond

	origRefresh, origFresh := rideRefresh, rideFresh
	rideRefresh, rideFresh = 20*time.Millisecond, false
	s.T().Cleanup(func() { rideRefresh, rideFresh = origRefresh, origFresh })
}

func (s *RideTestSuite) runRide(ctx context.Context, out *syncBuffer, sensors []rideSensor) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- ride(ctx, out, s.cfg, s.Adapter, sensors, s.Logger)
	}()
	return errCh
}

func (s *RideTestSuite) TestRideRecordsAndSavesOnExit() {
	// GOAL: Verify a ride connects the power meter, shows live power and saves the session on exit
	//
	// TEST SCENARIO: ride --power auto → notifications at 250 W → dashboard shows 250 → cancel → session file holds the ride

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	errCh := s.runRide(ctx, out, []rideSensor{{sensor.PowerMeter(), "auto"}})

	s.WaitFor(func() bool {
		return s.PowerMeter.Subscribed(bledb.CyclingPowerService, bledb.CyclingPowerMeasurement)
	}, "power meter MUST be subscribed")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.PowerMeter.Notify(bledb.CyclingPowerService, bledb.CyclingPowerMeasurement, []byte{0x00, 0x00, 0xFA, 0x00})
		if bytes.Contains([]byte(out.String()), []byte(" 250 W")) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Contains(out.String(), "Assioma (Favero) DUO [6A1101]")
	s.Contains(out.String(), " 250 W")

	// let the data logger take a few samples
	time.Sleep(150 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		s.Require().NoError(err)
	case <-time.After(3 * time.Second):
		s.FailNow("ride MUST return after cancellation")
	}
	s.Contains(out.String(), "saved")

	store := session.NewStore(s.cfg.SessionFile, 0, nil, s.Logger)
	saved, err := store.Load()
	s.Require().NoError(err)
	s.Require().NotNil(saved, "ride MUST save the session on exit")
	s.Equal(250, saved.LastPowerValue)
	s.NotEmpty(saved.PowerData)
	s.Equal(1, s.PowerMeter.DisconnectCalls(), "ride MUST disconnect sensors on exit")
}

func (s *RideTestSuite) TestRideReportsConnectFailureInLog() {
	// GOAL: Verify a failed connect lands in the dashboard log stamped by the ride clock
	//
	// TEST SCENARIO: manual clock at 07:30:00 → heart rate sensor not in range → log line "07:30:00 [error] heart_rate: No sensor found..."

	origClock := rideClock
	rideClock = s.Clock
	s.T().Cleanup(func() { rideClock = origClock })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	errCh := s.runRide(ctx, out, []rideSensor{{sensor.HeartRateMonitor(), "00:00:00:00:00:99"}})

	s.WaitFor(func() bool {
		return bytes.Contains([]byte(out.String()), []byte("07:30:00 [error] heart_rate: No sensor found"))
	}, "connect failure MUST reach the dashboard log with the ride clock time")

	cancel()
	s.Require().NoError(<-errCh)
}

func TestRideTestSuite(t *testing.T) {
	suite.Run(t, new(RideTestSuite))
}
