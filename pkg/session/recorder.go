package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/powersaver/internal/groutine"
	"github.com/srg/powersaver/internal/ringchan"
	"github.com/srg/powersaver/internal/wallclock"
	"github.com/srg/powersaver/pkg/power"
	"github.com/srg/powersaver/pkg/sensor"
)

// Options configures a Recorder. Zero fields take defaults.
type Options struct {
	// SampleInterval is the data logger period.
	SampleInterval time.Duration
	// SaveEvery saves the session after this many logged samples.
	SaveEvery int
	// EventBuffer is the event loop queue size.
	EventBuffer int

	Store  *Store
	Log    *ConnectionLog
	Clock  wallclock.Clock
	Logger *logrus.Logger
}

const (
	defaultSampleInterval = 100 * time.Millisecond
	defaultSaveEvery      = 100
	defaultEventBuffer    = 256
)

type eventKind int

const (
	evMeasurement eventKind = iota
	evLinkStatus
	evLost
	evTick
	evClear
	evBarrier
)

type event struct {
	kind  eventKind
	role  string
	value int
	up    bool
	at    time.Time
	done  chan struct{}
}

// View is a consistent copy of the live session state.
type View struct {
	SessionID string
	StartTime time.Time
	Values    Values
	Averages  *power.Snapshot
	Samples   int
	Connected map[string]bool
}

// Recorder composes the power averager with the live heart rate and cadence
// values. Every sensor event goes through one event loop, which is the only
// writer of the averager and the history.
type Recorder struct {
	opts   Options
	clock  wallclock.Clock
	logger *logrus.Logger
	events *ringchan.Channel[event]

	tickMu  sync.Mutex
	ticker  wallclock.Timer
	stopped bool
	done    <-chan struct{}

	// mu guards everything below. The event loop holds it while applying
	// an event; readers take it shared.
	mu        sync.RWMutex
	id        string
	started   time.Time
	averager  *power.Averager
	history   []DataPoint
	readings  []power.Sample
	last      Values
	connected map[string]bool
	unsaved   int
}

// NewRecorder creates a recorder with a fresh session id.
func NewRecorder(opts Options) *Recorder {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = defaultSampleInterval
	}
	if opts.SaveEvery <= 0 {
		opts.SaveEvery = defaultSaveEvery
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Log == nil {
		opts.Log = NewConnectionLog(DefaultLogSize)
	}
	clock := wallclock.OrDefault(opts.Clock)

	return &Recorder{
		opts:      opts,
		clock:     clock,
		logger:    opts.Logger,
		events:    ringchan.New[event](opts.EventBuffer),
		id:        uuid.NewString(),
		started:   clock.Now(),
		averager:  power.NewAverager(clock, opts.Logger),
		connected: make(map[string]bool),
	}
}

// Restore loads the stored session, if any, and rebuilds the best averages
// from its history. It must be called before Start.
func (r *Recorder) Restore() (bool, error) {
	if r.opts.Store == nil {
		return false, nil
	}
	d, err := r.opts.Store.Load()
	if err != nil || d == nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d.SessionID != "" {
		r.id = d.SessionID
	}
	if !d.StartTime.IsZero() {
		r.started = d.StartTime
	}
	r.history = d.PowerData
	r.readings = d.PowerReadings
	r.last = Values{Power: d.LastPowerValue, HeartRate: d.LastHeartRateValue, Cadence: d.LastCadenceValue}
	r.averager.Recalculate(r.readings)

	r.logger.WithFields(logrus.Fields{
		"session": r.id,
		"samples": len(r.history),
	}).Info("Session restored")
	return true, nil
}

// Start runs the event loop and the data logger until ctx is done or Close
// is called.
func (r *Recorder) Start(ctx context.Context) {
	r.done = groutine.Go(ctx, "session-recorder", func(ctx context.Context) {
		r.loop(ctx)
	})
	r.scheduleTick()
}

func (r *Recorder) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.events.C():
			if !ok {
				return
			}
			r.apply(ev)
		}
	}
}

func (r *Recorder) apply(ev event) {
	if ev.kind == evBarrier {
		if ev.done != nil {
			close(ev.done)
		}
		return
	}

	var save *Data
	r.mu.Lock()
	switch ev.kind {
	case evMeasurement:
		r.applyMeasurementLocked(ev)
	case evLinkStatus:
		r.connected[ev.role] = ev.up
	case evLost:
		r.connected[ev.role] = false
		if ev.role == RolePower && len(r.history) == 0 {
			r.averager.Reset()
			r.readings = nil
		}
	case evTick:
		if r.connected[RolePower] {
			r.history = append(r.history, DataPoint{
				Timestamp: ev.at,
				Power:     r.last.Power,
				HeartRate: r.last.HeartRate,
				Cadence:   r.last.Cadence,
			})
			r.unsaved++
			if r.unsaved >= r.opts.SaveEvery {
				r.unsaved = 0
				save = r.dataLocked()
			}
		}
	case evClear:
		r.history = nil
		r.readings = nil
		r.last = Values{}
		r.unsaved = 0
		r.started = ev.at
		r.averager.Reset()
	}
	r.mu.Unlock()

	if save != nil {
		r.save(save)
	}
	if ev.done != nil {
		close(ev.done)
	}
}

func (r *Recorder) applyMeasurementLocked(ev event) {
	switch ev.role {
	case RolePower:
		if r.averager.AddReadingAt(ev.at, float64(ev.value)) {
			r.readings = append(r.readings, power.Sample{Timestamp: ev.at, Watts: ev.value})
			r.last.Power = ev.value
		}
	case RoleHeartRate:
		r.last.HeartRate = ev.value
	case RoleCadence:
		r.last.Cadence = ev.value
	}
}

func (r *Recorder) scheduleTick() {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	if r.stopped {
		return
	}
	r.ticker = r.clock.AfterFunc(r.opts.SampleInterval, func() {
		r.events.Send(event{kind: evTick, at: r.clock.Now()})
		r.scheduleTick()
	})
}

// Callbacks returns the sensor callbacks and status sink for role.
func (r *Recorder) Callbacks(role string) *RoleCallbacks {
	return &RoleCallbacks{r: r, role: role}
}

// Clear drops history, averages and last values and deletes the stored
// session.
func (r *Recorder) Clear(ctx context.Context) error {
	if err := r.roundTrip(ctx, event{kind: evClear, at: r.clock.Now()}); err != nil {
		return err
	}
	r.logger.WithField("session", r.View().SessionID).Info("Session cleared")
	if r.opts.Store == nil {
		return nil
	}
	return r.opts.Store.Clear()
}

// Flush waits until every event sent before the call has been applied.
func (r *Recorder) Flush(ctx context.Context) error {
	return r.roundTrip(ctx, event{kind: evBarrier})
}

// roundTrip sends ev and waits for the loop to apply it. Before Start the
// event is applied inline.
func (r *Recorder) roundTrip(ctx context.Context, ev event) error {
	if r.done == nil {
		r.apply(ev)
		return nil
	}

	ev.done = make(chan struct{})
	r.events.Send(ev)
	select {
	case <-ev.done:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View returns a copy of the live state.
func (r *Recorder) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connected := make(map[string]bool, len(r.connected))
	for k, v := range r.connected {
		connected[k] = v
	}
	return View{
		SessionID: r.id,
		StartTime: r.started,
		Values:    r.last,
		Averages:  r.averager.Snapshot(),
		Samples:   len(r.history),
		Connected: connected,
	}
}

// Data returns the persistable form of the session.
func (r *Recorder) Data() *Data {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dataLocked()
}

func (r *Recorder) dataLocked() *Data {
	return &Data{
		SessionID:          r.id,
		StartTime:          r.started,
		PowerData:          append([]DataPoint(nil), r.history...),
		PowerReadings:      append([]power.Sample(nil), r.readings...),
		PowerAverages:      r.averager.Snapshot(),
		LastPowerValue:     r.last.Power,
		LastHeartRateValue: r.last.HeartRate,
		LastCadenceValue:   r.last.Cadence,
	}
}

// Save writes the session to the store, if there is one and it has data.
func (r *Recorder) Save() error {
	d := r.Data()
	if r.opts.Store == nil || len(d.PowerData) == 0 {
		return nil
	}
	return r.opts.Store.Save(d)
}

func (r *Recorder) save(d *Data) {
	if r.opts.Store == nil {
		return
	}
	if err := r.opts.Store.Save(d); err != nil {
		r.logger.WithError(err).Warn("Failed to save session")
	}
}

// Log returns the connection log.
func (r *Recorder) Log() *ConnectionLog { return r.opts.Log }

// Close stops the data logger and the event loop, then saves the session.
func (r *Recorder) Close() error {
	r.tickMu.Lock()
	r.stopped = true
	if r.ticker != nil {
		r.ticker.Stop()
	}
	r.tickMu.Unlock()

	r.events.Close()
	if r.done != nil {
		<-r.done
	}

	if err := r.Save(); err != nil {
		return fmt.Errorf("failed to save session on close: %w", err)
	}
	return nil
}

// RoleCallbacks adapts one sensor role onto the recorder. It implements
// sensor.Callbacks and sensor.StatusSink.
type RoleCallbacks struct {
	r    *Recorder
	role string

	mu     sync.Mutex
	name   string
	status string
}

var (
	_ sensor.Callbacks  = (*RoleCallbacks)(nil)
	_ sensor.StatusSink = (*RoleCallbacks)(nil)
)

func (c *RoleCallbacks) OnStatusUpdate(message string) {
	c.r.opts.Log.Append(LogEntry{Time: c.r.clock.Now(), Role: c.role, Level: logrus.InfoLevel, Message: message})
}

func (c *RoleCallbacks) OnMeasurement(value int) {
	c.r.events.Send(event{kind: evMeasurement, role: c.role, value: value, at: c.r.clock.Now()})
}

func (c *RoleCallbacks) OnDisconnected() {
	c.r.events.Send(event{kind: evLost, role: c.role, at: c.r.clock.Now()})
}

func (c *RoleCallbacks) SetConnectionStatus(status string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	c.r.events.Send(event{kind: evLinkStatus, role: c.role, up: status == sensor.SinkConnected, at: c.r.clock.Now()})
}

func (c *RoleCallbacks) SetDeviceName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

// Status returns the last connection status and device name.
func (c *RoleCallbacks) Status() (status, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.name
}

// ErrClosed is returned by operations on a closed recorder.
var ErrClosed = errors.New("session recorder closed")
