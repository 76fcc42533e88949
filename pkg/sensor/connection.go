package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/powersaver/internal/bledb"
	"github.com/srg/powersaver/internal/device"
	"github.com/srg/powersaver/internal/wallclock"
	"github.com/srg/powersaver/pkg/measurement"
)

// Status strings mirrored into a StatusSink.
const (
	SinkConnected    = "Connected"
	SinkDisconnected = "Disconnected"
	SinkReconnecting = "Reconnecting"
	SinkFailed       = "Connection Failed"
)

// Connection drives the lifecycle of one sensor link: chooser, GATT connect,
// discovery, notification subscription and bounded automatic reconnection.
//
// A Connection never runs two connect sequences at once. Calls to Connect
// and Disconnect may come from any goroutine.
type Connection struct {
	profile Profile
	adapter device.Adapter
	opts    Options
	logger  *logrus.Entry

	// seq serializes connect sequences, manual and automatic.
	seq sync.Mutex

	mu             sync.Mutex
	state          State
	peripheral     device.Peripheral
	char           device.Characteristic
	decoder        measurement.Decoder
	removeListener func()
	callbacks      Callbacks
	sink           StatusSink
	attempts       int
	reconnect      *reconnectToken
	epoch          uint64
	lastErr        error
	deviceName     string
}

// reconnectToken owns one pending reconnect timer. Installing a new token
// always cancels the previous one.
type reconnectToken struct {
	timer     wallclock.Timer
	cancelled bool
}

func (t *reconnectToken) cancel() {
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

// link is the set of resources held by an established connection.
type link struct {
	peripheral device.Peripheral
	char       device.Characteristic
	decoder    measurement.Decoder
	remove     func()
}

// NewConnection creates an idle connection for profile.
func NewConnection(profile Profile, adapter device.Adapter, opts Options) *Connection {
	opts = opts.withDefaults()
	return &Connection{
		profile: profile,
		adapter: adapter,
		opts:    opts,
		logger:  opts.Logger.WithField("role", profile.Role),
		state:   Idle,
	}
}

// Profile returns the sensor profile this connection was created for.
func (c *Connection) Profile() Profile { return c.profile }

// Connect runs a manual connection: it cancels any pending automatic retry,
// resets the attempt counter, tears down the previous link and walks the
// full connect sequence. cb is required; sink may be nil.
//
// A chooser that selects nothing yields an error matching
// device.ErrNoDeviceSelected and leaves the connection Idle. Every other
// failure wraps ErrConnectionFailure and the categorized transport error.
func (c *Connection) Connect(ctx context.Context, cb Callbacks, sink StatusSink) error {
	if cb == nil {
		return errors.New("sensor: callbacks are required")
	}

	c.mu.Lock()
	c.cancelReconnectLocked()
	c.attempts = 0
	c.epoch++
	epoch := c.epoch
	stale := c.takeLinkLocked()
	c.callbacks, c.sink = cb, sink
	c.lastErr = nil
	c.deviceName = ""
	c.setStateLocked(Scanning)
	c.mu.Unlock()

	c.release(stale)

	c.seq.Lock()
	defer c.seq.Unlock()

	c.status(epoch, "Scanning for devices...")

	p, err := c.adapter.RequestDevice(ctx, device.Filter{
		Services: []string{c.profile.Service},
		Address:  c.opts.DeviceAddress,
	})
	if err != nil {
		if device.KindOf(err) == device.KindNoDeviceSelected {
			c.logger.WithError(err).Info("No device selected")
			if c.advance(epoch, Idle, "No device selected.") && sink != nil {
				sink.SetConnectionStatus(SinkDisconnected)
			}
			return err
		}
		err = device.NormalizeError("request device", err)
		c.fail(epoch, err)
		return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}

	c.logger.WithFields(logrus.Fields{
		"device": p.ID(),
		"name":   p.Name(),
	}).Info("Device selected")

	if err := c.runSequence(ctx, p, epoch); err != nil {
		if errors.Is(err, ErrSuperseded) {
			return err
		}
		c.fail(epoch, err)
		return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}
	return nil
}

// Disconnect cancels any pending reconnect, unsubscribes and closes the
// GATT link. Errors are logged and swallowed. OnDisconnected is not
// invoked. Calling it on an idle connection is a no-op.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.epoch++
	c.cancelReconnectLocked()
	c.attempts = 0
	l := c.takeLinkLocked()
	wasIdle := c.state == Idle
	c.setStateLocked(Idle)
	sink := c.sink
	c.mu.Unlock()

	c.release(l)

	if !wasIdle {
		c.logger.Info("Disconnected on request")
		if sink != nil {
			sink.SetConnectionStatus(SinkDisconnected)
		}
	}
}

// IsConnected reports whether a device handle exists and its link is up.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	p := c.peripheral
	c.mu.Unlock()
	return p != nil && p.Connected()
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of automatic reconnects made since the link
// was last established.
func (c *Connection) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastError returns the error of the most recent failed attempt, or
// ErrMaxRetriesExceeded once reconnection gave up.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// DeviceName returns the enhanced name of the connected device.
func (c *Connection) DeviceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceName
}

// runSequence walks connect, discovery and subscription against p. On
// failure it releases whatever it acquired. The result is discarded with
// ErrSuperseded if epoch went stale while it ran.
func (c *Connection) runSequence(ctx context.Context, p device.Peripheral, epoch uint64) (err error) {
	var l link
	l.peripheral = p
	defer func() {
		if err != nil {
			c.release(l)
		}
	}()

	c.advance(epoch, Connecting, "Connecting to device...")

	// The listener must be in place before the link can come up.
	l.remove = p.OnDisconnect(func() { c.onLinkLost(epoch) })

	connectCtx, cancel := c.opts.Clock.WithTimeoutCause(ctx, c.opts.ConnectTimeout,
		timeoutError("connect", c.opts.ConnectTimeout))
	err = p.Connect(connectCtx)
	if err != nil && connectCtx.Err() != nil {
		err = context.Cause(connectCtx)
	}
	cancel()
	if err != nil {
		return device.NormalizeError("connect", err)
	}

	c.advance(epoch, DiscoveringServices, "Discovering service...")

	svc, err := race(c, ctx, "discover service", func(ctx context.Context) (device.Service, error) {
		return p.PrimaryService(ctx, c.profile.Service)
	})
	if err != nil {
		return err
	}
	l.char, err = race(c, ctx, "discover characteristic", func(ctx context.Context) (device.Characteristic, error) {
		return svc.Characteristic(ctx, c.profile.Characteristic)
	})
	if err != nil {
		return err
	}

	c.advance(epoch, SubscribingNotifications, "Configuring notifications...")

	l.decoder = c.profile.NewDecoder(c.opts.Clock, func(v int) { c.measure(epoch, v) })
	dec := l.decoder
	_, err = race(c, ctx, "start notifications", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, l.char.StartNotifications(ctx, func(data []byte) {
			c.handleNotification(epoch, dec, data)
		})
	})
	if err != nil {
		return err
	}

	if !p.Connected() {
		return device.NewError(device.KindNetwork, "connect", device.ErrNotConnected)
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.peripheral = p
	c.char, c.decoder, c.removeListener = l.char, l.decoder, l.remove
	c.attempts = 0
	c.lastErr = nil
	c.setStateLocked(Connected)
	c.mu.Unlock()

	name := c.describe(ctx, p)

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return nil
	}
	c.deviceName = name
	cb, sink := c.callbacks, c.sink
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"device":         p.ID(),
		"name":           name,
		"service":        bledb.LookupService(c.profile.Service),
		"characteristic": bledb.LookupCharacteristic(c.profile.Characteristic),
	}).Info("Connected")

	if sink != nil {
		sink.SetDeviceName(name)
		sink.SetConnectionStatus(SinkConnected)
	}
	cb.OnStatusUpdate("Connected!")
	return nil
}

func (c *Connection) handleNotification(epoch uint64, dec measurement.Decoder, data []byte) {
	v, err := dec.Decode(data)
	switch {
	case err == nil:
		c.measure(epoch, v)
	case errors.Is(err, measurement.ErrNoValue):
	default:
		c.logger.WithError(err).WithField("bytes", len(data)).Debug("Dropping notification")
	}
}

func (c *Connection) measure(epoch uint64, v int) {
	c.mu.Lock()
	cb := c.callbacks
	current := epoch == c.epoch
	c.mu.Unlock()
	if current && cb != nil {
		cb.OnMeasurement(v)
	}
}

// onLinkLost handles a platform disconnect event for the link set up under
// epoch. Events for stale links and events that arrive while a connect
// sequence is still running are ignored.
func (c *Connection) onLinkLost(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || c.state != Connected {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(Disconnected)
	dec := c.decoder
	c.char, c.decoder = nil, nil
	loss := c.lostLocked()
	cb, sink := c.callbacks, c.sink
	c.mu.Unlock()

	stopDecoder(dec)
	c.logger.WithField("attempt", loss.attempt).Warn("Link lost")

	if sink != nil {
		sink.SetConnectionStatus(SinkDisconnected)
	}
	if c.profile.ZeroOnDisconnect {
		cb.OnMeasurement(0)
	}
	c.deliver(loss, cb, sink)
}

// lossOutcome carries what lostLocked decided to the unlocked caller.
type lossOutcome struct {
	message  string
	attempt  int
	terminal bool
	remove   func()
}

// lostLocked either schedules the next automatic reconnect or, once the
// attempts are used up, ends in Disconnected.
func (c *Connection) lostLocked() lossOutcome {
	limit := c.opts.MaxReconnectAttempts
	if c.attempts >= limit {
		c.cancelReconnectLocked()
		c.setStateLocked(Disconnected)
		remove := c.removeListener
		c.removeListener = nil
		c.peripheral = nil
		c.deviceName = ""
		c.lastErr = ErrMaxRetriesExceeded
		return lossOutcome{
			message:  fmt.Sprintf("Unable to reconnect after %d attempts. Connect again to resume.", limit),
			attempt:  c.attempts,
			terminal: true,
			remove:   remove,
		}
	}

	c.attempts++
	c.setStateLocked(Reconnecting)
	c.cancelReconnectLocked()
	token := &reconnectToken{}
	c.reconnect = token
	token.timer = c.opts.Clock.AfterFunc(c.opts.ReconnectDelay, func() { c.reconnectFire(token) })

	return lossOutcome{
		message: fmt.Sprintf("Connection lost. Reconnecting in %s (attempt %d/%d)...",
			c.opts.ReconnectDelay, c.attempts, limit),
		attempt: c.attempts,
	}
}

func (c *Connection) deliver(loss lossOutcome, cb Callbacks, sink StatusSink) {
	if loss.remove != nil {
		loss.remove()
	}
	cb.OnStatusUpdate(loss.message)
	if !loss.terminal {
		if sink != nil {
			sink.SetConnectionStatus(SinkReconnecting)
		}
		return
	}
	c.logger.WithError(ErrMaxRetriesExceeded).Warn("Giving up on reconnection")
	if sink != nil {
		sink.SetConnectionStatus(SinkDisconnected)
		sink.SetDeviceName("")
	}
	cb.OnDisconnected()
}

// reconnectFire runs one automatic attempt against the same device handle.
func (c *Connection) reconnectFire(token *reconnectToken) {
	if !c.tokenCurrent(token) {
		return
	}

	c.seq.Lock()
	defer c.seq.Unlock()

	c.mu.Lock()
	if token.cancelled || c.reconnect != token || c.peripheral == nil {
		c.mu.Unlock()
		return
	}
	c.reconnect = nil
	p := c.peripheral
	epoch := c.epoch
	attempt := c.attempts
	remove := c.removeListener
	c.removeListener = nil
	c.mu.Unlock()

	if remove != nil {
		remove()
	}

	c.status(epoch, fmt.Sprintf("Reconnecting (attempt %d/%d)...", attempt, c.opts.MaxReconnectAttempts))
	c.logger.WithFields(logrus.Fields{
		"device":  p.ID(),
		"attempt": attempt,
	}).Info("Reconnecting")

	err := c.runSequence(context.Background(), p, epoch)
	if err == nil || errors.Is(err, ErrSuperseded) {
		return
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.lastErr = err
	loss := c.lostLocked()
	cb, sink := c.callbacks, c.sink
	c.mu.Unlock()

	c.logger.WithError(err).WithField("attempt", attempt).Warn("Reconnect attempt failed")
	c.deliver(loss, cb, sink)
}

func (c *Connection) tokenCurrent(token *reconnectToken) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !token.cancelled && c.reconnect == token
}

// fail surfaces a failed manual attempt: Failed, then back to Idle.
func (c *Connection) fail(epoch uint64, err error) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.lastErr = err
	c.setStateLocked(Failed)
	cb, sink := c.callbacks, c.sink
	c.mu.Unlock()

	c.logger.WithError(err).WithField("kind", device.KindOf(err)).Error("Connection failed")
	cb.OnStatusUpdate("Error: " + err.Error())
	if sink != nil {
		sink.SetConnectionStatus(SinkFailed)
	}

	c.mu.Lock()
	if epoch == c.epoch {
		c.setStateLocked(Idle)
	}
	c.mu.Unlock()
}

// advance moves to s and reports msg if epoch is still current.
func (c *Connection) advance(epoch uint64, s State, msg string) bool {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return false
	}
	c.setStateLocked(s)
	cb := c.callbacks
	c.mu.Unlock()

	if msg != "" && cb != nil {
		cb.OnStatusUpdate(msg)
	}
	return true
}

func (c *Connection) status(epoch uint64, msg string) {
	c.mu.Lock()
	cb := c.callbacks
	current := epoch == c.epoch
	c.mu.Unlock()
	if current && cb != nil {
		cb.OnStatusUpdate(msg)
	}
}

func (c *Connection) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"from": c.state,
		"to":   s,
	}).Debug("State change")
	c.state = s
}

func (c *Connection) cancelReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.cancel()
		c.reconnect = nil
	}
}

func (c *Connection) takeLinkLocked() link {
	l := link{
		peripheral: c.peripheral,
		char:       c.char,
		decoder:    c.decoder,
		remove:     c.removeListener,
	}
	c.peripheral, c.char, c.decoder, c.removeListener = nil, nil, nil, nil
	return l
}

// release tears l down. Every step is best-effort.
func (c *Connection) release(l link) {
	if l.remove != nil {
		l.remove()
	}
	if l.char != nil {
		if err := l.char.StopNotifications(); err != nil {
			c.logger.WithError(err).Debug("Failed to stop notifications")
		}
	}
	stopDecoder(l.decoder)
	if l.peripheral != nil && l.peripheral.Connected() {
		if err := l.peripheral.Disconnect(); err != nil {
			c.logger.WithError(err).Debug("Failed to close GATT link")
		}
	}
}

func stopDecoder(dec measurement.Decoder) {
	if s, ok := dec.(interface{ Stop() }); ok {
		s.Stop()
	}
}
