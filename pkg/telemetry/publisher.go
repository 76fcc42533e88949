// Package telemetry publishes live ride values to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/powersaver/internal/groutine"
	"github.com/srg/powersaver/internal/ringchan"
	"github.com/srg/powersaver/internal/wallclock"
	"github.com/srg/powersaver/pkg/power"
	"github.com/srg/powersaver/pkg/session"
)

const (
	DefaultTopic    = "powersaver/live"
	DefaultInterval = time.Second

	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	keepAlive      = 30
)

// Options configures a Publisher.
type Options struct {
	// Broker is host:port, optionally prefixed with tcp:// or mqtt://.
	Broker   string
	Topic    string
	Interval time.Duration
	// ClientID defaults to a random "powersaver-<uuid>".
	ClientID string

	Clock  wallclock.Clock
	Logger *logrus.Logger
}

// Message is the JSON document published on every tick.
type Message struct {
	SessionID string          `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	Power     int             `json:"power"`
	HeartRate int             `json:"heartRate"`
	Cadence   int             `json:"cadence"`
	Averages  *power.Snapshot `json:"averages"`
}

// NewMessage builds the published document from a recorder view.
func NewMessage(v session.View, at time.Time) Message {
	return Message{
		SessionID: v.SessionID,
		Timestamp: at,
		Power:     v.Values.Power,
		HeartRate: v.Values.HeartRate,
		Cadence:   v.Values.Cadence,
		Averages:  v.Averages,
	}
}

// Source returns the current live state.
type Source func() session.View

// ErrNotConnected is returned when publishing before Start or after Close.
var ErrNotConnected = errors.New("telemetry publisher is not connected")

// Publisher sends a Message every interval at QoS 0. Publish failures are
// logged and never stop the ride.
type Publisher struct {
	opts   Options
	source Source
	clock  wallclock.Clock
	logger *logrus.Entry

	ticks *ringchan.Channel[time.Time]
	done  <-chan struct{}

	mu      sync.Mutex
	client  *paho.Client
	timer   wallclock.Timer
	stopped bool
	sent    int
	failed  int
}

// NewPublisher creates a publisher reading values from source.
func NewPublisher(opts Options, source Source) *Publisher {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ClientID == "" {
		opts.ClientID = "powersaver-" + uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Publisher{
		opts:   opts,
		source: source,
		clock:  wallclock.OrDefault(opts.Clock),
		logger: opts.Logger.WithFields(logrus.Fields{"broker": opts.Broker, "topic": opts.Topic}),
		ticks:  ringchan.New[time.Time](1),
	}
}

// Start connects to the broker and begins publishing.
func (p *Publisher) Start(ctx context.Context) error {
	if p.opts.Broker == "" {
		return fmt.Errorf("telemetry: broker address is required")
	}

	dialCtx, cancel := p.clock.WithTimeoutCause(ctx, connectTimeout,
		fmt.Errorf("telemetry: connect to %s timed out", p.opts.Broker))
	defer cancel()

	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", brokerAddress(p.opts.Broker))
	if err != nil {
		return fmt.Errorf("telemetry: failed to dial broker: %w", err)
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: p.opts.ClientID,
		Conn:     conn,
		OnClientError: func(err error) {
			p.logger.WithError(err).Warn("Telemetry client error")
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			p.logger.WithField("reason", d.ReasonCode).Warn("Broker closed telemetry connection")
		},
	})

	if _, err := client.Connect(dialCtx, &paho.Connect{
		ClientID:   p.opts.ClientID,
		KeepAlive:  keepAlive,
		CleanStart: true,
	}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("telemetry: failed to connect: %w", err)
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	p.done = groutine.Go(ctx, "telemetry-publisher", p.loop)
	p.schedule()

	p.logger.WithField("interval", p.opts.Interval).Info("Publishing live telemetry")
	return nil
}

func (p *Publisher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case at, ok := <-p.ticks.C():
			if !ok {
				return
			}
			if err := p.publish(ctx, at); err != nil {
				p.logger.WithError(err).Debug("Telemetry publish failed")
			}
		}
	}
}

func (p *Publisher) schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.timer = p.clock.AfterFunc(p.opts.Interval, func() {
		p.ticks.Send(p.clock.Now())
		p.schedule()
	})
}

// PublishNow publishes the current values immediately.
func (p *Publisher) PublishNow(ctx context.Context) error {
	return p.publish(ctx, p.clock.Now())
}

func (p *Publisher) publish(ctx context.Context, at time.Time) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(NewMessage(p.source(), at))
	if err != nil {
		return fmt.Errorf("telemetry: failed to encode message: %w", err)
	}

	pubCtx, cancel := p.clock.WithTimeoutCause(ctx, publishTimeout, errors.New("telemetry: publish timed out"))
	defer cancel()

	_, err = client.Publish(pubCtx, &paho.Publish{
		QoS:     0,
		Topic:   p.opts.Topic,
		Payload: payload,
	})

	p.mu.Lock()
	if err != nil {
		p.failed++
	} else {
		p.sent++
	}
	p.mu.Unlock()
	return err
}

// Stats returns how many messages were sent and how many failed.
func (p *Publisher) Stats() (sent, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent, p.failed
}

// Close stops publishing and disconnects from the broker.
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
	client := p.client
	p.client = nil
	p.mu.Unlock()

	p.ticks.Close()
	if p.done != nil {
		<-p.done
	}
	if client == nil {
		return nil
	}
	if err := client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		return fmt.Errorf("telemetry: failed to disconnect: %w", err)
	}
	return nil
}

func brokerAddress(broker string) string {
	for _, scheme := range []string{"tcp://", "mqtt://"} {
		if strings.HasPrefix(broker, scheme) {
			return strings.TrimPrefix(broker, scheme)
		}
	}
	return broker
}
