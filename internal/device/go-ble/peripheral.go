package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/powersaver/internal/device"
	"github.com/srg/powersaver/internal/groutine"
)

type peripheral struct {
	dev     ble.Device
	address string
	name    string
	logger  *logrus.Logger

	mu             sync.RWMutex
	client         ble.Client
	stopMonitor    context.CancelFunc
	listeners      map[uint64]func()
	nextListenerID uint64
}

func newPeripheral(dev ble.Device, address, name string, logger *logrus.Logger) *peripheral {
	return &peripheral{
		dev:       dev,
		address:   address,
		name:      name,
		logger:    logger,
		listeners: make(map[uint64]func()),
	}
}

func (p *peripheral) ID() string { return p.address }

func (p *peripheral) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.name == "" && p.client != nil {
		return p.client.Name()
	}
	return p.name
}

func (p *peripheral) OnDisconnect(fn func()) func() {
	p.mu.Lock()
	id := p.nextListenerID
	p.nextListenerID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Connect dials the peripheral. Connecting an already connected handle is a no-op.
func (p *peripheral) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.client != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.logger.WithField("address", p.address).Debug("Dialing BLE device...")
	client, err := p.dev.Dial(ctx, ble.NewAddr(p.address))
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"address": p.address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return NormalizeError("connect", fmt.Errorf("failed to connect to device with address %q: %w", p.address, err))
	}

	monitorCtx, stop := context.WithCancel(context.Background())

	p.mu.Lock()
	p.client = client
	p.stopMonitor = stop
	if p.name == "" {
		p.name = client.Name()
	}
	p.mu.Unlock()

	p.monitor(monitorCtx, client)

	p.logger.WithField("address", p.address).Info("BLE device connected")
	return nil
}

// monitor watches the client's Disconnected channel and notifies listeners
// when the link drops on its own.
func (p *peripheral) monitor(ctx context.Context, client ble.Client) {
	disconnected := client.Disconnected()
	if disconnected == nil {
		p.logger.Debug("Client has no disconnect channel; link loss will not be reported")
		return
	}

	groutine.Go(ctx, "ble-link-monitor", func(ctx context.Context) {
		select {
		case <-disconnected:
		case <-ctx.Done():
			return
		}

		p.mu.Lock()
		if p.client != client {
			// Disconnect() already released this client.
			p.mu.Unlock()
			return
		}
		p.client = nil
		p.stopMonitor = nil
		listeners := make([]func(), 0, len(p.listeners))
		for _, fn := range p.listeners {
			listeners = append(listeners, fn)
		}
		p.mu.Unlock()

		p.logger.WithField("address", p.address).Warn("BLE link lost")
		for _, fn := range listeners {
			fn()
		}
	})
}

func (p *peripheral) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client != nil
}

func (p *peripheral) Disconnect() error {
	p.mu.Lock()
	client, stop := p.client, p.stopMonitor
	p.client, p.stopMonitor = nil, nil
	p.mu.Unlock()

	if client == nil {
		p.logger.Debug("Disconnect called but already disconnected")
		return nil
	}
	if stop != nil {
		stop()
	}

	if err := client.CancelConnection(); err != nil {
		p.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError("disconnect", err)
	}
	p.logger.WithField("address", p.address).Info("BLE device disconnected")
	return nil
}

func (p *peripheral) currentClient() (ble.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, device.NewError(device.KindNetwork, "gatt", device.ErrNotConnected)
	}
	return p.client, nil
}

func (p *peripheral) PrimaryService(ctx context.Context, uuid string) (device.Service, error) {
	client, err := p.currentClient()
	if err != nil {
		return nil, err
	}

	var found *ble.Service
	err = withContext(ctx, "ble-discover-services", func() error {
		services, err := client.DiscoverServices(nil)
		if err != nil {
			return err
		}
		for _, s := range services {
			if device.SameUUID(s.UUID.String(), uuid) {
				found = s
				return nil
			}
		}
		return &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	})
	if err != nil {
		return nil, NormalizeError("discover service", err)
	}

	return &service{client: client, svc: found, logger: p.logger}, nil
}

// withContext runs a blocking go-ble call and returns early when ctx ends.
// go-ble discovery calls take no context, so the call itself may outlive ctx.
func withContext(ctx context.Context, name string, fn func() error) error {
	result := make(chan error, 1)
	groutine.Go(ctx, name, func(context.Context) {
		result <- fn()
	})

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
