package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/srg/powersaver/internal/device"
)

// Hook runs inside a fake GATT operation. Returning an error fails the
// operation; blocking until ctx is done simulates a hung peripheral.
type Hook func(ctx context.Context) error

// BlockUntilDone is a Hook that never completes on its own.
func BlockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return context.Cause(ctx)
}

// FailWith returns a Hook that fails with err.
func FailWith(err error) Hook {
	return func(context.Context) error { return err }
}

// FakePeripheral is an in-memory device.Peripheral with failure injection.
//
//	p := testutils.NewFakePeripheral("AA:BB:CC:DD:EE:FF", "Stages").
//	    WithCharacteristic("1818", "2a63").
//	    WithReadable("180a", "2a29", []byte("Stages Cycling"))
type FakePeripheral struct {
	id   string
	name string

	mu        sync.Mutex
	connected bool
	listeners map[int]func()
	nextID    int
	services  map[string]*fakeService

	connectHooks []Hook
	serviceHooks map[string]Hook
	notifyHooks  map[string]Hook

	connectCalls    int
	disconnectCalls int
}

var _ device.Peripheral = (*FakePeripheral)(nil)

// NewFakePeripheral creates a fake with no services.
func NewFakePeripheral(id, name string) *FakePeripheral {
	return &FakePeripheral{
		id:           id,
		name:         name,
		listeners:    make(map[int]func()),
		services:     make(map[string]*fakeService),
		serviceHooks: make(map[string]Hook),
		notifyHooks:  make(map[string]Hook),
	}
}

// WithCharacteristic adds a notifying characteristic under service.
func (p *FakePeripheral) WithCharacteristic(service, char string) *FakePeripheral {
	p.characteristic(service, char)
	return p
}

// WithReadable adds a readable characteristic holding value.
func (p *FakePeripheral) WithReadable(service, char string, value []byte) *FakePeripheral {
	c := p.characteristic(service, char)
	c.value = value
	return p
}

// FailConnect queues hooks for the next Connect calls, one per call.
// A nil hook lets that call succeed.
func (p *FakePeripheral) FailConnect(hooks ...Hook) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectHooks = append(p.connectHooks, hooks...)
	return p
}

// OnPrimaryService installs a hook run on every PrimaryService(uuid) call.
func (p *FakePeripheral) OnPrimaryService(uuid string, hook Hook) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.serviceHooks[device.NormalizeUUID(uuid)] = hook
	return p
}

// OnStartNotifications installs a hook run when notifications start on char.
func (p *FakePeripheral) OnStartNotifications(char string, hook Hook) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifyHooks[device.NormalizeUUID(char)] = hook
	return p
}

func (p *FakePeripheral) characteristic(service, char string) *fakeCharacteristic {
	p.mu.Lock()
	defer p.mu.Unlock()

	svcID := device.NormalizeUUID(service)
	svc, ok := p.services[svcID]
	if !ok {
		svc = &fakeService{peripheral: p, uuid: svcID, chars: make(map[string]*fakeCharacteristic)}
		p.services[svcID] = svc
	}
	charID := device.NormalizeUUID(char)
	c, ok := svc.chars[charID]
	if !ok {
		c = &fakeCharacteristic{peripheral: p, uuid: charID}
		svc.chars[charID] = c
	}
	return c
}

func (p *FakePeripheral) ID() string   { return p.id }
func (p *FakePeripheral) Name() string { return p.name }

func (p *FakePeripheral) OnDisconnect(fn func()) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *FakePeripheral) Connect(ctx context.Context) error {
	p.mu.Lock()
	p.connectCalls++
	var hook Hook
	if len(p.connectHooks) > 0 {
		hook, p.connectHooks = p.connectHooks[0], p.connectHooks[1:]
	}
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

func (p *FakePeripheral) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *FakePeripheral) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnectCalls++
	p.connected = false
	for _, svc := range p.services {
		for _, c := range svc.chars {
			c.handler = nil
		}
	}
	return nil
}

func (p *FakePeripheral) PrimaryService(ctx context.Context, uuid string) (device.Service, error) {
	id := device.NormalizeUUID(uuid)

	p.mu.Lock()
	connected := p.connected
	hook := p.serviceHooks[id]
	svc, ok := p.services[id]
	p.mu.Unlock()

	if !connected {
		return nil, device.NewError(device.KindNetwork, "discover service", device.ErrNotConnected)
	}
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{id}}
	}
	return svc, nil
}

// SimulateDisconnect drops the link and notifies listeners, as the platform
// would on a lost connection.
func (p *FakePeripheral) SimulateDisconnect() {
	p.mu.Lock()
	p.connected = false
	listeners := make([]func(), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	for _, svc := range p.services {
		for _, c := range svc.chars {
			c.handler = nil
		}
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// DropLink marks the link down without notifying anyone.
func (p *FakePeripheral) DropLink() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

// Notify delivers data to the notification handler of char. It reports
// whether a handler was subscribed.
func (p *FakePeripheral) Notify(service, char string, data []byte) bool {
	p.mu.Lock()
	var handler func([]byte)
	if svc, ok := p.services[device.NormalizeUUID(service)]; ok {
		if c, ok := svc.chars[device.NormalizeUUID(char)]; ok {
			handler = c.handler
		}
	}
	p.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(data)
	return true
}

// Subscribed reports whether notifications are active on char.
func (p *FakePeripheral) Subscribed(service, char string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if svc, ok := p.services[device.NormalizeUUID(service)]; ok {
		if c, ok := svc.chars[device.NormalizeUUID(char)]; ok {
			return c.handler != nil
		}
	}
	return false
}

func (p *FakePeripheral) ConnectCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectCalls
}

func (p *FakePeripheral) DisconnectCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnectCalls
}

// ListenerCount returns the number of registered disconnect listeners.
func (p *FakePeripheral) ListenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

type fakeService struct {
	peripheral *FakePeripheral
	uuid       string
	chars      map[string]*fakeCharacteristic
}

func (s *fakeService) UUID() string { return s.uuid }

func (s *fakeService) Characteristic(_ context.Context, uuid string) (device.Characteristic, error) {
	id := device.NormalizeUUID(uuid)

	s.peripheral.mu.Lock()
	c, ok := s.chars[id]
	s.peripheral.mu.Unlock()

	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid, id}}
	}
	return c, nil
}

type fakeCharacteristic struct {
	peripheral *FakePeripheral
	uuid       string
	value      []byte
	handler    func([]byte)
}

func (c *fakeCharacteristic) UUID() string { return c.uuid }

func (c *fakeCharacteristic) Read(context.Context) ([]byte, error) {
	c.peripheral.mu.Lock()
	defer c.peripheral.mu.Unlock()
	if c.value == nil {
		return nil, device.NewError(device.KindNotSupported, "read", errors.New("characteristic is not readable"))
	}
	return append([]byte(nil), c.value...), nil
}

func (c *fakeCharacteristic) StartNotifications(ctx context.Context, handler func([]byte)) error {
	c.peripheral.mu.Lock()
	hook := c.peripheral.notifyHooks[c.uuid]
	c.peripheral.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	c.peripheral.mu.Lock()
	c.handler = handler
	c.peripheral.mu.Unlock()
	return nil
}

func (c *fakeCharacteristic) StopNotifications() error {
	c.peripheral.mu.Lock()
	c.handler = nil
	c.peripheral.mu.Unlock()
	return nil
}
