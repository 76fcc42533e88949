package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/srg/powersaver/internal/bledb"
	"github.com/srg/powersaver/internal/device"
)

// FakeAdapter is a device.Adapter choosing among fixed fake peripherals.
type FakeAdapter struct {
	mu          sync.Mutex
	peripherals []*FakePeripheral
	advertised  map[*FakePeripheral][]string
	failures    []error
	requests    int
}

var _ device.Adapter = (*FakeAdapter)(nil)

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{advertised: make(map[*FakePeripheral][]string)}
}

// WithPeripheral makes p selectable for filters naming any of services.
func (a *FakeAdapter) WithPeripheral(p *FakePeripheral, services ...string) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peripherals = append(a.peripherals, p)
	a.advertised[p] = bledb.NormalizeUUIDs(services)
	return a
}

// FailRequests queues errors returned by the next RequestDevice calls.
func (a *FakeAdapter) FailRequests(errs ...error) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, errs...)
	return a
}

func (a *FakeAdapter) RequestDevice(ctx context.Context, filter device.Filter) (device.Peripheral, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests++

	if len(a.failures) > 0 {
		err := a.failures[0]
		a.failures = a.failures[1:]
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, device.NewError(device.KindNoDeviceSelected, "request device", err)
	}

	for _, p := range a.peripherals {
		if filter.Address != "" && filter.Address != p.ID() {
			continue
		}
		if matchesAny(a.advertised[p], filter.Services) {
			return p, nil
		}
	}
	return nil, device.NewError(device.KindNoDeviceSelected, "request device", errors.New("no matching device"))
}

// Requests returns how many times the chooser was invoked.
func (a *FakeAdapter) Requests() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests
}

func matchesAny(advertised, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		for _, adv := range advertised {
			if device.SameUUID(w, adv) {
				return true
			}
		}
	}
	return false
}

// FakeAdvertisement is a static device.Advertisement.
type FakeAdvertisement struct {
	Address      string
	Name         string
	Signal       int
	ServiceUUIDs []string
	NotConnect   bool
}

func (a FakeAdvertisement) LocalName() string        { return a.Name }
func (a FakeAdvertisement) Services() []string       { return bledb.NormalizeUUIDs(a.ServiceUUIDs) }
func (a FakeAdvertisement) ManufacturerData() []byte { return nil }
func (a FakeAdvertisement) Connectable() bool        { return !a.NotConnect }
func (a FakeAdvertisement) RSSI() int                { return a.Signal }
func (a FakeAdvertisement) Addr() string             { return a.Address }

// FakeScanSource replays advertisements then waits for the scan context to end.
type FakeScanSource struct {
	Adverts []device.Advertisement
	Err     error
}

func (s *FakeScanSource) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	if s.Err != nil {
		return s.Err
	}
	for _, adv := range s.Adverts {
		if ctx.Err() != nil {
			return nil
		}
		handler(adv)
	}
	<-ctx.Done()
	return nil
}

// FakeTransport is an opened controller backed by a FakeScanSource. Scanned
// addresses open the registered fake peripherals.
type FakeTransport struct {
	Source *FakeScanSource

	mu          sync.Mutex
	peripherals map[string]*FakePeripheral
	closed      bool
}

func NewFakeTransport(adverts ...device.Advertisement) *FakeTransport {
	return &FakeTransport{
		Source:      &FakeScanSource{Adverts: adverts},
		peripherals: make(map[string]*FakePeripheral),
	}
}

// WithPeripheral registers p under its ID.
func (t *FakeTransport) WithPeripheral(p *FakePeripheral) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peripherals[p.ID()] = p
	return t
}

func (t *FakeTransport) Scanner() device.ScanningDevice { return t.Source }

func (t *FakeTransport) Peripheral(address, name string) device.Peripheral {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peripherals[address]; ok {
		return p
	}
	p := NewFakePeripheral(address, name)
	t.peripherals[address] = p
	return p
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Closed reports whether Close was called.
func (t *FakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
