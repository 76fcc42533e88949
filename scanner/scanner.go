package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/powersaver/internal/device"
	"github.com/srg/powersaver/internal/ringchan"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// Candidate is a peripheral seen while scanning.
type Candidate struct {
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	RSSI        int       `json:"rssi"`
	Services    []string  `json:"services"`
	Connectable bool      `json:"connectable"`
	LastSeen    time.Time `json:"lastSeen"`
}

type DeviceEvent struct {
	Type      DeviceEventType
	Candidate Candidate
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	ServiceUUIDs    []string
	NamePrefix      string
	AllowList       []string
	BlockList       []string

	// StopWhen ends the scan early once it returns true for a candidate.
	StopWhen func(Candidate) bool
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// Scanner handles BLE device discovery
type Scanner struct {
	source device.ScanningDevice
	events *ringchan.Channel[DeviceEvent]
	logger *logrus.Logger
	now    func() time.Time
}

// NewScanner creates a scanner reading advertisements from source.
func NewScanner(source device.ScanningDevice, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		source: source,
		events: ringchan.New[DeviceEvent](100),
		logger: logger,
		now:    time.Now,
	}
}

// Scan performs BLE discovery with provided options. Results are ordered by
// signal strength, strongest first.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]Candidate, error) {
	devices := hashmap.New[string, Candidate]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.Duration > 0 {
		scanCtx, cancel = context.WithTimeout(scanCtx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	err := s.source.Scan(scanCtx, !opts.DuplicateFilter, func(adv device.Advertisement) {
		if c, ok := s.handleAdvertisement(devices, adv, opts); ok && opts.StopWhen != nil && opts.StopWhen(c) {
			cancel()
		}
	})
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	return sortedCandidates(devices), ctx.Err()
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(devices *hashmap.Map[string, Candidate], adv device.Advertisement, opts *ScanOptions) (Candidate, bool) {
	addr := adv.Addr()

	prev, existing := devices.Get(addr)
	if !existing && !shouldIncludeDevice(adv, opts) {
		return Candidate{}, false
	}

	c := Candidate{
		Address:     addr,
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Services:    adv.Services(),
		Connectable: adv.Connectable(),
		LastSeen:    s.now(),
	}
	if existing {
		// Scan responses often omit fields the first report carried.
		if c.Name == "" {
			c.Name = prev.Name
		}
		if len(c.Services) == 0 {
			c.Services = prev.Services
		}
	}
	devices.Set(addr, c)

	event := DeviceEvent{Type: EventUpdated, Candidate: c}
	if !existing {
		s.logger.WithFields(logrus.Fields{
			"device":  c.Name,
			"address": c.Address,
			"rssi":    c.RSSI,
		}).Info("Discovered new device")
		event.Type = EventNew
	}
	s.events.Send(event)

	return c, true
}

// shouldIncludeDevice applies allow/block/name/service filters
func shouldIncludeDevice(adv device.Advertisement, opts *ScanOptions) bool {
	addr := adv.Addr()

	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if strings.EqualFold(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if opts.NamePrefix != "" && !strings.HasPrefix(adv.LocalName(), opts.NamePrefix) {
		return false
	}

	if len(opts.ServiceUUIDs) > 0 {
		for _, required := range opts.ServiceUUIDs {
			for _, advertised := range adv.Services() {
				if device.SameUUID(required, advertised) {
					return true
				}
			}
		}
		return false
	}

	return true
}

func sortedCandidates(devices *hashmap.Map[string, Candidate]) []Candidate {
	out := make([]Candidate, 0, devices.Len())
	devices.Range(func(_ string, c Candidate) bool {
		out = append(out, c)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
