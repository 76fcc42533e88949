package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/powersaver/internal/device"
)

// PeripheralOpener turns a scanned address into an unconnected peripheral.
type PeripheralOpener func(address, name string) device.Peripheral

// Chooser implements device.Adapter by scanning for a bounded time and
// picking the best matching connectable peripheral.
type Chooser struct {
	scanner *Scanner
	open    PeripheralOpener
	timeout time.Duration
	logger  *logrus.Logger
}

// NewChooser creates a Chooser. timeout bounds each RequestDevice scan.
func NewChooser(s *Scanner, open PeripheralOpener, timeout time.Duration, logger *logrus.Logger) *Chooser {
	if logger == nil {
		logger = logrus.New()
	}
	return &Chooser{scanner: s, open: open, timeout: timeout, logger: logger}
}

// RequestDevice scans for a peripheral matching filter. With an address it
// stops as soon as that peripheral is seen; otherwise it picks the strongest
// signal once the scan window closes.
func (c *Chooser) RequestDevice(ctx context.Context, filter device.Filter) (device.Peripheral, error) {
	opts := &ScanOptions{
		Duration:        c.timeout,
		DuplicateFilter: true,
		ServiceUUIDs:    filter.Services,
		NamePrefix:      filter.NamePrefix,
	}
	if filter.Address != "" {
		opts.AllowList = []string{filter.Address}
		opts.StopWhen = func(cand Candidate) bool { return cand.Connectable }
	}

	candidates, err := c.scanner.Scan(ctx, opts, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, device.NewError(device.KindNoDeviceSelected, "request device", err)
		}
		return nil, device.NormalizeError("request device", err)
	}

	for _, cand := range candidates {
		if !cand.Connectable {
			continue
		}
		c.logger.WithFields(logrus.Fields{
			"device":  cand.Name,
			"address": cand.Address,
			"rssi":    cand.RSSI,
		}).Info("Selected device")
		return c.open(cand.Address, cand.Name), nil
	}

	want := "services " + strings.Join(filter.Services, ",")
	if filter.Address != "" {
		want = filter.Address
	}
	return nil, device.NewError(device.KindNoDeviceSelected, "request device",
		fmt.Errorf("no connectable device matching %s found within %s", want, c.timeout))
}
