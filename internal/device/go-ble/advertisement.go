package goble

import (
	"context"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/powersaver/internal/bledb"
	"github.com/srg/powersaver/internal/device"
)

// advertisement adapts ble.Advertisement to device.Advertisement.
type advertisement struct {
	adv ble.Advertisement
}

func (a advertisement) LocalName() string        { return a.adv.LocalName() }
func (a advertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a advertisement) Connectable() bool        { return a.adv.Connectable() }
func (a advertisement) RSSI() int                { return a.adv.RSSI() }
func (a advertisement) Addr() string             { return a.adv.Addr().String() }

func (a advertisement) Services() []string {
	uuids := a.adv.Services()
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = u.String()
	}
	return bledb.NormalizeUUIDs(out)
}

// scanningDevice adapts ble.Device to device.ScanningDevice.
type scanningDevice struct {
	dev ble.Device
}

// Scan runs until ctx is done. Cancellation is not reported as an error.
func (s *scanningDevice) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	err := s.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(advertisement{adv: adv})
	})
	if err != nil && ctx.Err() == nil {
		return NormalizeError("scan", err)
	}
	return nil
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
