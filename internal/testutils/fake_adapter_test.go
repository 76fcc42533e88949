package testutils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/powersaver/internal/bledb"
	"github.com/srg/powersaver/internal/device"
)

func TestFakeAdapterMatchesAnyUUIDForm(t *testing.T) {
	// GOAL: Verify the fake chooser matches services however the UUID is written
	//
	// TEST SCENARIO: meter registered with a full SIG UUID → request by short form → meter chosen; unrelated service → no device selected

	meter := NewFakePeripheral("C4:7C:8D:6A:11:01", "Assioma")
	a := NewFakeAdapter().WithPeripheral(meter, "00001818-0000-1000-8000-00805F9B34FB")

	p, err := a.RequestDevice(context.Background(), device.Filter{Services: []string{bledb.CyclingPowerService}})
	require.NoError(t, err)
	assert.Same(t, meter, p, "a full-form registration MUST match a short-form filter")

	_, err = a.RequestDevice(context.Background(), device.Filter{Services: []string{bledb.HeartRateService}})
	assert.ErrorIs(t, err, device.ErrNoDeviceSelected)
	assert.Equal(t, 2, a.Requests())
}

func TestFakeAdvertisementServicesAreNormalized(t *testing.T) {
	adv := FakeAdvertisement{ServiceUUIDs: []string{"0x180D", "00001816-0000-1000-8000-00805f9b34fb"}}
	assert.Equal(t, []string{bledb.HeartRateService, bledb.CyclingSpeedCadence}, adv.Services(),
		"advertised services MUST be reported in normalized form")
}
