package sensor

import (
	"github.com/srg/powersaver/internal/bledb"
	"github.com/srg/powersaver/internal/wallclock"
	"github.com/srg/powersaver/pkg/measurement"
)

// DecoderFactory creates a fresh decoder for each established link. emit
// lets stateful decoders report values outside the notification path, such
// as a cadence dropping to zero.
type DecoderFactory func(clock wallclock.Clock, emit func(value int)) measurement.Decoder

// Profile describes one kind of sensor.
type Profile struct {
	Role           string
	Service        string
	Characteristic string
	NewDecoder     DecoderFactory

	// ZeroOnDisconnect reports a 0 measurement when the link drops.
	ZeroOnDisconnect bool
}

// PowerMeter reads Cycling Power Measurement notifications.
func PowerMeter() Profile {
	return Profile{
		Role:           "power",
		Service:        bledb.CyclingPowerService,
		Characteristic: bledb.CyclingPowerMeasurement,
		NewDecoder: func(wallclock.Clock, func(int)) measurement.Decoder {
			return measurement.DecoderFunc(measurement.ParsePowerWatts)
		},
	}
}

// HeartRateMonitor reads Heart Rate Measurement notifications.
func HeartRateMonitor() Profile {
	return Profile{
		Role:           "heart_rate",
		Service:        bledb.HeartRateService,
		Characteristic: bledb.HeartRateMeasurement,
		NewDecoder: func(wallclock.Clock, func(int)) measurement.Decoder {
			return measurement.DecoderFunc(measurement.ParseHeartRate)
		},
		ZeroOnDisconnect: true,
	}
}

// CadenceSensor reads CSC Measurement notifications and derives RPM.
func CadenceSensor() Profile {
	return Profile{
		Role:           "cadence",
		Service:        bledb.CyclingSpeedCadence,
		Characteristic: bledb.CSCMeasurement,
		NewDecoder: func(clock wallclock.Clock, emit func(int)) measurement.Decoder {
			return measurement.NewCrankCadence(clock, measurement.DefaultCadenceIdle, emit)
		},
		ZeroOnDisconnect: true,
	}
}
