// Package session records a ride: it funnels sensor callbacks into one
// event loop that owns the power averager, samples the live values on a
// fixed interval and persists the result.
package session

import (
	"time"

	"github.com/srg/powersaver/pkg/power"
)

// Sensor roles as used by the sensor profiles.
const (
	RolePower     = "power"
	RoleHeartRate = "heart_rate"
	RoleCadence   = "cadence"
)

// DataPoint is one row of the flat session history.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Power     int       `json:"power" yaml:"power"`
	HeartRate int       `json:"heartRate" yaml:"heartRate"`
	Cadence   int       `json:"cadence" yaml:"cadence"`
}

// Values are the latest reading of each sensor.
type Values struct {
	Power     int `json:"power" yaml:"power"`
	HeartRate int `json:"heartRate" yaml:"heartRate"`
	Cadence   int `json:"cadence" yaml:"cadence"`
}

// Data is the persisted form of a session.
type Data struct {
	SavedAt       time.Time       `json:"savedAt" yaml:"savedAt"`
	SessionID     string          `json:"sessionId" yaml:"sessionId"`
	StartTime     time.Time       `json:"startTime" yaml:"startTime"`
	PowerData     []DataPoint     `json:"powerData" yaml:"powerData"`
	PowerReadings []power.Sample  `json:"powerReadings" yaml:"powerReadings"`
	PowerAverages *power.Snapshot `json:"powerAverages,omitempty" yaml:"powerAverages,omitempty"`

	LastPowerValue     int `json:"lastPowerValue" yaml:"lastPowerValue"`
	LastHeartRateValue int `json:"lastHeartRateValue" yaml:"lastHeartRateValue"`
	LastCadenceValue   int `json:"lastCadenceValue" yaml:"lastCadenceValue"`
}

// Duration is the time covered by the history.
func (d *Data) Duration() time.Duration {
	if d == nil || len(d.PowerData) == 0 {
		return 0
	}
	return d.PowerData[len(d.PowerData)-1].Timestamp.Sub(d.PowerData[0].Timestamp)
}
