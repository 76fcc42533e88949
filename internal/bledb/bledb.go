// Package bledb holds the Bluetooth SIG assigned numbers the fitness sensor
// profiles care about, plus UUID normalisation shared by the transport.
package bledb

import "strings"

// Assigned 16-bit UUIDs, in normalised form.
const (
	HeartRateService         = "180d"
	HeartRateMeasurement     = "2a37"
	CyclingPowerService      = "1818"
	CyclingPowerMeasurement  = "2a63"
	CyclingSpeedCadence      = "1816"
	CSCMeasurement           = "2a5b"
	DeviceInformationService = "180a"
	ManufacturerNameString   = "2a29"
	ModelNumberString        = "2a24"
	BatteryService           = "180f"
	ClientCharConfig         = "2902"
)

const sigBaseSuffix = "00001000800000805f9b34fb"

var services = map[string]string{
	HeartRateService:         "Heart Rate",
	CyclingPowerService:      "Cycling Power",
	CyclingSpeedCadence:      "Cycling Speed and Cadence",
	DeviceInformationService: "Device Information",
	BatteryService:           "Battery Service",
	"1826":                   "Fitness Machine",
}

var characteristics = map[string]string{
	HeartRateMeasurement:    "Heart Rate Measurement",
	"2a38":                  "Body Sensor Location",
	CyclingPowerMeasurement: "Cycling Power Measurement",
	"2a65":                  "Cycling Power Feature",
	CSCMeasurement:          "CSC Measurement",
	"2a5c":                  "CSC Feature",
	ManufacturerNameString:  "Manufacturer Name String",
	ModelNumberString:       "Model Number String",
	"2a19":                  "Battery Level",
}

var descriptors = map[string]string{
	"2901":           "Characteristic User Descriptor",
	ClientCharConfig: "Client Characteristic Configuration",
}

// NormalizeUUID converts a UUID to lowercase without dashes, braces or a 0x
// prefix. UUIDs on the Bluetooth SIG base collapse to their 16-bit form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.Trim(u, "{}")
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalises every UUID in uuids.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// LookupService returns the assigned name of a service, or "" if unknown.
func LookupService(uuid string) string { return services[NormalizeUUID(uuid)] }

// LookupCharacteristic returns the assigned name of a characteristic, or "".
func LookupCharacteristic(uuid string) string { return characteristics[NormalizeUUID(uuid)] }

// LookupDescriptor returns the assigned name of a descriptor, or "".
func LookupDescriptor(uuid string) string { return descriptors[NormalizeUUID(uuid)] }

// IsFitnessService reports whether uuid is one of the sensor services this
// application connects to.
func IsFitnessService(uuid string) bool {
	switch NormalizeUUID(uuid) {
	case HeartRateService, CyclingPowerService, CyclingSpeedCadence:
		return true
	}
	return false
}
