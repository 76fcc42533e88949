package measurement

import "encoding/binary"

// Cycling Power Measurement flag bits.
const (
	powerFlagBalance           = 1 << 0
	powerFlagAccumulatedTorque = 1 << 2
	powerFlagWheelRevolutions  = 1 << 4
	powerFlagCrankRevolutions  = 1 << 5
)

// CrankData is a cumulative crank revolution count and the time of the
// last crank event in 1/1024 s units.
type CrankData struct {
	Revolutions uint16
	EventTime   uint16
}

// PowerMeasurement is a decoded Cycling Power Measurement.
type PowerMeasurement struct {
	Watts int
	// Balance is the pedal power balance in percent, when reported.
	Balance *float64
	// Crank is present when the meter reports crank revolutions.
	Crank *CrankData
}

// ParsePower decodes a Cycling Power Measurement payload: 16-bit flags then
// a signed 16-bit instantaneous power at offset 2. Optional fields that are
// cut short are left unset rather than failing the whole measurement.
func ParsePower(data []byte) (PowerMeasurement, error) {
	if len(data) < 4 {
		return PowerMeasurement{}, invalid("power payload too short: %d bytes", len(data))
	}

	flags := binary.LittleEndian.Uint16(data[0:2])
	m := PowerMeasurement{Watts: int(int16(binary.LittleEndian.Uint16(data[2:4])))}

	off := 4
	if flags&powerFlagBalance != 0 {
		if off+1 > len(data) {
			return m, nil
		}
		balance := float64(data[off]) / 2
		m.Balance = &balance
		off++
	}
	if flags&powerFlagAccumulatedTorque != 0 {
		off += 2
	}
	if flags&powerFlagWheelRevolutions != 0 {
		off += 6
	}
	if flags&powerFlagCrankRevolutions != 0 && off+4 <= len(data) {
		m.Crank = &CrankData{
			Revolutions: binary.LittleEndian.Uint16(data[off : off+2]),
			EventTime:   binary.LittleEndian.Uint16(data[off+2 : off+4]),
		}
	}
	return m, nil
}

// ParsePowerWatts returns only the instantaneous power of a Cycling Power
// Measurement.
func ParsePowerWatts(data []byte) (int, error) {
	m, err := ParsePower(data)
	if err != nil {
		return 0, err
	}
	return m.Watts, nil
}
