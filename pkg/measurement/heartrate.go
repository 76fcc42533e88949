package measurement

import "encoding/binary"

// MaxHeartRate is the highest plausible reading in beats per minute.
const MaxHeartRate = 300

const hrFlagUint16 = 0x01

// ParseHeartRate decodes a Heart Rate Measurement payload. Bit 0 of the
// flags byte selects a uint8 value at offset 1 or a little-endian uint16 at
// offsets 1-2. Trailing fields (energy expended, RR intervals) are ignored.
func ParseHeartRate(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, invalid("heart rate payload too short: %d bytes", len(data))
	}

	var bpm int
	if data[0]&hrFlagUint16 != 0 {
		if len(data) < 3 {
			return 0, invalid("16-bit heart rate payload too short: %d bytes", len(data))
		}
		bpm = int(binary.LittleEndian.Uint16(data[1:3]))
	} else {
		bpm = int(data[1])
	}

	if bpm > MaxHeartRate {
		return 0, invalid("heart rate %d bpm out of range", bpm)
	}
	return bpm, nil
}
