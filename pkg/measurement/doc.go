// Package measurement decodes GATT notification payloads from fitness
// sensors: Heart Rate Measurement (0x2A37), Cycling Power Measurement
// (0x2A63) and CSC Measurement (0x2A5B).
//
// Parsers never panic on short input; malformed payloads are reported as
// ErrInvalidData so the caller can log and drop the sample.
package measurement
