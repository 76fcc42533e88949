package device

import (
	"fmt"

	"github.com/srg/powersaver/internal/bledb"
)

// NormalizeUUID is re-exported from bledb for convenience.
func NormalizeUUID(uuid string) string {
	return bledb.NormalizeUUID(uuid)
}

// SameUUID reports whether a and b name the same attribute.
func SameUUID(a, b string) bool {
	return bledb.NormalizeUUID(a) == bledb.NormalizeUUID(b)
}

// ValidateUUID normalises uuids and rejects empty entries.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		normalized := NormalizeUUID(uuid)
		if normalized == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		result = append(result, normalized)
	}
	return result, nil
}

// ShortID returns the last n characters of id, used to tell apart sensors
// that advertise the same name.
func ShortID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[len(id)-n:]
}
