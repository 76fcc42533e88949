package power

import "time"

// Window is one rolling averaging period.
type Window struct {
	Label  string
	Period time.Duration
}

var windows = [...]Window{
	{"10s", 10 * time.Second},
	{"20s", 20 * time.Second},
	{"30s", 30 * time.Second},
	{"40s", 40 * time.Second},
	{"50s", 50 * time.Second},
	{"1m", 1 * time.Minute},
	{"2m", 2 * time.Minute},
	{"3m", 3 * time.Minute},
	{"4m", 4 * time.Minute},
	{"5m", 5 * time.Minute},
}

// Windows returns the averaging windows in display order.
func Windows() []Window {
	out := make([]Window, len(windows))
	copy(out, windows[:])
	return out
}

// Labels returns the window labels in display order.
func Labels() []string {
	out := make([]string, len(windows))
	for i, w := range windows {
		out[i] = w.Label
	}
	return out
}
