// Package power keeps rolling time-weighted power averages over fixed
// windows and the best value each window has reached in a session.
package power

import (
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/powersaver/internal/wallclock"
)

// Accepted reading range in watts.
const (
	MinWatts = 0
	MaxWatts = 3000
)

// Stats is the state of one window.
type Stats struct {
	Current int `json:"current" yaml:"current"`
	Best    int `json:"best" yaml:"best"`
}

// Snapshot maps window labels to their stats in display order.
type Snapshot = orderedmap.OrderedMap[string, Stats]

// Sample is a timestamped power reading as kept in session history.
type Sample struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Watts     int       `json:"power" yaml:"power"`
}

// Averager folds power readings into every window. It is not safe for
// concurrent use; callers serialise access through a single goroutine.
type Averager struct {
	clock  wallclock.Clock
	logger *logrus.Logger

	stats    [len(windows)]Stats
	last     time.Time
	haveLast bool
}

// NewAverager creates an Averager. A nil clock uses wallclock.Instance.
func NewAverager(clock wallclock.Clock, logger *logrus.Logger) *Averager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Averager{clock: wallclock.OrDefault(clock), logger: logger}
}

// AddReading folds in a reading taken now.
func (a *Averager) AddReading(watts float64) {
	a.AddReadingAt(a.clock.Now(), watts)
}

// AddReadingAt folds in a reading taken at ts and reports whether it was
// accepted. NaN, infinite and out-of-range readings are dropped without
// touching any state.
//
// Each window moves towards the reading in proportion to the time since the
// previous reading:
//
//	next = round((current*(period-dt) + watts*dt) / period)
//
// The first reading of a session only sets the reference time.
func (a *Averager) AddReadingAt(ts time.Time, watts float64) bool {
	if math.IsNaN(watts) || math.IsInf(watts, 0) || watts < MinWatts || watts > MaxWatts {
		a.logger.WithField("watts", watts).Debug("Discarding out-of-range power reading")
		return false
	}

	var dt float64
	if a.haveLast {
		dt = float64(ts.Sub(a.last).Milliseconds())
		if dt < 0 {
			a.logger.WithFields(logrus.Fields{
				"previous": a.last,
				"current":  ts,
			}).Debug("Power reading timestamp went backwards")
			dt = 0
		}
	}

	for i, w := range windows {
		period := float64(w.Period.Milliseconds())
		s := &a.stats[i]

		s.Current = roundHalfUp((float64(s.Current)*(period-dt) + watts*dt) / period)
		if s.Current > s.Best {
			s.Best = s.Current
		}
	}

	a.last, a.haveLast = ts, true
	return true
}

// Snapshot returns a copy of every window's stats.
func (a *Averager) Snapshot() *Snapshot {
	out := orderedmap.New[string, Stats]()
	for i, w := range windows {
		out.Set(w.Label, a.stats[i])
	}
	return out
}

// Reset zeroes every window and forgets the last reading time.
func (a *Averager) Reset() {
	a.stats = [len(windows)]Stats{}
	a.last, a.haveLast = time.Time{}, false
}

// Recalculate rebuilds the best value of every window from a recorded
// history and zeroes the current values. For each sample it averages the
// samples in [t, t+period) and keeps the maximum.
func (a *Averager) Recalculate(history []Sample) {
	a.Reset()
	if len(history) == 0 {
		return
	}

	samples := make([]Sample, 0, len(history))
	for _, s := range history {
		if s.Watts >= MinWatts && s.Watts <= MaxWatts {
			samples = append(samples, s)
		}
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	for i, w := range windows {
		a.stats[i].Best = bestAverage(samples, w.Period)
	}

	a.logger.WithField("samples", len(samples)).Debug("Recalculated power averages from history")
}

// bestAverage slides a [start, start+period) window over time-sorted samples.
func bestAverage(samples []Sample, period time.Duration) int {
	best := 0
	sum, end := 0, 0
	for start := range samples {
		limit := samples[start].Timestamp.Add(period)
		for end < len(samples) && samples[end].Timestamp.Before(limit) {
			sum += samples[end].Watts
			end++
		}

		if avg := roundHalfUp(float64(sum) / float64(end-start)); avg > best {
			best = avg
		}
		sum -= samples[start].Watts
	}
	return best
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
