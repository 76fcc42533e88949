package power

import (
	"math"
	"testing"
	"time"

	"github.com/srg/powersaver/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAverager(t *testing.T) (*Averager, *testutils.ManualClock) {
	t.Helper()
	clock := testutils.NewManualClock(testutils.SuiteEpoch)
	return NewAverager(clock, testutils.NewTestLogger()), clock
}

// window returns the stats of the window with the given label.
func (a *Averager) window(label string) (Stats, bool) {
	for i, w := range windows {
		if w.Label == label {
			return a.stats[i], true
		}
	}
	return Stats{}, false
}

// lastReading returns when the last accepted reading was taken.
func (a *Averager) lastReading() (time.Time, bool) {
	return a.last, a.haveLast
}

func assertInvariants(t *testing.T, a *Averager) {
	t.Helper()
	for pair := a.Snapshot().Oldest(); pair != nil; pair = pair.Next() {
		assert.GreaterOrEqual(t, pair.Value.Best, pair.Value.Current, "best MUST be >= current for %s", pair.Key)
	}
}

func TestAverager_SteadyPower(t *testing.T) {
	// GOAL: Verify the canonical two-sample scenario
	//
	// TEST SCENARIO: 200 W at t0 → +10 s → 200 W → 10s window current=200, best=200

	a, clock := newTestAverager(t)

	a.AddReading(200)
	clock.Advance(10 * time.Second)
	a.AddReading(200)

	s, ok := a.window("10s")
	require.True(t, ok)
	assert.Equal(t, Stats{Current: 200, Best: 200}, s)

	s, _ = a.window("20s")
	assert.Equal(t, Stats{Current: 100, Best: 100}, s, "20s window MUST be half-weighted after 10 s")

	s, _ = a.window("5m")
	assert.Equal(t, Stats{Current: 7, Best: 7}, s, "5m window MUST round 6.67 to 7")
}

func TestAverager_FirstReadingOnlySetsReference(t *testing.T) {
	a, _ := newTestAverager(t)

	a.AddReading(400)

	for pair := a.Snapshot().Oldest(); pair != nil; pair = pair.Next() {
		assert.Equal(t, Stats{}, pair.Value, "first reading MUST NOT move %s", pair.Key)
	}
	_, ok := a.lastReading()
	assert.True(t, ok)
}

func TestAverager_BestIsMonotonic(t *testing.T) {
	a, clock := newTestAverager(t)
	readings := []float64{150, 300, 420, 80, 0, 250, 600, 100, 100, 100}

	prevBest := map[string]int{}
	for _, w := range readings {
		clock.Advance(time.Second)
		a.AddReading(w)
		assertInvariants(t, a)

		for pair := a.Snapshot().Oldest(); pair != nil; pair = pair.Next() {
			assert.GreaterOrEqual(t, pair.Value.Best, prevBest[pair.Key], "best MUST never decrease for %s", pair.Key)
			prevBest[pair.Key] = pair.Value.Best
		}
	}
}

func TestAverager_RejectsOutOfRange(t *testing.T) {
	a, clock := newTestAverager(t)
	a.AddReading(200)
	clock.Advance(5 * time.Second)
	a.AddReading(220)
	before := a.Snapshot()
	beforeLast, _ := a.lastReading()

	for _, w := range []float64{-1, 3001, math.NaN(), math.Inf(1), math.Inf(-1)} {
		clock.Advance(time.Second)
		a.AddReading(w)
	}

	after := a.Snapshot()
	for pair := before.Oldest(); pair != nil; pair = pair.Next() {
		got, _ := after.Get(pair.Key)
		assert.Equal(t, pair.Value, got, "rejected readings MUST NOT change %s", pair.Key)
	}
	afterLast, _ := a.lastReading()
	assert.Equal(t, beforeLast, afterLast, "rejected readings MUST NOT move the reference time")

	assert.True(t, a.AddReadingAt(afterLast.Add(time.Second), 0), "0 W MUST be accepted")
	assert.True(t, a.AddReadingAt(afterLast.Add(2*time.Second), 3000), "3000 W MUST be accepted")
}

func TestAverager_ResetIsIdempotent(t *testing.T) {
	a, clock := newTestAverager(t)
	a.AddReading(300)
	clock.Advance(30 * time.Second)
	a.AddReading(300)

	a.Reset()
	first := testutils.MustJSON(a.Snapshot())
	a.Reset()
	second := testutils.MustJSON(a.Snapshot())

	assert.Equal(t, first, second)
	_, ok := a.lastReading()
	assert.False(t, ok)

	// After reset the next reading is again a first reading.
	clock.Advance(10 * time.Second)
	a.AddReading(300)
	s, _ := a.window("10s")
	assert.Equal(t, Stats{}, s)
}

func TestAverager_SnapshotIsolation(t *testing.T) {
	a, clock := newTestAverager(t)
	a.AddReading(200)
	clock.Advance(10 * time.Second)
	a.AddReading(200)

	snap := a.Snapshot()
	snap.Set("10s", Stats{Current: 9999, Best: 9999})
	snap.Delete("20s")

	s, _ := a.window("10s")
	assert.Equal(t, Stats{Current: 200, Best: 200}, s, "mutating a snapshot MUST NOT affect the averager")
	_, ok := a.window("20s")
	assert.True(t, ok)

	later := a.Snapshot()
	clock.Advance(10 * time.Second)
	a.AddReading(0)
	v, _ := later.Get("10s")
	assert.Equal(t, 200, v.Current, "a snapshot MUST NOT change after later readings")
}

func TestAverager_SnapshotOrderAndJSON(t *testing.T) {
	a, _ := newTestAverager(t)

	var keys []string
	for pair := a.Snapshot().Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	assert.Equal(t, Labels(), keys)

	testutils.NewJSONAsserter(t).Assert(testutils.MustJSON(a.Snapshot()), `{
		"10s": {"current": 0, "best": 0},
		"5m":  {"current": 0, "best": 0}
	}`)
}

func TestAverager_UnclampedLongGap(t *testing.T) {
	// A gap longer than the window overshoots; the value is kept as computed.
	a, clock := newTestAverager(t)
	a.AddReading(300)
	clock.Advance(10 * time.Second)
	a.AddReading(300)
	clock.Advance(20 * time.Second)
	a.AddReading(100)

	s, _ := a.window("10s")
	assert.Equal(t, -100, s.Current)
	assert.Equal(t, 300, s.Best)
}

func TestAverager_BackwardsTimestamp(t *testing.T) {
	a, _ := newTestAverager(t)
	t0 := testutils.SuiteEpoch

	a.AddReadingAt(t0, 200)
	a.AddReadingAt(t0.Add(10*time.Second), 200)
	a.AddReadingAt(t0.Add(5*time.Second), 1000)

	s, _ := a.window("10s")
	assert.Equal(t, 200, s.Current, "a reading from the past MUST carry zero weight")
}

func TestAverager_Recalculate(t *testing.T) {
	a, _ := newTestAverager(t)
	t0 := testutils.SuiteEpoch

	var history []Sample
	// 30 s at 100 W, then 10 s at 400 W, then 20 s at 200 W, one sample per second.
	for i := 0; i < 60; i++ {
		w := 100
		switch {
		case i >= 30 && i < 40:
			w = 400
		case i >= 40:
			w = 200
		}
		history = append(history, Sample{Timestamp: t0.Add(time.Duration(i) * time.Second), Watts: w})
	}
	// Out of order and out of range entries are tolerated.
	history[0], history[59] = history[59], history[0]
	history = append(history, Sample{Timestamp: t0, Watts: 5000})

	a.Recalculate(history)

	s10, _ := a.window("10s")
	assert.Equal(t, Stats{Current: 0, Best: 400}, s10)

	s20, _ := a.window("20s")
	assert.Equal(t, 300, s20.Best, "best 20 s MUST cover the 400 W block plus 10 s at 200 W")

	s1m, _ := a.window("1m")
	assert.Equal(t, 267, s1m.Best, "partial trailing windows MUST count")

	a.Recalculate(nil)
	s10, _ = a.window("10s")
	assert.Equal(t, Stats{}, s10)
}

func TestWindows(t *testing.T) {
	w := Windows()
	require.Len(t, w, 10)
	assert.Equal(t, Window{"10s", 10 * time.Second}, w[0])
	assert.Equal(t, Window{"5m", 5 * time.Minute}, w[9])

	w[0].Period = time.Hour
	assert.Equal(t, 10*time.Second, Windows()[0].Period, "Windows MUST return a copy")
}
