package session

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/powersaver/internal/testutils"
	"github.com/srg/powersaver/pkg/power"
)

func newTestStore(t *testing.T) (*Store, *testutils.ManualClock) {
	t.Helper()
	h := testutils.NewTestHelper(t)
	clock := testutils.NewManualClock(testutils.SuiteEpoch)
	return NewStore(h.TempFile("nested/session.json"), 0, clock, h.Logger), clock
}

func sampleData() *Data {
	avg := power.NewAverager(nil, testutils.NewTestLogger())
	avg.AddReadingAt(testutils.SuiteEpoch, 220)
	avg.AddReadingAt(testutils.SuiteEpoch.Add(10*time.Second), 220)

	return &Data{
		SessionID: "5f1d7a52-1b8e-4c41-9a53-0d6d7c9b2f10",
		StartTime: testutils.SuiteEpoch,
		PowerData: []DataPoint{
			{Timestamp: testutils.SuiteEpoch, Power: 220, HeartRate: 140, Cadence: 90},
		},
		PowerReadings:  []power.Sample{{Timestamp: testutils.SuiteEpoch, Watts: 220}},
		PowerAverages:  avg.Snapshot(),
		LastPowerValue: 220,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	// GOAL: Verify a saved session loads back with its JSON layout intact
	//
	// TEST SCENARIO: save → file uses camelCase keys → load returns same values

	store, _ := newTestStore(t)
	require.NoError(t, store.Save(sampleData()))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	testutils.NewJSONAsserter(t).Assert(string(raw), `{
		"savedAt": "2025-03-01T07:30:00Z",
		"sessionId": "5f1d7a52-1b8e-4c41-9a53-0d6d7c9b2f10",
		"startTime": "2025-03-01T07:30:00Z",
		"powerData": [{"timestamp": "2025-03-01T07:30:00Z", "power": 220, "heartRate": 140, "cadence": 90}],
		"powerReadings": [{"timestamp": "2025-03-01T07:30:00Z", "power": 220}],
		"powerAverages": {"10s": {"current": 220, "best": 220}},
		"lastPowerValue": 220
	}`)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "5f1d7a52-1b8e-4c41-9a53-0d6d7c9b2f10", loaded.SessionID)
	assert.Len(t, loaded.PowerData, 1)
	st, ok := loaded.PowerAverages.Get("10s")
	assert.True(t, ok)
	assert.Equal(t, power.Stats{Current: 220, Best: 220}, st)
}

func TestStore_LoadMissing(t *testing.T) {
	store, _ := newTestStore(t)
	d, err := store.Load()
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func TestStore_ExpiredSessionIsDiscarded(t *testing.T) {
	store, clock := newTestStore(t)
	require.NoError(t, store.Save(sampleData()))

	clock.Advance(23 * time.Hour)
	d, err := store.Load()
	require.NoError(t, err)
	assert.NotNil(t, d, "session younger than 24 h MUST load")

	clock.Advance(2 * time.Hour)
	d, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, d, "session older than 24 h MUST be discarded")
	_, err = os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err), "expired file MUST be removed")
}

func TestStore_CorruptFileIsRemoved(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save(sampleData()))
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o644))

	d, err := store.Load()
	assert.NoError(t, err)
	assert.Nil(t, d)
	_, err = os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err), "corrupt file MUST be removed")
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save(sampleData()))
	assert.NoError(t, store.Clear())
	assert.NoError(t, store.Clear())
}

func TestData_Duration(t *testing.T) {
	var d *Data
	assert.Zero(t, d.Duration())

	d = &Data{PowerData: []DataPoint{
		{Timestamp: testutils.SuiteEpoch},
		{Timestamp: testutils.SuiteEpoch.Add(90 * time.Second)},
	}}
	assert.Equal(t, 90*time.Second, d.Duration())
}

func TestConnectionLog_KeepsMostRecent(t *testing.T) {
	// GOAL: Verify the connection log is bounded and drains oldest first
	//
	// TEST SCENARIO: append 150 entries to a 100-entry log → drain returns the last 100 in order

	log := NewConnectionLog(100)
	for i := 0; i < 150; i++ {
		log.Append(LogEntry{Time: testutils.SuiteEpoch.Add(time.Duration(i) * time.Second), Message: "status"})
	}

	entries := log.Drain()
	require.Len(t, entries, 100)
	assert.Equal(t, testutils.SuiteEpoch.Add(50*time.Second), entries[0].Time)
	assert.Equal(t, testutils.SuiteEpoch.Add(149*time.Second), entries[99].Time)
	assert.Empty(t, log.Drain(), "drain MUST consume entries")
	assert.EqualValues(t, 150, log.Metrics().Appended)
}

func TestConnectionLog_Hook(t *testing.T) {
	log := NewConnectionLog(10)
	logger := testutils.NewTestLogger()
	logger.AddHook(log)

	logger.WithField("role", RoleCadence).Warn("Link lost")
	logger.Info("not captured")

	entries := log.Drain()
	require.Len(t, entries, 1)
	assert.Equal(t, RoleCadence, entries[0].Role)
	assert.Contains(t, entries[0].String(), "cadence: Link lost")
}
