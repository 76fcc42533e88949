package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/powersaver/internal/bledb"
	"github.com/srg/powersaver/internal/device"
	"github.com/srg/powersaver/internal/devicefactory"
	"github.com/srg/powersaver/internal/testutils"
	"github.com/srg/powersaver/pkg/power"
	"github.com/srg/powersaver/pkg/session"
)

// CommandTestSuite runs commands through rootCmd against a temporary config
// and session file.
type CommandTestSuite struct {
	suite.Suite

	dir         string
	configPath  string
	sessionPath string
}

func (s *CommandTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.sessionPath = filepath.Join(s.dir, "session.json")
	s.configPath = filepath.Join(s.dir, "powersaver.yaml")
	s.Require().NoError(os.WriteFile(s.configPath,
		[]byte(fmt.Sprintf("session_file: %s\nsession_max_age: 8760h\n", s.sessionPath)), 0o644))
}

// ExecuteCommand runs rootCmd with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append(args, "--config", s.configPath))
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

func (s *CommandTestSuite) saveSession() {
	avg := power.NewAverager(nil, testutils.NewTestLogger())
	avg.AddReadingAt(testutils.SuiteEpoch, 300)
	avg.AddReadingAt(testutils.SuiteEpoch.Add(10*time.Second), 300)

	store := session.NewStore(s.sessionPath, 0, nil, testutils.NewTestLogger())
	s.Require().NoError(store.Save(&session.Data{
		SessionID: "5f1d7a52-1b8e-4c41-9a53-0d6d7c9b2f10",
		StartTime: testutils.SuiteEpoch,
		PowerData: []session.DataPoint{
			{Timestamp: testutils.SuiteEpoch, Power: 300, HeartRate: 150, Cadence: 92},
			{Timestamp: testutils.SuiteEpoch.Add(90 * time.Second), Power: 300, HeartRate: 151, Cadence: 93},
		},
		PowerReadings:      []power.Sample{{Timestamp: testutils.SuiteEpoch, Watts: 300}},
		PowerAverages:      avg.Snapshot(),
		LastPowerValue:     300,
		LastHeartRateValue: 151,
		LastCadenceValue:   93,
	}))
}

func (s *CommandTestSuite) TestSessionShowText() {
	s.saveSession()

	out, err := s.ExecuteCommand("session", "show", "--format", "text")
	s.Require().NoError(err)
	s.Contains(out, "Session:   5f1d7a52-1b8e-4c41-9a53-0d6d7c9b2f10")
	s.Contains(out, "Duration:  0:01:30 (2 samples)")
	s.Contains(out, "Last:      300 W  151 bpm  93 rpm")
	s.Contains(out, "10s   300")
}

func (s *CommandTestSuite) TestSessionShowJSON() {
	// GOAL: Verify the stored session is printed as the persisted JSON document
	//
	// TEST SCENARIO: saved session → session show --format json → camelCase document

	s.saveSession()

	out, err := s.ExecuteCommand("session", "show", "--format", "json")
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).
		WithOptions(testutils.WithIgnoredFields("savedAt"), testutils.WithIgnoreExtraKeys(true)).
		Assert(out, `{
			"sessionId": "5f1d7a52-1b8e-4c41-9a53-0d6d7c9b2f10",
			"lastPowerValue": 300,
			"lastHeartRateValue": 151,
			"lastCadenceValue": 93,
			"powerAverages": {"10s": {"current": 300, "best": 300}}
		}`)
}

func (s *CommandTestSuite) TestSessionShowYAML() {
	s.saveSession()

	out, err := s.ExecuteCommand("session", "show", "--format", "yaml")
	s.Require().NoError(err)
	s.Contains(out, "sessionId: 5f1d7a52-1b8e-4c41-9a53-0d6d7c9b2f10")
	s.Contains(out, "lastCadenceValue: 93")
	s.True(strings.Index(out, "10s:") < strings.Index(out, "5m:"), "windows MUST keep display order")
}

func (s *CommandTestSuite) TestSessionShowEmpty() {
	out, err := s.ExecuteCommand("session", "show", "--format", "text")
	s.Require().NoError(err)
	s.Contains(out, "No saved session")
}

func (s *CommandTestSuite) TestSessionShowRejectsFormat() {
	_, err := s.ExecuteCommand("session", "show", "--format", "csv")
	s.ErrorContains(err, "invalid format 'csv'")
}

func (s *CommandTestSuite) TestSessionClear() {
	s.saveSession()

	out, err := s.ExecuteCommand("session", "clear")
	s.Require().NoError(err)
	s.Contains(out, "Session cleared")
	_, statErr := os.Stat(s.sessionPath)
	s.True(os.IsNotExist(statErr), "clear MUST delete the session file")
}

func (s *CommandTestSuite) TestConfigPrintsEffectiveValues() {
	s.T().Setenv("POWERSAVER_MQTT_BROKER", "localhost:1883")

	out, err := s.ExecuteCommand("config")
	s.Require().NoError(err)
	s.Contains(out, "session_file: "+s.sessionPath)
	s.Contains(out, "broker: localhost:1883")
	s.Contains(out, "reconnect_delay: 5s")
}

func (s *CommandTestSuite) withTransport(adverts ...device.Advertisement) {
	orig := devicefactory.TransportFactory
	devicefactory.TransportFactory = func(*logrus.Logger) (devicefactory.Transport, error) {
		return testutils.NewFakeTransport(adverts...), nil
	}
	s.T().Cleanup(func() { devicefactory.TransportFactory = orig })
}

func (s *CommandTestSuite) scanFixtures() []device.Advertisement {
	return []device.Advertisement{
		testutils.FakeAdvertisement{Address: "E8:2B:1F:00:42:02", Name: "HRM-Pro", Signal: -71, ServiceUUIDs: []string{bledb.HeartRateService}},
		testutils.FakeAdvertisement{Address: "C4:7C:8D:6A:11:01", Name: "Assioma", Signal: -48, ServiceUUIDs: []string{bledb.CyclingPowerService}},
		testutils.FakeAdvertisement{Address: "AA:BB:CC:DD:EE:FF", Name: "Desk Lamp", Signal: -40, ServiceUUIDs: []string{"ff00"}},
	}
}

func (s *CommandTestSuite) TestScanTable() {
	// GOAL: Verify scan lists only fitness sensors, strongest first
	//
	// TEST SCENARIO: power meter + HR strap + lamp advertised → table shows meter then strap

	s.withTransport(s.scanFixtures()...)

	out, err := s.ExecuteCommand("scan", "--duration", "50ms", "--format", "table", "--all=false")
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, `NAME     ADDRESS            RSSI     SENSOR
----     -------            ----     ------
Assioma  C4:7C:8D:6A:11:01  -48 dBm  Cycling Power
HRM-Pro  E8:2B:1F:00:42:02  -71 dBm  Heart Rate`)
}

func (s *CommandTestSuite) TestScanJSONAll() {
	s.withTransport(s.scanFixtures()...)

	out, err := s.ExecuteCommand("scan", "--duration", "50ms", "--format", "json", "--all")
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).
		WithOptions(testutils.WithIgnoredFields("lastSeen")).
		Assert(`{"array": `+out+`}`, `{"array": [
			{"address": "AA:BB:CC:DD:EE:FF", "name": "Desk Lamp", "rssi": -40, "services": ["ff00"], "connectable": true},
			{"address": "C4:7C:8D:6A:11:01", "name": "Assioma", "rssi": -48, "services": ["1818"], "connectable": true},
			{"address": "E8:2B:1F:00:42:02", "name": "HRM-Pro", "rssi": -71, "services": ["180d"], "connectable": true}
		]}`)
}

func (s *CommandTestSuite) TestScanRejectsFormat() {
	_, err := s.ExecuteCommand("scan", "--format", "csv")
	s.ErrorContains(err, "invalid format 'csv'")
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}
