package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/powersaver/internal/bledb"
	"github.com/stretchr/testify/suite"
)

// SuiteEpoch is the manual clock's start time in every MockSensorSuite test.
var SuiteEpoch = time.Date(2025, time.March, 1, 7, 30, 0, 0, time.UTC)

// MockSensorSuite provides a reusable testify suite with an in-memory BLE
// adapter, one fake sensor per profile and a manual clock.
//
//	type ConnectionSuite struct {
//	    testutils.MockSensorSuite
//	}
//
//	func (s *ConnectionSuite) TestSomething() {
//	    s.PowerMeter.FailConnect(testutils.FailWith(errBoom))
//	    ...
//	}
//
//	func TestConnectionSuite(t *testing.T) {
//	    suite.Run(t, new(ConnectionSuite))
//	}
type MockSensorSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger
	Clock  *ManualClock

	Adapter    *FakeAdapter
	PowerMeter *FakePeripheral
	HeartStrap *FakePeripheral
	CadencePod *FakePeripheral

	// WaitTimeout bounds real-time waits on background goroutines.
	WaitTimeout time.Duration
}

// SetupSuite initializes the test suite.
// Called once before all tests in the suite.
func (s *MockSensorSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.WaitTimeout = 2 * time.Second
}

// SetupTest builds fresh fakes before each test.
func (s *MockSensorSuite) SetupTest() {
	s.Clock = NewManualClock(SuiteEpoch)

	s.PowerMeter = NewFakePeripheral("C4:7C:8D:6A:11:01", "Assioma").
		WithCharacteristic(bledb.CyclingPowerService, bledb.CyclingPowerMeasurement).
		WithReadable(bledb.DeviceInformationService, bledb.ManufacturerNameString, []byte("Favero")).
		WithReadable(bledb.DeviceInformationService, bledb.ModelNumberString, []byte("DUO"))
	s.HeartStrap = NewFakePeripheral("E8:2B:1F:00:42:02", "HRM-Pro").
		WithCharacteristic(bledb.HeartRateService, bledb.HeartRateMeasurement)
	s.CadencePod = NewFakePeripheral("F1:00:AB:CD:EF:03", "RPM Cadence").
		WithCharacteristic(bledb.CyclingSpeedCadence, bledb.CSCMeasurement)

	s.Adapter = NewFakeAdapter().
		WithPeripheral(s.PowerMeter, bledb.CyclingPowerService).
		WithPeripheral(s.HeartStrap, bledb.HeartRateService).
		WithPeripheral(s.CadencePod, bledb.CyclingSpeedCadence)
}

// WaitFor waits in real time for cond, failing the test on timeout.
func (s *MockSensorSuite) WaitFor(cond func() bool, msg string) {
	s.Require().Eventually(cond, s.WaitTimeout, 5*time.Millisecond, msg)
}
