package goble

import (
	"context"
	"time"

	"github.com/go-ble/ble"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"

	"github.com/srg/powersaver/internal/bledb"
	"github.com/srg/powersaver/internal/device"
)

var cccd = &ble.Descriptor{UUID: ble.MustParse(bledb.ClientCharConfig)}

// powerMeasurement connects the meter and resolves its power measurement
// characteristic with the given properties and descriptors.
func (s *TransportSuite) powerMeasurement(prop ble.Property, descs ...*ble.Descriptor) device.Characteristic {
	s.client.On("DiscoverServices", mock.Anything).
		Return([]*ble.Service{{UUID: ble.MustParse(bledb.CyclingPowerService)}}, nil)
	s.client.On("DiscoverCharacteristics", mock.Anything, mock.Anything).
		Return([]*ble.Characteristic{{UUID: ble.MustParse(bledb.CyclingPowerMeasurement), Property: prop}}, nil)
	s.client.On("DiscoverDescriptors", mock.Anything, mock.Anything).
		Return(descs, nil)

	p := s.connected("Assioma")
	svc, err := p.PrimaryService(context.Background(), "00001818-0000-1000-8000-00805f9b34fb")
	s.Require().NoError(err)
	s.Equal(bledb.CyclingPowerService, svc.UUID())

	char, err := svc.Characteristic(context.Background(), "0x2A63")
	s.Require().NoError(err)
	s.Equal(bledb.CyclingPowerMeasurement, char.UUID())
	return char
}

func (s *TransportSuite) TestNotificationsDeliverCopies() {
	// GOAL: Verify notification payloads are copied before reaching the handler
	//
	// TEST SCENARIO: subscribe → stack reuses its buffer after delivery → handler still sees the original bytes

	var notify ble.NotificationHandler
	s.client.On("Subscribe", mock.Anything, false, mock.Anything).
		Run(func(args mock.Arguments) { notify = args.Get(2).(ble.NotificationHandler) }).
		Return(nil)
	s.client.On("Unsubscribe", mock.Anything, false).Return(nil)

	char := s.powerMeasurement(ble.CharNotify, cccd)

	var got []byte
	s.Require().NoError(char.StartNotifications(context.Background(), func(data []byte) { got = data }))
	s.Require().NotNil(notify)

	buf := []byte{0x00, 0x00, 0xfa, 0x00}
	notify(buf)
	buf[2] = 0xff
	s.Equal([]byte{0x00, 0x00, 0xfa, 0x00}, got, "handler MUST own its payload")

	s.NoError(char.StopNotifications())
	s.NoError(char.StopNotifications(), "stopping twice MUST be a no-op")
	s.client.AssertNumberOfCalls(s.T(), "Unsubscribe", 1)
}

func (s *TransportSuite) TestIndicateOnlyCharacteristicSubscribesWithIndications() {
	s.client.On("Subscribe", mock.Anything, true, mock.Anything).Return(nil)
	s.client.On("Unsubscribe", mock.Anything, true).Return(nil)

	char := s.powerMeasurement(ble.CharIndicate, cccd)
	s.Require().NoError(char.StartNotifications(context.Background(), func([]byte) {}))
	s.NoError(char.StopNotifications())
	s.client.AssertCalled(s.T(), "Unsubscribe", mock.Anything, true)
}

func (s *TransportSuite) TestLateSubscriptionIsUndone() {
	// GOAL: Verify a subscription that lands after the caller gave up does not leak
	//
	// TEST SCENARIO: Subscribe stalls past the timeout → StartNotifications fails → Subscribe returns → Unsubscribe called once

	release := make(chan struct{})
	undone := make(chan struct{})
	s.client.On("Subscribe", mock.Anything, false, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(nil)
	s.client.On("Unsubscribe", mock.Anything, false).
		Run(func(mock.Arguments) { close(undone) }).
		Return(nil).Once()

	char := s.powerMeasurement(ble.CharNotify, cccd)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := char.StartNotifications(ctx, func([]byte) {})
	s.ErrorIs(err, device.ErrTimeout, "a stalled subscribe MUST time out")

	s.NoError(char.StopNotifications(), "nothing is subscribed yet, stopping MUST be a no-op")
	s.client.AssertNotCalled(s.T(), "Unsubscribe", mock.Anything, false)

	close(release)
	select {
	case <-undone:
	case <-time.After(time.Second):
		s.Fail("a subscription completing after the timeout MUST be unsubscribed")
	}

	s.NoError(char.StopNotifications())
	s.client.AssertNumberOfCalls(s.T(), "Unsubscribe", 1)
}

func (s *TransportSuite) TestMissingNotificationDescriptorIsLogged() {
	hook := logtest.NewLocal(s.logger)

	s.powerMeasurement(ble.CharNotify)

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Characteristic has no notification descriptor; subscribing may fail" {
			found = true
			s.Equal("Client Characteristic Configuration", e.Data["descriptor"])
		}
	}
	s.True(found, "a notifying characteristic without a CCCD MUST be reported")
}

func (s *TransportSuite) TestReadRequiresReadProperty() {
	char := s.powerMeasurement(ble.CharNotify, cccd)

	_, err := char.Read(context.Background())
	s.ErrorIs(err, device.ErrNotSupported)
	s.client.AssertNotCalled(s.T(), "ReadCharacteristic", mock.Anything)
}

func (s *TransportSuite) TestCharacteristicNotFound() {
	s.client.On("DiscoverServices", mock.Anything).
		Return([]*ble.Service{{UUID: ble.MustParse(bledb.CyclingPowerService)}}, nil)
	s.client.On("DiscoverCharacteristics", mock.Anything, mock.Anything).
		Return([]*ble.Characteristic{{UUID: ble.MustParse("2a65"), Property: ble.CharRead}}, nil)

	p := s.connected("Assioma")
	svc, err := p.PrimaryService(context.Background(), bledb.CyclingPowerService)
	s.Require().NoError(err)

	_, err = svc.Characteristic(context.Background(), bledb.CyclingPowerMeasurement)
	var nf *device.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Equal([]string{bledb.CyclingPowerService, bledb.CyclingPowerMeasurement}, nf.UUIDs)
}
