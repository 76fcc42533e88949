package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/powersaver/internal/bledb"
	"github.com/srg/powersaver/internal/device"
)

type service struct {
	client ble.Client
	svc    *ble.Service
	logger *logrus.Logger
}

func (s *service) UUID() string { return device.NormalizeUUID(s.svc.UUID.String()) }

func (s *service) Characteristic(ctx context.Context, uuid string) (device.Characteristic, error) {
	var found *ble.Characteristic
	err := withContext(ctx, "ble-discover-characteristics", func() error {
		chars, err := s.client.DiscoverCharacteristics(nil, s.svc)
		if err != nil {
			return err
		}
		for _, c := range chars {
			if device.SameUUID(c.UUID.String(), uuid) {
				found = c
				break
			}
		}
		if found == nil {
			return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.UUID(), uuid}}
		}

		// The CCCD must be known before subscribing on Linux.
		descs, err := s.client.DiscoverDescriptors(nil, found)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"char_uuid": uuid,
				"error":     err,
			}).Debug("Descriptor discovery failed")
			return nil
		}
		if !hasDescriptor(descs, bledb.ClientCharConfig) && found.Property&(ble.CharNotify|ble.CharIndicate) != 0 {
			s.logger.WithFields(logrus.Fields{
				"char_uuid":  uuid,
				"descriptor": bledb.LookupDescriptor(bledb.ClientCharConfig),
			}).Warn("Characteristic has no notification descriptor; subscribing may fail")
		}
		return nil
	})
	if err != nil {
		return nil, NormalizeError("discover characteristic", err)
	}

	return &characteristic{client: s.client, char: found, logger: s.logger}, nil
}

type characteristic struct {
	client ble.Client
	char   *ble.Characteristic
	logger *logrus.Logger

	mu         sync.Mutex
	subscribed bool
	indicate   bool
}

func (c *characteristic) UUID() string { return device.NormalizeUUID(c.char.UUID.String()) }

func (c *characteristic) Read(ctx context.Context) ([]byte, error) {
	if c.char.Property&ble.CharRead == 0 {
		return nil, device.NewError(device.KindNotSupported, "read",
			fmt.Errorf("characteristic %s is not readable", c.UUID()))
	}

	var data []byte
	err := withContext(ctx, "ble-read", func() error {
		var err error
		data, err = c.client.ReadCharacteristic(c.char)
		return err
	})
	if err != nil {
		return nil, NormalizeError("read", err)
	}
	return data, nil
}

func (c *characteristic) StartNotifications(ctx context.Context, handler func([]byte)) error {
	var indicate bool
	switch {
	case c.char.Property&ble.CharNotify != 0:
	case c.char.Property&ble.CharIndicate != 0:
		indicate = true
	default:
		return device.NewError(device.KindNotSupported, "start notifications",
			fmt.Errorf("characteristic %s supports neither notify nor indicate", c.UUID()))
	}

	err := withContext(ctx, "ble-subscribe", func() error {
		err := c.client.Subscribe(c.char, indicate, func(data []byte) {
			buf := make([]byte, len(data))
			copy(buf, data)
			handler(buf)
		})
		if err != nil {
			return err
		}
		return c.recordSubscription(ctx, indicate)
	})
	if err != nil {
		return NormalizeError("start notifications", err)
	}
	return nil
}

// recordSubscription marks the characteristic subscribed. A subscription
// that completes after the caller gave up is undone right away, so a later
// StopNotifications or resubscribe never leaves a stray handler behind.
func (c *characteristic) recordSubscription(ctx context.Context, indicate bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		if err := c.client.Unsubscribe(c.char, indicate); err != nil {
			c.logger.WithError(err).Debug("Failed to undo late subscription")
		}
		return context.Cause(ctx)
	}
	c.subscribed, c.indicate = true, indicate
	return nil
}

func (c *characteristic) StopNotifications() error {
	c.mu.Lock()
	if !c.subscribed {
		c.mu.Unlock()
		return nil
	}
	indicate := c.indicate
	c.subscribed = false
	c.mu.Unlock()

	return NormalizeError("stop notifications", c.client.Unsubscribe(c.char, indicate))
}

func hasDescriptor(descs []*ble.Descriptor, uuid string) bool {
	for _, d := range descs {
		if device.SameUUID(d.UUID.String(), uuid) {
			return true
		}
	}
	return false
}
