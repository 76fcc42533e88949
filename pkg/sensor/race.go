package sensor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/srg/powersaver/internal/bledb"
	"github.com/srg/powersaver/internal/device"
	"github.com/srg/powersaver/internal/groutine"
)

// deviceIDSuffix is how many trailing id characters tell twin sensors apart.
const deviceIDSuffix = 6

func timeoutError(op string, d time.Duration) error {
	return &device.ConnectError{
		Kind: device.KindTimeout,
		Op:   op,
		Err:  fmt.Errorf("%s timed out after %s", op, d),
	}
}

// race runs fn against the operation timeout. fn keeps running in the
// background if the timeout wins; its context is cancelled so a well
// behaved transport returns promptly.
func race[T any](c *Connection, parent context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := c.opts.Clock.WithTimeoutCause(parent, c.opts.OperationTimeout,
		timeoutError(op, c.opts.OperationTimeout))
	defer cancel()

	type result struct {
		v   T
		err error
	}
	out := make(chan result, 1)
	groutine.Go(ctx, c.profile.Role+": "+op, func(ctx context.Context) {
		v, err := fn(ctx)
		out <- result{v, err}
	})

	select {
	case r := <-out:
		if r.err != nil {
			return r.v, device.NormalizeError(op, r.err)
		}
		return r.v, nil
	case <-ctx.Done():
		var zero T
		return zero, device.NormalizeError(op, context.Cause(ctx))
	}
}

// describe builds "<name> (<manufacturer>) <model> [<id suffix>]" from the
// Device Information service. Missing pieces are left out.
func (c *Connection) describe(ctx context.Context, p device.Peripheral) string {
	var b strings.Builder
	name := p.Name()
	if name == "" {
		name = "Unknown Device"
	}
	b.WriteString(name)

	svc, err := race(c, ctx, "discover device information", func(ctx context.Context) (device.Service, error) {
		return p.PrimaryService(ctx, bledb.DeviceInformationService)
	})
	if err == nil {
		if m := c.readString(ctx, svc, bledb.ManufacturerNameString); m != "" {
			fmt.Fprintf(&b, " (%s)", m)
		}
		if m := c.readString(ctx, svc, bledb.ModelNumberString); m != "" {
			fmt.Fprintf(&b, " %s", m)
		}
	} else {
		c.logger.WithError(err).Debug("No device information")
	}

	if id := strings.ReplaceAll(p.ID(), ":", ""); id != "" {
		fmt.Fprintf(&b, " [%s]", device.ShortID(id, deviceIDSuffix))
	}
	return b.String()
}

func (c *Connection) readString(ctx context.Context, svc device.Service, uuid string) string {
	value, err := race(c, ctx, "read "+uuid, func(ctx context.Context) ([]byte, error) {
		ch, err := svc.Characteristic(ctx, uuid)
		if err != nil {
			return nil, err
		}
		return ch.Read(ctx)
	})
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(value), "\x00 ")
}
