package sensor

import (
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/powersaver/internal/wallclock"
)

// Options configures a Connection. Zero fields take the tagged defaults.
type Options struct {
	// OperationTimeout bounds service discovery, characteristic discovery
	// and notification start, each on its own.
	OperationTimeout time.Duration `default:"10s"`
	// ConnectTimeout bounds the GATT connect call.
	ConnectTimeout       time.Duration `default:"30s"`
	ReconnectDelay       time.Duration `default:"5s"`
	MaxReconnectAttempts int           `default:"3"`

	// DeviceAddress pins the chooser to one peripheral.
	DeviceAddress string

	Clock  wallclock.Clock
	Logger *logrus.Logger
}

func (o Options) withDefaults() Options {
	defaults.SetDefaults(&o)
	o.Clock = wallclock.OrDefault(o.Clock)
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	return o
}
