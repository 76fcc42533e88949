package measurement

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/srg/powersaver/internal/wallclock"
)

// DefaultCadenceIdle is how long without a new crank event before cadence
// is reported as zero.
const DefaultCadenceIdle = 3 * time.Second

// CSC Measurement flag bits.
const (
	cscFlagWheel = 1 << 0
	cscFlagCrank = 1 << 1
)

// ParseCSC extracts crank data from a CSC Measurement payload. It returns
// ErrNoValue when the sensor only reports wheel data.
func ParseCSC(data []byte) (CrankData, error) {
	if len(data) < 1 {
		return CrankData{}, invalid("CSC payload is empty")
	}

	flags := data[0]
	off := 1
	if flags&cscFlagWheel != 0 {
		off += 6
	}
	if flags&cscFlagCrank == 0 {
		return CrankData{}, ErrNoValue
	}
	if off+4 > len(data) {
		return CrankData{}, invalid("CSC crank data truncated: %d bytes", len(data))
	}

	return CrankData{
		Revolutions: binary.LittleEndian.Uint16(data[off : off+2]),
		EventTime:   binary.LittleEndian.Uint16(data[off+2 : off+4]),
	}, nil
}

// CrankCadence derives cadence in RPM from successive crank events. After
// a computed value it arms an idle timer; if no further value is computed
// before it fires, onIdle receives 0.
type CrankCadence struct {
	clock  wallclock.Clock
	idle   time.Duration
	onIdle func(rpm int)

	mu    sync.Mutex
	prev  *CrankData
	timer wallclock.Timer
	gen   uint64
}

// NewCrankCadence creates a calculator. A nil clock uses wallclock.Instance
// and a nil onIdle disables the idle reset.
func NewCrankCadence(clock wallclock.Clock, idle time.Duration, onIdle func(rpm int)) *CrankCadence {
	if idle <= 0 {
		idle = DefaultCadenceIdle
	}
	return &CrankCadence{clock: wallclock.OrDefault(clock), idle: idle, onIdle: onIdle}
}

// Update folds in a crank event. The first event, and any event with no
// elapsed crank time, returns ErrNoValue.
func (c *CrankCadence) Update(d CrankData) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.prev
	c.prev = &d
	if prev == nil {
		return 0, ErrNoValue
	}

	// uint16 subtraction handles counter roll-over.
	revs := d.Revolutions - prev.Revolutions
	ticks := d.EventTime - prev.EventTime
	if ticks == 0 {
		return 0, ErrNoValue
	}

	seconds := float64(ticks) / 1024
	rpm := int(math.Floor(float64(revs)/seconds*60 + 0.5))

	c.armLocked()
	return rpm, nil
}

// Decode implements Decoder for CSC Measurement payloads.
func (c *CrankCadence) Decode(data []byte) (int, error) {
	d, err := ParseCSC(data)
	if err != nil {
		return 0, err
	}
	return c.Update(d)
}

func (c *CrankCadence) armLocked() {
	if c.onIdle == nil {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.idle, func() {
		c.mu.Lock()
		stale := gen != c.gen
		if !stale {
			c.timer = nil
		}
		c.mu.Unlock()
		if !stale {
			c.onIdle(0)
		}
	})
}

// Stop cancels the idle timer and forgets the previous crank event.
func (c *CrankCadence) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	c.prev = nil
}
