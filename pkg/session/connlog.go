package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// DefaultLogSize is how many connection log entries are kept.
const DefaultLogSize = 100

// LogEntry is one connection log line.
type LogEntry struct {
	Time    time.Time    `json:"time"`
	Role    string       `json:"role,omitempty"`
	Level   logrus.Level `json:"level"`
	Message string       `json:"message"`
}

func (e LogEntry) String() string {
	if e.Role == "" {
		return fmt.Sprintf("%s [%s] %s", e.Time.Format("15:04:05"), e.Level, e.Message)
	}
	return fmt.Sprintf("%s [%s] %s: %s", e.Time.Format("15:04:05"), e.Level, e.Role, e.Message)
}

// LogMetrics provides lock-free counters for a ConnectionLog.
type LogMetrics struct {
	Appended    int64
	Overwritten int64
	Errors      int64
}

// ConnectionLog keeps the most recent connection events in an overlapping
// ring buffer. Writers never block; the oldest entries are dropped.
//
// All methods are thread-safe.
type ConnectionLog struct {
	buffer mpmc.RichOverlappedRingBuffer[LogEntry]
	limit  int

	appended    atomic.Int64
	overwritten atomic.Int64
	errors      atomic.Int64
}

// NewConnectionLog creates a log keeping the last size entries.
func NewConnectionLog(size int) *ConnectionLog {
	if size <= 0 {
		size = DefaultLogSize
	}
	return &ConnectionLog{
		// One spare slot: the ring keeps capacity-1 entries.
		buffer: mpmc.NewOverlappedRingBuffer[LogEntry](uint32(size) + 1),
		limit:  size,
	}
}

// Append adds an entry.
func (l *ConnectionLog) Append(e LogEntry) {
	overwrites, err := l.buffer.EnqueueM(e)
	if err != nil {
		l.errors.Add(1)
		return
	}
	l.overwritten.Add(int64(overwrites))
	l.appended.Add(1)
}

// Drain removes and returns the buffered entries, oldest first, keeping at
// most the last size entries.
func (l *ConnectionLog) Drain() []LogEntry {
	var out []LogEntry
	for !l.buffer.IsEmpty() {
		e, err := l.buffer.Dequeue()
		if err != nil {
			l.errors.Add(1)
			break
		}
		out = append(out, e)
	}
	if len(out) > l.limit {
		out = out[len(out)-l.limit:]
	}
	return out
}

// Metrics returns a copy of the counters.
func (l *ConnectionLog) Metrics() LogMetrics {
	return LogMetrics{
		Appended:    l.appended.Load(),
		Overwritten: l.overwritten.Load(),
		Errors:      l.errors.Load(),
	}
}

// Levels implements logrus.Hook so warnings from any component land in the
// connection log.
func (l *ConnectionLog) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

// Fire implements logrus.Hook.
func (l *ConnectionLog) Fire(entry *logrus.Entry) error {
	role, _ := entry.Data["role"].(string)
	l.Append(LogEntry{Time: entry.Time, Role: role, Level: entry.Level, Message: entry.Message})
	return nil
}
