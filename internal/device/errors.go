package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ErrorKind classifies connection failures.
type ErrorKind string

const (
	KindNoDeviceSelected ErrorKind = "no_device_selected"
	KindNetwork          ErrorKind = "network"
	KindNotSupported     ErrorKind = "not_supported"
	KindSecurity         ErrorKind = "security"
	KindTimeout          ErrorKind = "timeout"
	KindGeneric          ErrorKind = "generic"
)

// ConnectError is a classified transport failure.
type ConnectError struct {
	Kind ErrorKind
	Op   string // operation that failed, e.g. "connect", "discover service"
	Err  error
}

// Error implements the error interface
func (e *ConnectError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is allows errors.Is to compare ConnectError values by Kind
func (e *ConnectError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is matching by kind.
var (
	ErrNoDeviceSelected = &ConnectError{Kind: KindNoDeviceSelected}
	ErrNetwork          = &ConnectError{Kind: KindNetwork}
	ErrNotSupported     = &ConnectError{Kind: KindNotSupported}
	ErrSecurity         = &ConnectError{Kind: KindSecurity}
	ErrTimeout          = &ConnectError{Kind: KindTimeout}
	ErrGeneric          = &ConnectError{Kind: KindGeneric}
)

// Link-level conditions reported by transports.
var (
	ErrNotConnected = errors.New("device not connected")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// NewError wraps err as a ConnectError of the given kind. An err that is
// already a ConnectError is returned unchanged.
func NewError(kind ErrorKind, op string, err error) error {
	var cerr *ConnectError
	if errors.As(err, &cerr) {
		return err
	}
	return &ConnectError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, classifying unknown errors as best it can.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var cerr *ConnectError
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return classify(err)
}

// NormalizeError maps transport error values and messages onto a
// ConnectError. It keeps the original error for context.
func NormalizeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var cerr *ConnectError
	if errors.As(err, &cerr) {
		return err
	}
	return &ConnectError{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) ErrorKind {
	var nf *NotFoundError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &nf):
		return KindNotSupported
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrBluetoothOff):
		return KindNetwork
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "timed out"), containsIgnoreCase(msg, "timeout"):
		return KindTimeout
	case containsIgnoreCase(msg, "insufficient authentication"),
		containsIgnoreCase(msg, "insufficient encryption"),
		containsIgnoreCase(msg, "not permitted"),
		containsIgnoreCase(msg, "blocklist"):
		return KindSecurity
	case containsIgnoreCase(msg, "not supported"), containsIgnoreCase(msg, "unsupported"):
		return KindNotSupported
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "invalid state"),
		containsIgnoreCase(msg, "not connected"),
		containsIgnoreCase(msg, "disconnected"),
		containsIgnoreCase(msg, "connection failed"),
		containsIgnoreCase(msg, "connection-abort"):
		return KindNetwork
	}
	return KindGeneric
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
