// Package transport implements the §4.2 BLE Transport contract: single
// connection owner, one fixed NUS-style service (one write characteristic,
// one notify characteristic), scanning that reports each advertiser's RSSI
// (ranking is left to the caller), and delivery of raw notification chunks
// to a FrameSink (reassembly into frames happens outside this package).
//
// Adapted from the teacher's internal/device (interface shape,
// NotFoundError/ConnectionError/NormalizeError) and internal/device/go-ble
// (the real go-ble.Dial/DiscoverProfile/Subscribe/WriteCharacteristic call
// sequence), narrowed from a general GATT explorer down to the one fixed
// service this protocol actually uses.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceUUID, WriteCharUUID and NotifyCharUUID identify the dongle's
// fixed Nordic-UART-style service (§4.2).
const (
	ServiceUUID    = "6e400001b5a3f393e0a9e50e24dcca9e"
	WriteCharUUID  = "6e400002b5a3f393e0a9e50e24dcca9e"
	NotifyCharUUID = "6e400003b5a3f393e0a9e50e24dcca9e"
)

// ConnectionState mirrors the teacher's device.ConnectionState enum,
// narrowed to the states this transport's single owner can be in.
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError is the §7 taxonomy's connection-state error, grounded on
// internal/device.ConnectionError (kept including its Is() so
// errors.Is(err, ErrNotConnected) keeps working after wrapping).
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}

	// ErrBluetoothOff signals the host adapter itself is unavailable, not
	// just this one peripheral (§4.2, §7).
	ErrBluetoothOff = errors.New("bluetooth adapter unavailable")
	// ErrServiceNotFound means the connected peripheral did not expose the
	// fixed NUS-style service this protocol requires.
	ErrServiceNotFound = errors.New("transport: required service not found on peripheral")
	ErrTimeout          = errors.New("transport: timeout")
)

// NormalizeError maps known go-ble error strings to the structured errors
// above, the same "pin the upstream library's wording down to a stable
// sentinel" idiom as internal/device/go-ble.NormalizeError.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	}

	msg := err.Error()
	switch {
	case containsFold(msg, "bluetooth is turned off"),
		msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsFold(msg, "device not connected"), containsFold(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsFold(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsFold(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Candidate is one scan-discovered dongle, ranked by the orchestrator by
// RSSI (§4.7).
type Candidate struct {
	Address string
	Name    string
	RSSI    int
	SeenAt  time.Time
}

// ConnectOptions bounds a single connect attempt (§4.2, §4.7 "fast path"
// vs "scan fallback" timeouts).
type ConnectOptions struct {
	Address        string
	ConnectTimeout time.Duration
}

// FrameSink receives bytes as they arrive off the notify characteristic,
// in order, for the Framer to reassemble (§4.3).
type FrameSink func(chunk []byte)
