package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"

	"github.com/srg/keybridge/internal/groutine"
)

// normalizeUUID matches ServiceUUID/WriteCharUUID/NotifyCharUUID's form:
// lowercase, no dashes.
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// DeviceFactory builds the platform ble.Device. Overridable in tests, the
// same seam the teacher's go-ble adapter used (internal/device/go-ble.DeviceFactory).
var DeviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice()
}

// Connection is the single owner of one live BLE link to one dongle. Only
// one Connection may be connected at a time per process (§4.2 "single
// connection owner").
type Connection struct {
	log logrus.FieldLogger

	mu          sync.RWMutex
	client      ble.Client
	writeChar   *ble.Characteristic
	notifyChar  *ble.Characteristic
	connected   atomic.Bool
	address     string

	onFrameBytes FrameSink
	onDisconnect func()
}

// New builds an unconnected Connection. onFrameBytes is invoked, in order,
// for every notification payload received on the notify characteristic;
// callers feed this straight into a framer.Framer.
func New(log logrus.FieldLogger, onFrameBytes FrameSink) *Connection {
	return &Connection{log: log, onFrameBytes: onFrameBytes}
}

// SetDisconnectHandler registers fn to run when the peripheral drops the
// link on its own, as opposed to a caller-initiated Disconnect. Invoked
// from the transport-disconnect-monitor goroutine after connected/client
// have already been cleared, so fn observes a torn-down Connection. fn
// must not block.
func (c *Connection) SetDisconnectHandler(fn func()) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// IsConnected reports whether this Connection currently owns a live link.
func (c *Connection) IsConnected() bool { return c.connected.Load() }

// Address returns the peer address of the current (or most recent)
// connection.
func (c *Connection) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

// Connect dials the dongle at opts.Address, discovers the fixed NUS-style
// service, subscribes to its notify characteristic, and enables the
// connection for Write (§4.2: dial, discover, enable notifications, done —
// no bonding step, no MTU negotiation beyond go-ble's default exchange).
func (c *Connection) Connect(ctx context.Context, opts ConnectOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		return ErrAlreadyConnected
	}

	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("transport: creating ble device: %w", NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)

	connCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	c.log.WithField("address", opts.Address).Debug("dialing dongle")
	client, err := ble.Dial(connCtx, ble.NewAddr(opts.Address))
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", opts.Address, NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return fmt.Errorf("transport: discover profile: %w", NormalizeError(err))
	}

	writeChar, notifyChar, err := findNUSChars(profile)
	if err != nil {
		_ = client.CancelConnection()
		return err
	}

	if err := client.Subscribe(notifyChar, false, func(data []byte) {
		if c.onFrameBytes != nil {
			c.onFrameBytes(data)
		}
	}); err != nil {
		_ = client.CancelConnection()
		return fmt.Errorf("transport: subscribe notify char: %w", NormalizeError(err))
	}

	c.client = client
	c.writeChar = writeChar
	c.notifyChar = notifyChar
	c.address = opts.Address
	c.connected.Store(true)

	if darwinClient, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "transport-disconnect-monitor", func(_ context.Context) {
			<-darwinClient.Disconnected()
			c.log.WithField("address", opts.Address).Warn("peripheral disconnected")
			c.mu.Lock()
			wasConnected := c.connected.Load()
			c.connected.Store(false)
			c.client = nil
			handler := c.onDisconnect
			c.mu.Unlock()
			// wasConnected is false when a caller already went through
			// Disconnect() before the peripheral-side teardown completed;
			// that is a solicited disconnect, not the unsolicited drop this
			// handler exists to report.
			if handler != nil && wasConnected {
				handler()
			}
		})
	}

	c.log.WithField("address", opts.Address).Info("connected to dongle")
	return nil
}

func findNUSChars(profile *ble.Profile) (writeChar, notifyChar *ble.Characteristic, err error) {
	for _, svc := range profile.Services {
		if normalizeUUID(svc.UUID.String()) != ServiceUUID {
			continue
		}
		for _, ch := range svc.Characteristics {
			switch normalizeUUID(ch.UUID.String()) {
			case WriteCharUUID:
				writeChar = ch
			case NotifyCharUUID:
				notifyChar = ch
			}
		}
	}
	if writeChar == nil || notifyChar == nil {
		return nil, nil, ErrServiceNotFound
	}
	return writeChar, notifyChar, nil
}

// Write sends a fully wire-encoded outer frame to the dongle's write
// characteristic (§4.2, §4.3: the transport is a dumb byte pipe, framing
// happens above it).
func (c *Connection) Write(ctx context.Context, data []byte) error {
	c.mu.RLock()
	client := c.client
	writeChar := c.writeChar
	connected := c.connected.Load()
	c.mu.RUnlock()

	if !connected || client == nil {
		return ErrNotConnected
	}

	done := make(chan error, 1)
	go func() {
		done <- client.WriteCharacteristic(writeChar, data, false)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("transport: write: %w", NormalizeError(err))
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("transport: write: %w", ctx.Err())
	}
}

// Disconnect tears down the link. Safe to call when already disconnected.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.writeChar = nil
	c.notifyChar = nil
	c.connected.Store(false)
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.CancelConnection(); err != nil {
		return fmt.Errorf("transport: disconnect: %w", NormalizeError(err))
	}
	return nil
}

// Scan runs a BLE discovery scan for duration, reporting every
// advertisement seen as a Candidate (§4.7 "RSSI scan fallback"). Duplicate
// addresses are reported once per advertisement, letting the caller track
// the best (most recent, strongest) RSSI itself.
func Scan(ctx context.Context, duration time.Duration, onCandidate func(Candidate)) error {
	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("transport: creating ble device for scan: %w", NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)

	scanCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	err = dev.Scan(scanCtx, true, func(adv ble.Advertisement) {
		onCandidate(Candidate{
			Address: adv.Addr().String(),
			Name:    adv.LocalName(),
			RSSI:    adv.RSSI(),
			SeenAt:  timeNow(),
		})
	})
	if err != nil && scanCtx.Err() == nil {
		return fmt.Errorf("transport: scan: %w", NormalizeError(err))
	}
	return nil
}

// timeNow exists only so tests can't accidentally depend on wall-clock
// behavior of Scan beyond "some timestamp was recorded"; production always
// uses the real clock.
var timeNow = time.Now
