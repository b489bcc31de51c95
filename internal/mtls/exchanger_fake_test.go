package mtls

import (
	"context"
	"sync"

	"github.com/srg/keybridge/internal/wire"
)

// scriptedExchanger is an in-memory Exchanger: SendFrame hands the sent
// frame to a scripted responder which decides what (if anything) arrives
// on the next RecvFrame. Frames can also be pushed directly (push) to
// model unsolicited server messages like B0.
type scriptedExchanger struct {
	mu      sync.Mutex
	sent    []wire.Frame
	respond func(op wire.Op, payload []byte) wire.Frame
	replies chan wire.Frame
}

func newScriptedExchanger() *scriptedExchanger {
	return &scriptedExchanger{replies: make(chan wire.Frame, 8)}
}

func (s *scriptedExchanger) push(f wire.Frame) { s.replies <- f }

func (s *scriptedExchanger) SendFrame(ctx context.Context, op wire.Op, payload []byte) error {
	s.mu.Lock()
	s.sent = append(s.sent, wire.Frame{Op: op, Payload: payload})
	respond := s.respond
	s.mu.Unlock()

	if respond != nil {
		s.replies <- respond(op, payload)
	}
	return nil
}

func (s *scriptedExchanger) RecvFrame(ctx context.Context) (wire.Frame, error) {
	select {
	case f := <-s.replies:
		return f, nil
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	}
}

func (s *scriptedExchanger) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// fakeStore is an in-memory keystore.Store.
type fakeStore struct {
	mu   sync.Mutex
	data map[string][32]byte
}

func newFakeStore() *fakeStore { return &fakeStore{data: map[string][32]byte{}} }

func (s *fakeStore) Put(deviceID string, key [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[deviceID] = key
	return nil
}

func (s *fakeStore) Get(deviceID string) ([32]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.data[deviceID]
	return k, ok
}

func (s *fakeStore) Clear(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, deviceID)
	return nil
}
