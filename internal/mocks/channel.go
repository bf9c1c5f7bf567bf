package mocks

import (
	"encoding/json"
	"sync"

	"classroom-messaging/internal/realtime"
)

// Emission records one Emit call on the ChannelStub.
type Emission struct {
	Event   string
	Payload any
}

// ChannelStub is an in-memory realtime.Channel: it records outbound emissions
// and lets tests deliver inbound events synchronously.
type ChannelStub struct {
	mu        sync.Mutex
	connected bool
	emissions []Emission
	handlers  map[string][]realtime.Handler
	emitErr   error
}

// NewChannelStub returns a connected stub.
func NewChannelStub() *ChannelStub {
	return &ChannelStub{
		connected: true,
		handlers:  make(map[string][]realtime.Handler),
	}
}

func (s *ChannelStub) Emit(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return realtime.ErrNotConnected
	}
	if s.emitErr != nil {
		return s.emitErr
	}
	s.emissions = append(s.emissions, Emission{Event: event, Payload: payload})
	return nil
}

func (s *ChannelStub) Subscribe(event string, h realtime.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], h)
	idx := len(s.handlers[event]) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.handlers[event][idx] = nil
	}
}

func (s *ChannelStub) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SetConnected flips the stub's connectivity flag.
func (s *ChannelStub) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// FailEmits makes every subsequent Emit return err.
func (s *ChannelStub) FailEmits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitErr = err
}

// Deliver marshals payload and invokes the handlers subscribed to event, the
// way the read loop would.
func (s *ChannelStub) Deliver(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}

	s.mu.Lock()
	handlers := append([]realtime.Handler(nil), s.handlers[event]...)
	s.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			h(json.RawMessage(data))
		}
	}
}

// Emissions returns a copy of all recorded emissions.
func (s *ChannelStub) Emissions() []Emission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Emission(nil), s.emissions...)
}

// EmissionsOf returns the recorded emissions for one event.
func (s *ChannelStub) EmissionsOf(event string) []Emission {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Emission
	for _, e := range s.emissions {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

var _ realtime.Channel = (*ChannelStub)(nil)
