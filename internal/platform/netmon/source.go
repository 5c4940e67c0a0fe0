package netmon

import "sync"

// ManualSource is a connectivity source driven by whoever owns the device's
// network stack, such as the host shell reporting link changes over the local API
type ManualSource struct {
	mu      sync.RWMutex
	current Connectivity
	changes chan Connectivity
}

// NewManualSource starts connected on the given link
func NewManualSource(link LinkType) *ManualSource {
	return &ManualSource{
		current: Connectivity{Connected: true, Link: link},
		changes: make(chan Connectivity, 8),
	}
}

// Current implements ConnectivitySource
func (s *ManualSource) Current() Connectivity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Changes implements ConnectivitySource
func (s *ManualSource) Changes() <-chan Connectivity {
	return s.changes
}

// Set records a new reading and publishes it. If the channel is full the
// reading is still current and will be picked up by the next probe.
func (s *ManualSource) Set(c Connectivity) {
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()

	select {
	case s.changes <- c:
	default:
	}
}
