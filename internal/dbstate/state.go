package dbstate

import (
	"sync"
	"sync/atomic"
	"time"
)

// Observed is either a known descriptor or unknown.
type Observed struct {
	desc  Descriptor
	known bool
}

func Known(d Descriptor) Observed { return Observed{desc: d, known: true} }

func Unknown() Observed { return Observed{} }

func (o Observed) Descriptor() (Descriptor, bool) { return o.desc, o.known }

func (o Observed) IsKnown() bool { return o.known }

// Name returns the state name, or "unknown".
func (o Observed) Name() string {
	if !o.known {
		return "unknown"
	}
	return string(o.desc.Name)
}

// Snapshot is a consistent read of ServiceState.
type Snapshot struct {
	Current            Observed
	LastChange         time.Time
	TransitionInFlight bool
}

type pointer struct {
	current    Observed
	lastChange time.Time
}

// ServiceState owns the tracked state pointer and the transition lock.
// Transitions hold mu exclusively for their whole duration; the pointer is
// swapped atomically so readers never wait on mu.
type ServiceState struct {
	mu       sync.RWMutex
	inFlight atomic.Bool
	ptr      atomic.Pointer[pointer]
}

func NewServiceState() *ServiceState {
	s := &ServiceState{}
	s.ptr.Store(&pointer{current: Unknown()})
	return s
}

func (s *ServiceState) Snapshot() Snapshot {
	p := s.ptr.Load()
	return Snapshot{
		Current:            p.current,
		LastChange:         p.lastChange,
		TransitionInFlight: s.inFlight.Load(),
	}
}

func (s *ServiceState) store(current Observed, lastChange time.Time) {
	s.ptr.Store(&pointer{current: current, lastChange: lastChange})
}

func (s *ServiceState) beginTransition() {
	s.mu.Lock()
	s.inFlight.Store(true)
}

func (s *ServiceState) endTransition() {
	s.inFlight.Store(false)
	s.mu.Unlock()
}
