package calling

import (
	"log/slog"
	"sync"
)

// Registry tracks the live call service for each call leg id. It is the only
// shared mutable state in the core and provides the atomic insert/replace/
// remove semantics the concurrent webhook handlers rely on.
type Registry struct {
	mu     sync.RWMutex
	calls  map[string]*CallService
	logger *slog.Logger
}

// NewRegistry creates an empty in-memory call registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		calls:  make(map[string]*CallService),
		logger: logger.With("subsystem", "registry"),
	}
}

// Register installs svc as the live call service for callLegID and returns
// the previous occupant, if any. The swap happens inside one critical
// section so exactly one caller observes (and is responsible for draining)
// any given stale entry.
func (r *Registry) Register(callLegID string, svc *CallService) *CallService {
	r.mu.Lock()
	prev := r.calls[callLegID]
	r.calls[callLegID] = svc
	r.mu.Unlock()

	if prev != nil {
		r.logger.Info("replaced call registration",
			"call_leg_id", callLegID,
			"correlation_id", svc.CorrelationID(),
		)
	} else {
		r.logger.Info("registered call",
			"call_leg_id", callLegID,
			"correlation_id", svc.CorrelationID(),
		)
	}
	return prev
}

// Get returns the call service for callLegID, or nil if none is registered.
func (r *Registry) Get(callLegID string) *CallService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.calls[callLegID]
}

// Remove deletes and returns the call service for callLegID, or nil if none
// was registered.
func (r *Registry) Remove(callLegID string) *CallService {
	r.mu.Lock()
	svc, ok := r.calls[callLegID]
	if ok {
		delete(r.calls, callLegID)
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("removed call", "call_leg_id", callLegID)
		return svc
	}
	return nil
}

// RemoveMatch deletes the entry for callLegID only if svc is still the
// registered occupant. A stale service expiring after being replaced must
// not evict its successor.
func (r *Registry) RemoveMatch(callLegID string, svc *CallService) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls[callLegID] != svc {
		return false
	}
	delete(r.calls, callLegID)
	return true
}

// Calls returns a snapshot of all live call services.
func (r *Registry) Calls() []*CallService {
	r.mu.RLock()
	defer r.mu.RUnlock()

	calls := make([]*CallService, 0, len(r.calls))
	for _, svc := range r.calls {
		calls = append(calls, svc)
	}
	return calls
}

// CallIDs returns a snapshot of all registered call leg ids.
func (r *Registry) CallIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.calls))
	for id := range r.calls {
		ids = append(ids, id)
	}
	return ids
}

// ActiveCallCount returns the number of registered calls.
func (r *Registry) ActiveCallCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}
