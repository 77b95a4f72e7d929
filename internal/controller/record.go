package controller

import (
	"sync"
	"time"

	"github.com/mbocsi/edgegateway/internal/connector"
	"github.com/mbocsi/edgegateway/internal/pipeline"
)

// record is the Controller-held state for one (category, id) slot,
// spec.md §3's ConnectorRecord.
type record struct {
	id       string
	category connector.Category

	mu               sync.RWMutex
	instance         connector.Connector
	actionPending    bool
	lastResult       any
	handlersAttached bool
	handlersDone     chan struct{}
	lastSeen         time.Time

	pipeline *pipeline.Pipeline
}

func (r *record) Instance() connector.Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instance
}

func (r *record) setInstance(c connector.Connector) {
	r.mu.Lock()
	r.instance = c
	r.handlersAttached = false
	r.mu.Unlock()
}

// setInstancePending sets instance and actionPending together under one
// critical section, so a concurrent reader (snapshot, via
// GetCloudConnectors/GetDeviceConnectors) can never observe instance≠nil
// with actionPending=false before init has actually run (spec.md §8
// invariant 2).
func (r *record) setInstancePending(c connector.Connector) {
	r.mu.Lock()
	r.instance = c
	r.handlersAttached = false
	r.actionPending = true
	r.mu.Unlock()
}

func (r *record) clearInstance() {
	r.mu.Lock()
	r.instance = nil
	r.mu.Unlock()
}

func (r *record) setActionPending(v bool) {
	r.mu.Lock()
	r.actionPending = v
	r.mu.Unlock()
}

func (r *record) setLastResult(v any) {
	r.mu.Lock()
	r.lastResult = v
	r.lastSeen = now()
	r.mu.Unlock()
}

func (r *record) touch() {
	r.mu.Lock()
	r.lastSeen = now()
	r.mu.Unlock()
}

// markHandlersAttached returns a fresh done channel the first time it's
// called for the current instance, and nil on any subsequent call, so
// handler wiring happens exactly once per successful init (spec.md §4.4
// point 5, invariant 3 in spec.md §8).
func (r *record) markHandlersAttached() chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlersAttached {
		return nil
	}
	r.handlersAttached = true
	r.handlersDone = make(chan struct{})
	return r.handlersDone
}

// detachHandlers signals any running handler goroutines to exit and resets
// the attachment guard so the next successful init can re-attach.
func (r *record) detachHandlers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlersDone != nil {
		close(r.handlersDone)
		r.handlersDone = nil
	}
	r.handlersAttached = false
}

func (r *record) snapshot() (inst connector.Connector, actionPending bool, lastResult any, lastSeen time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instance, r.actionPending, r.lastResult, r.lastSeen
}

// now is a seam so tests can stamp deterministic snapshots if ever needed;
// production always uses the wall clock.
var now = time.Now
