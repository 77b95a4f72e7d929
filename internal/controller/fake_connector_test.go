package controller

import (
	"context"
	"sync"

	"github.com/mbocsi/edgegateway/internal/connector"
	"github.com/mbocsi/edgegateway/internal/logging"
)

// fakeConnector is an instrumented connector.Connector used across the
// controller test suite: its Init/Stop call counts and outcomes are
// controllable per test, and initGate (when non-nil) lets a test hold Init
// open until it chooses to release it.
type fakeConnector struct {
	id       string
	category connector.Category

	mu        sync.Mutex
	active    bool
	initCount int
	stopCount int

	initGate chan struct{}
	initErr  error
	stopErr  error

	data chan connector.DataEvent
	log  chan connector.LogEvent

	dataSent []any
	ops      []string
}

func newFakeConnector(id string, cat connector.Category) *fakeConnector {
	return &fakeConnector{
		id:       id,
		category: cat,
		data:     make(chan connector.DataEvent, 8),
		log:      make(chan connector.LogEvent, 8),
	}
}

func (f *fakeConnector) ID() string                   { return f.id }
func (f *fakeConnector) Category() connector.Category { return f.category }
func (f *fakeConnector) SetLogger(logging.Logger)     {}

func (f *fakeConnector) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeConnector) Init(ctx context.Context, _ map[string]any, _ string) (any, error) {
	if f.initGate != nil {
		select {
		case <-f.initGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.initCount++
	f.ops = append(f.ops, "init")
	err := f.initErr
	if err == nil {
		f.active = true
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return "ok", nil
}

func (f *fakeConnector) Stop(_ context.Context, _ string) (any, error) {
	f.mu.Lock()
	f.stopCount++
	f.ops = append(f.ops, "stop")
	f.active = false
	err := f.stopErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return "ok", nil
}

func (f *fakeConnector) AddData(payload any, _ string) error {
	f.mu.Lock()
	f.dataSent = append(f.dataSent, payload)
	f.mu.Unlock()
	return nil
}

func (f *fakeConnector) AddLogData(map[string]any) error { return nil }
func (f *fakeConnector) Data() <-chan connector.DataEvent { return f.data }
func (f *fakeConnector) Log() <-chan connector.LogEvent   { return f.log }

func (f *fakeConnector) counts() (init, stop int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCount, f.stopCount
}

func (f *fakeConnector) opsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeConnector) emitData(payload any, requestID string) {
	f.data <- connector.DataEvent{Payload: payload, RequestID: requestID}
}
