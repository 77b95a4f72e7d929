package connector

import (
	"context"
	"testing"
	"time"
)

type fakeHooks struct {
	initFn func(ctx context.Context, config map[string]any, requestID string) (any, error)
	stopFn func(ctx context.Context, requestID string) (any, error)
}

func (f *fakeHooks) OnInit(ctx context.Context, config map[string]any, requestID string) (any, error) {
	if f.initFn != nil {
		return f.initFn(ctx, config, requestID)
	}
	return "ok", nil
}

func (f *fakeHooks) OnStop(ctx context.Context, requestID string) (any, error) {
	if f.stopFn != nil {
		return f.stopFn(ctx, requestID)
	}
	return "ok", nil
}

func TestBase_InitRejectsNonMappingConfig(t *testing.T) {
	b := NewBase("c1", Device, &fakeHooks{})
	_, err := b.Init(context.Background(), nil, "r1")
	if err == nil {
		t.Fatal("expected InvalidConfig error")
	}
	if cerr, ok := err.(*Error); !ok || cerr.Kind != KindInvalidConfig {
		t.Fatalf("expected InvalidConfig, got %v", err)
	}
}

func TestBase_InitSuccessTransitionsToActive(t *testing.T) {
	b := NewBase("c1", Device, &fakeHooks{})
	if b.IsActive() {
		t.Fatal("expected inactive before init")
	}
	_, err := b.Init(context.Background(), map[string]any{}, "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.IsActive() {
		t.Fatal("expected active after successful init")
	}
}

func TestBase_InitFailureStaysInactive(t *testing.T) {
	b := NewBase("c1", Device, &fakeHooks{initFn: func(ctx context.Context, config map[string]any, requestID string) (any, error) {
		return nil, &Error{Kind: KindInvalidConfig, Message: "boom"}
	}})
	_, err := b.Init(context.Background(), map[string]any{}, "r1")
	if err == nil {
		t.Fatal("expected error")
	}
	if b.IsActive() {
		t.Fatal("expected inactive after failed init")
	}
}

func TestBase_StopTransitionsToInactive(t *testing.T) {
	b := NewBase("c1", Device, &fakeHooks{})
	_, _ = b.Init(context.Background(), map[string]any{}, "r1")
	_, err := b.Stop(context.Background(), "r2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.IsActive() {
		t.Fatal("expected inactive after stop")
	}
}

func TestBase_NoHooksFailsNotImplemented(t *testing.T) {
	b := NewBase("c1", Device, nil)
	_, err := b.Init(context.Background(), map[string]any{}, "r1")
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != KindNotImplemented {
		t.Fatalf("expected NotImplemented, got %v", err)
	}
}

func TestBase_AddDataRejectsNonMapping(t *testing.T) {
	b := NewBase("c1", Device, &fakeHooks{})
	if err := b.AddData("not a map", "r1"); err == nil {
		t.Fatal("expected InvalidPayload error")
	}
	if err := b.AddData(map[string]any{"x": 1}, "r1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBase_AddLogDataDefaultsToNoop(t *testing.T) {
	b := NewBase("c1", Cloud, &fakeHooks{})
	if err := b.AddLogData(map[string]any{"x": 1}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

type pollFake struct {
	*fakeHooks
	processed chan struct{}
}

func (p *pollFake) Process(ctx context.Context) {
	select {
	case p.processed <- struct{}{}:
	default:
	}
}

func TestPolling_RequiresPositiveFrequency(t *testing.T) {
	hooks := &pollFake{fakeHooks: &fakeHooks{}, processed: make(chan struct{}, 1)}
	p := NewPolling("c1", Device, hooks)

	if _, err := p.Init(context.Background(), map[string]any{}, "r1"); err == nil {
		t.Fatal("expected InvalidConfig for missing pollFrequency")
	}
	if _, err := p.Init(context.Background(), map[string]any{"pollFrequency": float64(-5)}, "r1"); err == nil {
		t.Fatal("expected InvalidConfig for non-positive pollFrequency")
	}
}

func TestPolling_SchedulesProcess(t *testing.T) {
	hooks := &pollFake{fakeHooks: &fakeHooks{}, processed: make(chan struct{}, 1)}
	p := NewPolling("c1", Device, hooks)

	if _, err := p.Init(context.Background(), map[string]any{"pollFrequency": float64(10)}, "r1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-hooks.processed:
	case <-time.After(time.Second):
		t.Fatal("expected Process to be invoked on schedule")
	}
	if _, err := p.Stop(context.Background(), "r2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
