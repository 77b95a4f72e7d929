// Package connector defines the lifecycle contract every cloud or device
// connector implements, plus a polling variant for peripherals that must be
// sampled on a fixed period rather than pushing events on their own.
package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mbocsi/edgegateway/internal/logging"
)

// Kind identifies a category of error the core surfaces, per spec.md §7.
type Kind string

const (
	KindInvalidConfig  Kind = "InvalidConfig"
	KindInvalidPayload Kind = "InvalidPayload"
	KindNotImplemented Kind = "NotImplemented"
)

// Error is the typed error every connector-contract failure carries,
// generalized from the source's ServiceError{Code,Message,Cause} shape.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Cause: cause}
}

// State is the connector's own lifecycle state, transitioned only by
// successful init/stop completions (spec.md §3).
type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "ACTIVE"
	}
	return "INACTIVE"
}

// Category distinguishes the two connector collections the Controller owns.
type Category string

const (
	Cloud  Category = "cloud"
	Device Category = "device"
)

// Hooks is what a concrete connector type supplies; Base does everything
// else (state tracking, config/payload validation, buffering, events).
// A Base with nil hooks fails init/stop with NotImplemented, matching the
// spec's "default lifecycle hooks MUST fail with NotImplemented" rule.
type Hooks interface {
	// OnInit starts the connector against config, returning the payload to
	// resolve init's completion with, or an error.
	OnInit(ctx context.Context, config map[string]any, requestID string) (any, error)
	// OnStop stops the connector, returning the payload to resolve stop's
	// completion with, or an error.
	OnStop(ctx context.Context, requestID string) (any, error)
}

// DataEvent is what a connector emits on its data channel.
type DataEvent struct {
	Payload   any
	RequestID string
}

// LogEvent is what a connector emits on its log channel.
type LogEvent struct {
	Payload map[string]any
}

// Connector is the full contract spec.md §3/§4.1 describes.
type Connector interface {
	ID() string
	Category() Category
	IsActive() bool
	SetLogger(l logging.Logger)

	Init(ctx context.Context, config map[string]any, requestID string) (any, error)
	Stop(ctx context.Context, requestID string) (any, error)
	AddData(payload any, requestID string) error
	AddLogData(payload map[string]any) error

	// Data/Log return channels subtypes and the router read from. They are
	// fixed for the lifetime of the connector instance (one listener each),
	// satisfying the "exactly one data listener, one log listener" property.
	Data() <-chan DataEvent
	Log() <-chan LogEvent
}

// Base implements Connector's bookkeeping (state machine, validation,
// buffering) around caller-supplied Hooks. Concrete connector types embed
// Base and set Hooks (directly, or via Polling).
type Base struct {
	id       string
	category Category
	hooks    Hooks

	mu     sync.Mutex
	state  State
	logger logging.Logger

	outbox chan DataEvent
	logbox chan LogEvent

	// buffer holds payloads queued by AddData before/between deliveries;
	// unbounded per spec.md §4.1 ("implementations may bound; overflow is
	// an implementation concern") — Base does not bound it.
	bufMu sync.Mutex
	buf   []any
}

// NewBase constructs an inactive connector shell. The data and log channels
// subtypes emit on are buffered with room for 64 events each.
func NewBase(id string, category Category, hooks Hooks) *Base {
	return &Base{
		id:       id,
		category: category,
		hooks:    hooks,
		logger:   logging.Nop,
		outbox:   make(chan DataEvent, 64),
		logbox:   make(chan LogEvent, 64),
	}
}

func (b *Base) ID() string           { return b.id }
func (b *Base) Category() Category   { return b.category }
func (b *Base) SetLogger(l logging.Logger) {
	if l == nil {
		l = logging.Nop
	}
	b.mu.Lock()
	b.logger = l
	b.mu.Unlock()
}

func (b *Base) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == Active
}

func (b *Base) Data() <-chan DataEvent { return b.outbox }
func (b *Base) Log() <-chan LogEvent   { return b.logbox }

// Emit pushes a data event; subtypes call this from their own goroutines
// when they observe new data from their peer.
func (b *Base) Emit(payload any, requestID string) {
	select {
	case b.outbox <- DataEvent{Payload: payload, RequestID: requestID}:
	default:
		b.mu.Lock()
		l := b.logger
		b.mu.Unlock()
		l.Warn("data event dropped, outbox full", "connector", b.id)
	}
}

// EmitLog pushes a log event.
func (b *Base) EmitLog(payload map[string]any) {
	select {
	case b.logbox <- LogEvent{Payload: payload}:
	default:
	}
}

func (b *Base) Init(ctx context.Context, config map[string]any, requestID string) (any, error) {
	if config == nil {
		return nil, newErr(KindInvalidConfig, "config must be a mapping", nil)
	}
	if b.hooks == nil {
		return nil, newErr(KindNotImplemented, "connector has no init hook", nil)
	}
	res, err := b.hooks.OnInit(ctx, config, requestID)
	b.mu.Lock()
	if err != nil {
		b.state = Inactive
	} else {
		b.state = Active
	}
	b.mu.Unlock()
	return res, err
}

func (b *Base) Stop(ctx context.Context, requestID string) (any, error) {
	if b.hooks == nil {
		b.mu.Lock()
		b.state = Inactive
		b.mu.Unlock()
		return nil, newErr(KindNotImplemented, "connector has no stop hook", nil)
	}
	res, err := b.hooks.OnStop(ctx, requestID)
	b.mu.Lock()
	b.state = Inactive
	b.mu.Unlock()
	return res, err
}

func (b *Base) AddData(payload any, requestID string) error {
	if _, ok := payload.(map[string]any); !ok {
		return newErr(KindInvalidPayload, "payload must be a mapping", nil)
	}
	b.bufMu.Lock()
	b.buf = append(b.buf, payload)
	b.bufMu.Unlock()
	return nil
}

// AddLogData is a no-op by default; cloud connector implementations
// override behavior by providing their own type embedding Base and
// shadowing this method, or by using Base.EmitLog from their own send path.
func (b *Base) AddLogData(payload map[string]any) error { return nil }

// Buffered returns and clears the accumulated AddData payloads, for
// implementations that flush their buffer on a send tick.
func (b *Base) Buffered() []any {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	out := b.buf
	b.buf = nil
	return out
}

// PollHooks extends Hooks with the per-tick sampling callback the polling
// variant invokes on its schedule.
type PollHooks interface {
	Hooks
	Process(ctx context.Context)
}

// Polling adds the pollFrequency-driven recurring callback of spec.md §4.1.
// A subsequent Init reschedules, canceling the prior timer first; Stop
// cancels it.
type Polling struct {
	*Base
	hooks PollHooks

	mu    sync.Mutex
	timer *time.Timer
	stopc chan struct{}
}

func NewPolling(id string, category Category, hooks PollHooks) *Polling {
	return &Polling{Base: NewBase(id, category, hooks), hooks: hooks}
}

func (p *Polling) Init(ctx context.Context, config map[string]any, requestID string) (any, error) {
	if config == nil {
		return nil, newErr(KindInvalidConfig, "config must be a mapping", nil)
	}
	freqRaw, ok := config["pollFrequency"]
	if !ok {
		return nil, newErr(KindInvalidConfig, "pollFrequency is required", nil)
	}
	freq, ok := toPositiveMillis(freqRaw)
	if !ok {
		return nil, newErr(KindInvalidConfig, "pollFrequency must be a positive number of milliseconds", nil)
	}

	res, err := p.Base.Init(ctx, config, requestID)
	if err != nil {
		return res, err
	}

	p.cancelTimer()
	p.mu.Lock()
	stopc := make(chan struct{})
	p.stopc = stopc
	p.mu.Unlock()
	p.schedule(ctx, freq, stopc)
	return res, nil
}

func (p *Polling) schedule(ctx context.Context, freq time.Duration, stopc chan struct{}) {
	p.mu.Lock()
	p.timer = time.AfterFunc(freq, func() {
		select {
		case <-stopc:
			return
		default:
		}
		p.hooks.Process(ctx)
		select {
		case <-stopc:
		default:
			p.schedule(ctx, freq, stopc)
		}
	})
	p.mu.Unlock()
}

func (p *Polling) cancelTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopc != nil {
		close(p.stopc)
		p.stopc = nil
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Polling) Stop(ctx context.Context, requestID string) (any, error) {
	p.cancelTimer()
	return p.Base.Stop(ctx, requestID)
}

func toPositiveMillis(v any) (time.Duration, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return 0, false
	}
	if f <= 0 {
		return 0, false
	}
	return time.Duration(f) * time.Millisecond, true
}
