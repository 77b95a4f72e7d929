// Package pipeline implements the per-connector serialized action
// pipeline: a single-worker mailbox that totally orders init/stop steps on
// one slot while leaving other slots independent (spec.md §4.4, and the
// redesign note in spec.md §9 replacing the source's promise-chain idiom
// with "an explicit per-slot mailbox consumed by one worker").
package pipeline

import "sync"

// Step is one queued unit of work. It returns nothing; a step reports its
// outcome through whatever it closes over. A step that panics does not
// poison the pipeline; the next queued step still runs (spec.md §4.4
// property 2).
type Step func()

// Pipeline is a FIFO, single-worker queue for one connector slot.
type Pipeline struct {
	mu      sync.Mutex
	queue   chan Step
	started bool
}

// New builds a pipeline with room for backlog queued steps before Enqueue
// blocks the caller.
func New(backlog int) *Pipeline {
	if backlog <= 0 {
		backlog = 32
	}
	p := &Pipeline{queue: make(chan Step, backlog)}
	return p
}

// Start launches the single worker goroutine that drains the queue in
// order. Safe to call once; subsequent calls are no-ops.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	go p.run()
}

func (p *Pipeline) run() {
	for step := range p.queue {
		runStep(step)
	}
}

// runStep executes step, recovering a panic so one broken step can never
// wedge the worker goroutine for the rest of the slot's lifetime.
func runStep(step Step) {
	defer func() { _ = recover() }()
	step()
}

// Enqueue appends a step to the slot's queue. Guards named in spec.md §4.4
// (AlreadyActive, ShuttingDown, NotActive) are evaluated by the step itself
// at execution time, not here, per "evaluated just before executing the
// step, not at enqueue time."
func (p *Pipeline) Enqueue(step Step) {
	p.Start()
	p.queue <- step
}

// EnqueueSync appends a step and blocks the caller until it has run.
func (p *Pipeline) EnqueueSync(step func()) {
	done := make(chan struct{})
	p.Enqueue(func() {
		step()
		close(done)
	})
	<-done
}

// Close closes the queue at once: an Enqueue after Close panics. Steps
// already queued still run, and the worker exits after the last of them.
// If the worker was never started, Close does nothing.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	close(p.queue)
}
