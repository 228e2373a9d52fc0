package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash"

	"github.com/ardnew/duckbridge/link"
	"github.com/ardnew/duckbridge/pkg"
)

// Event is one input to the worker's scheduler.
type Event uint8

// Scheduler events.
const (
	EventStop        Event = iota // abandon the running script
	EventStart                    // run the script from the top
	EventPauseResume              // toggle between Running and Paused
	EventAttention                // the satellite has a request pending
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventStop:
		return "Stop"
	case EventStart:
		return "Start"
	case EventPauseResume:
		return "PauseResume"
	case EventAttention:
		return "Attention"
	default:
		return "Unknown"
	}
}

// Default scheduler parameters.
const (
	DefaultTickInterval = 10 * time.Millisecond
	DefaultEventDepth   = 64
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// ScriptPath names the script file. Ignored when Script is set.
	ScriptPath string
	// Script supplies the script directly.
	Script io.ReadSeeker

	// Storage backs block requests. Nil means no image is mounted.
	Storage Storage

	// Master is the controller side of the link. Required.
	Master link.Master
	// Line delivers attention edges. Nil means attention only arrives
	// through Worker.Attention.
	Line link.Line

	Transport TransportConfig
	Runner    RunnerConfig

	TickInterval time.Duration // longest wait for an event (default DefaultTickInterval)
	EventDepth   int           // queued attention events before Attention drops (default DefaultEventDepth)
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.EventDepth <= 0 {
		c.EventDepth = DefaultEventDepth
	}
	if c.Storage == nil {
		c.Storage = NoStorage()
	}
	return c
}

// Worker runs the controller's scheduler loop on a single goroutine. It is
// the only mutator of its State; other goroutines read snapshots.
type Worker struct {
	config    WorkerConfig
	events    chan Event
	transport *Transport
	handler   Handler
	runner    *Runner
	file      *os.File
	counters  pkg.Counters
	log       *slog.Logger

	mutex      sync.RWMutex
	state      State
	delayUntil time.Time

	// Control requests are held apart from the attention queue so an
	// attention backlog can delay them but never drop them.
	controlMutex sync.Mutex
	pending      control
	wake         chan struct{}

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Open prepares the script and starts the worker goroutine. The worker
// stops when ctx is done or Close is called.
func Open(ctx context.Context, config WorkerConfig) *Worker {
	w := newWorker(config)
	w.setup()

	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
	if w.config.Line != nil {
		go w.pump(ctx, w.config.Line)
	}
	return w
}

func newWorker(config WorkerConfig) *Worker {
	config = config.withDefaults()
	w := &Worker{
		config: config,
		events: make(chan Event, config.EventDepth),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		log:    pkg.Logger(pkg.ComponentScheduler),
	}
	w.transport = NewTransport(config.Master, config.Transport, &w.counters)
	w.handler = StorageHandler{Storage: config.Storage, Counters: &w.counters}
	w.state.Phase = PhaseInit
	return w
}

// setup opens the script, counts its lines and leaves the worker Idle,
// or in FileError when the script cannot be read.
func (w *Worker) setup() {
	script := w.config.Script
	name := w.config.ScriptPath
	if script == nil {
		f, err := os.Open(w.config.ScriptPath)
		if err != nil {
			w.fail(PhaseFileError, 0, err)
			return
		}
		w.file = f
		script = f
	}
	if name != "" {
		name = filepath.Base(name)
	}

	var lc lineCounter
	h := xxhash.New()
	if _, err := io.Copy(io.MultiWriter(h, &lc), script); err != nil {
		w.fail(PhaseFileError, 0, err)
		return
	}
	if _, err := script.Seek(0, io.SeekStart); err != nil {
		w.fail(PhaseFileError, 0, err)
		return
	}

	runnerConfig := w.config.Runner
	runnerConfig.Counters = &w.counters
	runnerConfig.OnDelay = w.onDelay
	w.runner = NewRunner(script, w.transport, runnerConfig)

	w.mutex.Lock()
	w.state.Phase = PhaseIdle
	w.state.TotalLines = int(lc)
	w.state.Script = name
	w.state.ScriptDigest = h.Sum64()
	w.mutex.Unlock()

	w.log.Info("script loaded", "script", name, "lines", int(lc), "digest", h.Sum64())
}

// Close stops the worker and waits for its goroutine to exit.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
			<-w.done
		}
		if w.file != nil {
			w.file.Close()
		}
	})
	return nil
}

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Start requests the script be run from the top.
func (w *Worker) Start() { w.post(EventStart) }

// Stop requests the running script be abandoned. It is a no-op unless a
// script is in progress.
func (w *Worker) Stop() { w.post(EventStop) }

// PauseResume toggles between Running and Paused.
func (w *Worker) PauseResume() { w.post(EventPauseResume) }

// Attention queues one satellite request for service.
func (w *Worker) Attention() { w.post(EventAttention) }

// Toggle stops a script in progress and starts one otherwise.
func (w *Worker) Toggle() {
	if w.State().Phase.active() {
		w.Stop()
	} else {
		w.Start()
	}
}

// State returns a snapshot of the worker's state.
func (w *Worker) State() State {
	w.mutex.RLock()
	s := w.state
	if s.Phase == PhaseDelay {
		s.DelayRemaining = max(time.Until(w.delayUntil), 0)
	}
	w.mutex.RUnlock()

	s.Storage = w.config.Storage.Available()
	s.Counters = w.counters.Snapshot()
	return s
}

// Counters returns the worker's counters.
func (w *Worker) Counters() *pkg.Counters {
	return &w.counters
}

func (w *Worker) post(ev Event) {
	if ev == EventAttention {
		select {
		case w.events <- ev:
		default:
			w.log.Warn("attention dropped, queue full")
		}
		return
	}

	w.controlMutex.Lock()
	w.pending.add(ev)
	w.controlMutex.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// control accumulates the control requests posted between two ticks.
type control struct {
	stop   bool
	start  bool
	pauses int
}

func (c *control) add(ev Event) {
	switch ev {
	case EventStop:
		c.stop = true
	case EventStart:
		c.start = true
	case EventPauseResume:
		c.pauses++
	}
}

// takeControl appends the pending control requests to batch and clears
// them. Pause requests keep their parity, so an even number still consumes
// the tick without toggling.
func (w *Worker) takeControl(batch []Event) []Event {
	w.controlMutex.Lock()
	c := w.pending
	w.pending = control{}
	w.controlMutex.Unlock()

	if c.stop {
		batch = append(batch, EventStop)
	}
	if c.start {
		batch = append(batch, EventStart)
	}
	if c.pauses > 2 {
		c.pauses = 2 - c.pauses%2
	}
	for ; c.pauses > 0; c.pauses-- {
		batch = append(batch, EventPauseResume)
	}
	return batch
}

// pump forwards attention edges into the event queue. Edges are never
// dropped here; backpressure is absorbed by the line's own queue.
func (w *Worker) pump(ctx context.Context, line link.Line) {
	edges := line.Edges()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-edges:
			if !ok {
				return
			}
			select {
			case w.events <- EventAttention:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.config.TickInterval)
	defer timer.Stop()

	batch := make([]Event, 0, w.config.EventDepth+4)
	for {
		var ok bool
		batch, ok = w.collect(ctx, timer, batch[:0])
		if !ok {
			w.log.Debug("worker stopped")
			return
		}
		w.tick(ctx, batch)
	}
}

// collect waits up to one tick interval for an event, then drains whatever
// attention is already queued and appends the pending control requests.
func (w *Worker) collect(ctx context.Context, timer *time.Timer, batch []Event) ([]Event, bool) {
	timer.Reset(w.config.TickInterval)
	select {
	case <-ctx.Done():
		return batch, false
	case ev := <-w.events:
		batch = append(batch, ev)
	case <-w.wake:
	case <-timer.C:
	}
drain:
	for len(batch) < w.config.EventDepth {
		select {
		case ev := <-w.events:
			batch = append(batch, ev)
		default:
			break drain
		}
	}
	return w.takeControl(batch), true
}

// tick applies one batch of events. Every attention event is serviced
// first, whatever the phase. A Stop that ends a script consumes the rest
// of the control events in the batch. The script advances only on a tick
// with no events.
func (w *Worker) tick(ctx context.Context, batch []Event) {
	var stop, start, pause bool
	for _, ev := range batch {
		switch ev {
		case EventAttention:
			if err := w.transport.Exchange(ctx, w.handler); err != nil {
				w.log.Debug("exchange failed", "error", err)
			}
		case EventStop:
			stop = true
		case EventStart:
			start = true
		case EventPauseResume:
			pause = !pause
		}
	}

	phase := w.phase()
	switch {
	case stop && phase.active():
		w.setPhase(PhaseIdle)
		w.log.Info("script stopped", "line", w.runner.Line())
		return
	case start:
		w.begin(phase)
	case pause:
		switch phase {
		case PhaseRunning:
			w.setPhase(PhasePaused)
		case PhasePaused:
			w.setPhase(PhaseRunning)
		}
	}

	if len(batch) == 0 && w.phase() == PhaseRunning {
		w.step(ctx)
	}
}

func (w *Worker) begin(phase Phase) {
	if phase != PhaseIdle && phase != PhaseDone {
		w.log.Debug("start ignored", "phase", phase)
		return
	}
	if err := w.runner.Reset(); err != nil {
		w.fail(PhaseFileError, 0, err)
		return
	}

	w.mutex.Lock()
	w.state.Phase = PhaseRunning
	w.state.CurrentLine = 0
	w.state.ErrorLine = 0
	w.state.ErrorText = ""
	w.mutex.Unlock()

	w.log.Info("script started")
}

func (w *Worker) step(ctx context.Context) {
	res, err := w.runner.Step(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		var se *ScriptError
		if errors.As(err, &se) {
			w.fail(PhaseFileError, se.Line, se.Err)
		} else {
			w.fail(PhaseScriptError, w.runner.Line(), err)
		}
		return
	}

	switch res {
	case StepEOF:
		w.setPhase(PhaseIdle)
		w.log.Info("script done", "lines", w.runner.Line())
	case StepLine:
		w.mutex.Lock()
		w.state.CurrentLine = w.runner.Line()
		w.mutex.Unlock()
	}
}

func (w *Worker) onDelay(remaining time.Duration) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if remaining > 0 {
		w.state.Phase = PhaseDelay
		w.delayUntil = time.Now().Add(remaining)
	} else if w.state.Phase == PhaseDelay {
		w.state.Phase = PhaseRunning
		w.state.DelayRemaining = 0
	}
}

func (w *Worker) fail(phase Phase, line int, err error) {
	w.mutex.Lock()
	w.state.Phase = phase
	w.state.ErrorLine = line
	w.state.ErrorText = err.Error()
	w.mutex.Unlock()

	w.log.Error("script failed", "phase", phase, "line", line, "error", err)
}

func (w *Worker) phase() Phase {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.state.Phase
}

func (w *Worker) setPhase(p Phase) {
	w.mutex.Lock()
	w.state.Phase = p
	w.state.DelayRemaining = 0
	w.mutex.Unlock()
}

// lineCounter counts newline bytes written to it.
type lineCounter int

func (c *lineCounter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			*c++
		}
	}
	return len(p), nil
}
