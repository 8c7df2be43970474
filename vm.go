// Package jsvm embeds a sandboxed JavaScript engine. A VM evaluates
// scripts and returns their results as Go values, exposes Go functions to
// scripts, imports ES modules into globals and captures console output.
//
// The engine is QuickJS by default and V8 when built with -tags v8.
package jsvm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryguy/jsvm/internal/core"
	"github.com/cryguy/jsvm/internal/eventloop"
	"github.com/cryguy/jsvm/internal/marshal"
	"github.com/cryguy/jsvm/internal/webapi"
)

// State is the phase of the most recent evaluation.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// VM is one engine instance with its own globals, host functions and log
// buffer. A VM runs one evaluation at a time; entering it while it is
// running fails with ErrBusy. Independent VMs may run concurrently.
type VM struct {
	id      string
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics

	// mu is held for the whole of every operation that touches the engine.
	mu     sync.Mutex
	engine core.Engine
	loop   *eventloop.EventLoop
	host   *webapi.Host
	enc    *marshal.Encoder
	dec    *marshal.Decoder
	funcs  map[string]*hostFunction

	// evalCtx is the context of the running evaluation. Only read on the
	// VM's own goroutine.
	evalCtx context.Context

	handles *handleTable

	// current is the running evaluation, guarded by abortMu so that an
	// interrupt never reaches an engine that has been freed.
	abortMu sync.Mutex
	current *evaluation

	logMu sync.Mutex
	logs  []LogEntry

	state    atomic.Int32
	disposed atomic.Bool
}

// New creates a VM. It fails, leaking nothing, when the configuration is
// invalid or any part of the script environment cannot be installed.
func New(cfg Config) (*VM, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine, err := newEngine(core.Limits{
		MemoryLimit:  uint64(cfg.MemoryLimit),
		MaxStackSize: uint64(cfg.MaxStackSize),
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	id := uuid.NewString()
	v := &VM{
		id:      id,
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("vm", id)),
		metrics: cfg.Metrics,
		engine:  engine,
		loop:    eventloop.New(),
		funcs:   make(map[string]*hostFunction),
		evalCtx: context.Background(),
		handles: newHandleTable(),
	}
	v.enc = &marshal.Encoder{HostError: v.handles.put, Files: v.hasFeature(FeatureFile)}
	v.dec = &marshal.Decoder{Error: v.scriptError}
	v.loop.OnUncaught(v.logThrown)

	if err := v.install(); err != nil {
		engine.Close()
		return nil, err
	}

	v.metrics.vmCreated()
	v.logger.Debug("vm created",
		zap.Strings("features", featureNames(cfg.Features)),
		zap.Int64("memory_limit", cfg.MemoryLimit),
		zap.Int64("max_stack_size", cfg.MaxStackSize),
		zap.Duration("timeout", cfg.Timeout))
	return v, nil
}

// install sets up the script environment: the wire codec first, then
// console capture and the function bridge, then the enabled features.
func (v *VM) install() error {
	if err := marshal.Setup(v.engine); err != nil {
		return fmt.Errorf("installing codec: %w", err)
	}
	if err := webapi.SetupConsole(v.engine, v.consoleSink); err != nil {
		return fmt.Errorf("installing console: %w", err)
	}
	if err := webapi.SetupBridge(v.engine, v.dispatch); err != nil {
		return fmt.Errorf("installing function bridge: %w", err)
	}
	for _, setup := range v.buildSetupFuncs() {
		if err := setup(v.engine, v.loop); err != nil {
			return fmt.Errorf("installing features: %w", err)
		}
	}
	return nil
}

func featureNames(fs []Feature) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}

// ID returns the VM's unique id, also attached to its log lines.
func (v *VM) ID() string { return v.id }

// State returns the phase of the most recent evaluation.
func (v *VM) State() State { return State(v.state.Load()) }

// Disposed reports whether Dispose has been called.
func (v *VM) Disposed() bool { return v.disposed.Load() }

// acquire takes the VM for one operation.
func (v *VM) acquire() error {
	if v.disposed.Load() {
		return ErrDisposed
	}
	if !v.mu.TryLock() {
		return ErrBusy
	}
	return v.admit()
}

// admit runs with mu held. A Dispose that found the lock taken left the
// engine for the holder to free, so a disposed VM is released here.
func (v *VM) admit() error {
	if v.disposed.Load() {
		v.release()
		return ErrDisposed
	}
	return nil
}

// release ends an operation. The engine is freed here when Dispose ran
// while the operation held the VM.
func (v *VM) release() {
	v.mu.Unlock()
	if v.disposed.Load() && v.mu.TryLock() {
		v.closeEngine()
		v.mu.Unlock()
	}
}

// Dispose frees the engine. It is idempotent. Disposing a VM while it is
// evaluating interrupts the evaluation; the engine is freed when it
// unwinds.
func (v *VM) Dispose() error {
	if v.disposed.Swap(true) {
		return nil
	}
	v.metrics.vmDisposed()
	if !v.mu.TryLock() {
		v.abortCurrent()
		v.logger.Debug("vm disposed while running")
		return nil
	}
	v.closeEngine()
	v.mu.Unlock()
	v.logger.Debug("vm disposed")
	return nil
}

// closeEngine must be called with mu held.
func (v *VM) closeEngine() {
	if v.engine == nil {
		return
	}
	v.loop.Reset()
	v.engine.Close()
	v.engine = nil
	v.funcs = nil
	v.handles.reset()
}

// callContext is the context handed to namespace operations.
func (v *VM) callContext() context.Context {
	return v.evalCtx
}

// scriptError converts a script Error crossing into Go. An Error created
// from a host error converts back to that error.
func (v *VM) scriptError(ev *marshal.ErrorValue) any {
	if err := v.handles.get(ev.HostID); err != nil {
		return err
	}
	return errorFromValue(ev)
}

// handleTable maps the ids carried by script Errors to the host errors
// they were created from. It is cleared at the start of every top-level
// call.
type handleTable struct {
	mu   sync.Mutex
	next int64
	errs map[int64]error
}

func newHandleTable() *handleTable {
	return &handleTable{errs: make(map[int64]error)}
}

func (t *handleTable) put(err error) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.errs[t.next] = err
	return t.next
}

func (t *handleTable) get(id int64) error {
	if id == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errs[id]
}

func (t *handleTable) reset() {
	t.mu.Lock()
	clear(t.errs)
	t.mu.Unlock()
}

// validIdentifier reports whether s can be used as a global binding name.
func validIdentifier(s string) bool {
	if s == "" || reservedWords[s] {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

var reservedWords = func() map[string]bool {
	m := map[string]bool{}
	for _, w := range strings.Fields(`break case catch class const continue debugger default delete do
		else enum export extends false finally for function if import in instanceof new null return
		super switch this throw true try typeof var void while with yield let static implements
		interface package private protected public await`) {
		m[w] = true
	}
	return m
}()
