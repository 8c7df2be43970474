package jsvm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/jsvm/internal/core"
	"github.com/cryguy/jsvm/internal/eventloop"
	"github.com/cryguy/jsvm/internal/webapi"
)

// resultVar is the hidden global the engine parks the completion in.
const resultVar = "__jsvm_result"

// evaluation is one top-level call in flight.
type evaluation struct {
	ctx    context.Context
	cancel context.CancelFunc

	timedOut atomic.Bool // the watchdog fired
	aborted  atomic.Bool // Dispose interrupted the call
}

func (ev *evaluation) interrupted() bool {
	return ev.timedOut.Load() || ev.aborted.Load()
}

// Evaluate runs source as a top-level script and returns its completion
// value. A completion that is a Promise is awaited, draining timers and
// async host calls until it settles.
func (v *VM) Evaluate(source string) (any, error) {
	return v.EvaluateScript(source)
}

// EvaluateScript is Evaluate for a dynamically typed source. Only string
// and []byte are accepted; anything else fails with ErrInvalidArgument.
func (v *VM) EvaluateScript(source any) (any, error) {
	if err := v.acquire(); err != nil {
		return nil, err
	}
	defer v.release()

	var src string
	switch s := source.(type) {
	case string:
		src = s
	case []byte:
		src = string(s)
	default:
		return nil, invalidArgument("source must be a string, got %T", source)
	}
	return v.run(src, "<code>")
}

// run evaluates source under the watchdog. The caller holds the VM.
func (v *VM) run(source, filename string) (any, error) {
	start := time.Now()
	v.handles.reset()
	webapi.TakeLastHostThrow(v.engine)

	ctx, cancel := context.WithCancel(context.Background())
	ev := &evaluation{ctx: ctx, cancel: cancel}
	v.evalCtx = ctx
	v.setCurrent(ev)
	v.state.Store(int32(StateRunning))
	v.logger.Debug("evaluation started", zap.String("source", filename))

	var watchdog *time.Timer
	if v.cfg.Timeout > 0 {
		watchdog = time.AfterFunc(v.cfg.Timeout, func() {
			v.interrupt(ev)
		})
	}

	value, err := v.settle(ev, source, filename)

	if watchdog != nil {
		watchdog.Stop()
	}
	v.setCurrent(nil)
	cancel()
	v.evalCtx = context.Background()

	if ev.interrupted() {
		// The request may have landed after the engine returned.
		v.engine.ClearInterrupt()
		v.loop.Reset()
		if rerr := webapi.ResetPending(v.engine); rerr != nil {
			v.logger.Debug("discarding pending callbacks", zap.Error(rerr))
		}
	}

	elapsed := time.Since(start)
	result, state := resultOK, StateCompleted
	switch {
	case errors.Is(err, ErrInterrupted):
		result, state = resultInterrupted, StateInterrupted
		v.logger.Warn("evaluation interrupted",
			zap.Duration("limit", v.cfg.Timeout),
			zap.Duration("elapsed", elapsed),
			zap.Bool("disposed", ev.aborted.Load()))
	case err != nil:
		result = resultError
	}
	v.state.Store(int32(state))
	v.metrics.evaluation(result, elapsed)
	v.logger.Debug("evaluation finished",
		zap.String("source", filename),
		zap.String("result", result),
		zap.Duration("duration", elapsed))
	return value, err
}

// settle starts the script and drives the event loop until its top level
// settles, then converts the outcome.
func (v *VM) settle(ev *evaluation, source, filename string) (any, error) {
	if err := v.engine.EvalTopLevel(source, filename, resultVar); err != nil {
		return nil, v.engineFailure(ev, err)
	}
	if err := v.engine.Eval(fmt.Sprintf("__jsvm_track(%q)", resultVar)); err != nil {
		return nil, v.engineFailure(ev, err)
	}

	var checkErr error
	err := v.loop.RunUntil(ev.ctx, v.engine, func() bool {
		done, err := v.engine.EvalBool("__jsvm_settled()")
		if err != nil {
			checkErr = err
			return true
		}
		return done
	})
	switch {
	case ev.interrupted():
		return nil, v.interruptError(ev)
	case checkErr != nil:
		return nil, v.engineFailure(ev, checkErr)
	case err == nil:
	case errors.Is(err, eventloop.ErrStalled):
		return nil, &Error{Kind: KindRuntime, Message: "evaluation stalled: the awaited Promise can never settle", Cause: err}
	default:
		return nil, fmt.Errorf("running event loop: %w", err)
	}

	raw, err := v.engine.EvalString("__jsvm_outcome()")
	if err != nil {
		return nil, v.engineFailure(ev, err)
	}
	out, err := v.dec.DecodeOutcome(raw)
	if err != nil {
		return nil, &Error{Kind: KindType, Message: err.Error(), Cause: err}
	}
	switch {
	case ev.interrupted():
		return nil, v.interruptError(ev)
	case out.Pending:
		return nil, &Error{Kind: KindRuntime, Message: "evaluation has not settled"}
	case out.NotAwaited:
		return nil, noAwaitError()
	case out.Threw && out.Error == nil:
		v.logUncaught("Uncaught '" + out.Display + "'")
		return nil, &Error{Kind: KindRuntime, Message: out.Display}
	case out.Threw:
		e := errorFromValue(out.Error)
		if e.Kind == KindInterrupted {
			return nil, e
		}
		v.logUncaught(uncaughtText(e))
		if herr := v.handles.get(out.Error.HostID); herr != nil {
			return nil, herr
		}
		return nil, e
	}
	return out.Value, nil
}

// engineFailure classifies an exception the engine reported as text:
// compile errors, and on V8 anything thrown before the first await.
func (v *VM) engineFailure(ev *evaluation, err error) error {
	if ev.interrupted() {
		return v.interruptError(ev)
	}
	var se *core.ScriptError
	if !errors.As(err, &se) {
		return fmt.Errorf("evaluating script: %w", err)
	}
	e := errorFromScript(se)
	if e.Kind == KindInterrupted {
		return e
	}
	v.logUncaught(uncaughtText(e))

	if id := webapi.TakeLastHostThrow(v.engine); id != 0 {
		if herr := v.handles.get(id); herr != nil && herr.Error() == se.Message {
			return herr
		}
	}
	return e
}

func (v *VM) interruptError(ev *evaluation) *Error {
	if ev.aborted.Load() && !ev.timedOut.Load() {
		return &Error{
			Kind:    KindInterrupted,
			Message: "Code evaluation is interrupted because the VM was disposed",
			Cause:   ErrDisposed,
		}
	}
	return interruptedError(v.cfg.Timeout)
}

func (v *VM) setCurrent(ev *evaluation) {
	v.abortMu.Lock()
	v.current = ev
	v.abortMu.Unlock()
}

// interrupt is the watchdog action. It does nothing once ev has ended.
func (v *VM) interrupt(ev *evaluation) {
	v.abortMu.Lock()
	defer v.abortMu.Unlock()
	if v.current != ev {
		return
	}
	ev.timedOut.Store(true)
	ev.cancel()
	v.engine.Interrupt()
	v.loop.Wake()
}

// abortCurrent interrupts the running evaluation, if any, on behalf of
// Dispose.
func (v *VM) abortCurrent() {
	v.abortMu.Lock()
	defer v.abortMu.Unlock()
	ev := v.current
	if ev == nil {
		return
	}
	ev.aborted.Store(true)
	ev.cancel()
	v.engine.Interrupt()
	v.loop.Wake()
}
