package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/cryguy/jsvm/internal/core"
)

// ErrStalled is returned by RunUntil when the awaited condition can never
// become true: no microtasks, timers or host calls are left to run.
var ErrStalled = errors.New("event loop stalled")

// CallResult holds the pre-serialized outcome of an async host call.
// The calling goroutine encodes the value before sending, so the event
// loop only passes strings to JS.
type CallResult struct {
	Payload string // encoded value, or the encoded error when Err is set
	Err     error
}

// PendingCall represents an in-flight async host call whose result will
// be delivered to JS via the event loop.
type PendingCall struct {
	ResultCh <-chan CallResult
	CallID   int
}

// timerEntry represents a pending setTimeout or setInterval callback.
// The actual callback is stored in globalThis.__timerCallbacks[id] on the
// JS side. Go only tracks scheduling metadata.
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for setTimeout, >0 for setInterval
	id       int
	cleared  bool
}

// EventLoop manages Go-backed timers for setTimeout/setInterval and
// pending async host calls that need to be settled on the JS thread.
type EventLoop struct {
	mu           sync.Mutex
	timers       map[int]*timerEntry
	nextID       int
	nextCallID   int
	pendingCalls []*PendingCall
	wake         chan struct{}
	onUncaught   func(thrown string)
}

// New creates a new EventLoop.
func New() *EventLoop {
	return &EventLoop{
		timers: make(map[int]*timerEntry),
		wake:   make(chan struct{}, 1),
	}
}

// OnUncaught sets the handler for exceptions a timer callback lets
// escape. It receives the thrown value as encoded by __jsvm_describeThrow.
func (el *EventLoop) OnUncaught(fn func(thrown string)) {
	el.mu.Lock()
	el.onUncaught = fn
	el.mu.Unlock()
}

// RegisterTimer creates a timer entry and returns its ID.
// The actual JS callback is stored in globalThis.__timerCallbacks[id].
func (el *EventLoop) RegisterTimer(delay time.Duration, isInterval bool) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	if delay < 0 {
		delay = 0
	}
	el.nextID++
	id := el.nextID
	entry := &timerEntry{
		deadline: time.Now().Add(delay),
		id:       id,
	}
	if isInterval {
		if delay < 10*time.Millisecond {
			delay = 10 * time.Millisecond // minimum interval
		}
		entry.interval = delay
	}
	el.timers[id] = entry
	return id
}

// ClearTimer cancels a timer by ID.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.timers[id]; ok {
		t.cleared = true
		delete(el.timers, id)
	}
}

// NextCallID reserves an ID for an async host call.
func (el *EventLoop) NextCallID() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.nextCallID++
	return el.nextCallID
}

// AddPendingCall registers an async host call whose result will be
// delivered to JS once it arrives on ResultCh.
func (el *EventLoop) AddPendingCall(pc *PendingCall) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.pendingCalls = append(el.pendingCalls, pc)
}

// Wake interrupts a RunUntil wait. Producers call it after sending on a
// PendingCall channel; it never blocks.
func (el *EventLoop) Wake() {
	select {
	case el.wake <- struct{}{}:
	default:
	}
}

// DrainPendingCalls does non-blocking reads on all pending call channels.
// For each completed call, it settles the JS promise via
// globalThis.__jsvm_settleCall and removes it from the list. Returns true if
// any call was completed.
func (el *EventLoop) DrainPendingCalls(rt core.JSRuntime) bool {
	el.mu.Lock()
	if len(el.pendingCalls) == 0 {
		el.mu.Unlock()
		return false
	}
	pending := el.pendingCalls
	el.pendingCalls = nil
	el.mu.Unlock()

	var remaining []*PendingCall
	didWork := false
	for _, pc := range pending {
		select {
		case result := <-pc.ResultCh:
			if result.Err != nil {
				payload := result.Payload
				if payload == "" {
					b, _ := sonic.MarshalString(map[string]any{"e": map[string]any{"message": result.Err.Error()}})
					payload = b
				}
				_ = rt.Eval(fmt.Sprintf(`globalThis.__jsvm_settleCall(%d, false, %q)`,
					pc.CallID, payload))
			} else {
				_ = rt.Eval(fmt.Sprintf(`globalThis.__jsvm_settleCall(%d, true, %q)`,
					pc.CallID, result.Payload))
			}
			rt.RunMicrotasks()
			didWork = true
		default:
			remaining = append(remaining, pc)
		}
	}

	el.mu.Lock()
	// Callbacks may have started new calls during settlement.
	el.pendingCalls = append(remaining, el.pendingCalls...)
	el.mu.Unlock()
	return didWork
}

// fireTimer fires a timer callback by invoking the JS-side callback map.
// An exception escaping the callback goes to the OnUncaught handler; an
// interrupt is uncatchable and leaves the loop through the context.
func (el *EventLoop) fireTimer(rt core.JSRuntime, id int) {
	js := fmt.Sprintf(`(function() {
		var entry = globalThis.__timerCallbacks[%d];
		if (!entry) return '';
		if (!entry.interval) delete globalThis.__timerCallbacks[%d];
		try {
			entry.fn.apply(null, entry.args || []);
		} catch (e) {
			return __jsvm_describeThrow(e);
		}
		return '';
	})()`, id, id)
	thrown, err := rt.EvalString(js)
	if err != nil || thrown == "" {
		return
	}
	el.mu.Lock()
	report := el.onUncaught
	el.mu.Unlock()
	if report != nil {
		report(thrown)
	}
}

// nextTimer returns the earliest live timer, or nil.
func (el *EventLoop) nextTimer() *timerEntry {
	el.mu.Lock()
	defer el.mu.Unlock()
	var next *timerEntry
	for _, t := range el.timers {
		if t.cleared {
			continue
		}
		if next == nil || t.deadline.Before(next.deadline) {
			next = t
		}
	}
	return next
}

// RunUntil pumps microtasks, settles async host calls and fires timers
// until done reports true. It returns ctx.Err() if ctx ends first and
// ErrStalled if nothing is left that could make done true.
// Must be called on the runtime's goroutine (JS engines are single-threaded).
func (el *EventLoop) RunUntil(ctx context.Context, rt core.JSRuntime, done func() bool) error {
	for {
		rt.RunMicrotasks()
		if done() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if el.DrainPendingCalls(rt) {
			continue
		}

		next := el.nextTimer()
		el.mu.Lock()
		hasCalls := len(el.pendingCalls) > 0
		el.mu.Unlock()

		if next == nil && !hasCalls {
			return ErrStalled
		}

		var timerC <-chan time.Time
		if next != nil {
			wait := time.Until(next.deadline)
			if wait > 0 {
				t := time.NewTimer(wait)
				timerC = t.C
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-el.wake:
					t.Stop()
					continue
				case <-timerC:
				}
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-el.wake:
				continue
			}
		}

		el.mu.Lock()
		if next.cleared {
			el.mu.Unlock()
			continue
		}
		timerID := next.id
		if next.interval > 0 {
			next.deadline = time.Now().Add(next.interval)
		} else {
			delete(el.timers, next.id)
		}
		el.mu.Unlock()

		el.fireTimer(rt, timerID)
	}
}

// HasPending returns true if there are any active timers or pending calls.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0 || len(el.pendingCalls) > 0
}

// Reset clears all timers and pending calls. Called after an evaluation
// ends so nothing from it survives into the next one.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = make(map[int]*timerEntry)
	el.pendingCalls = nil
	select {
	case <-el.wake:
	default:
	}
}
