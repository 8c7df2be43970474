package webapi

import (
	"time"

	"github.com/cryguy/jsvm/internal/core"
	"github.com/cryguy/jsvm/internal/eventloop"
)

// timersJS builds the timer functions once and parks them in a hidden
// global; features then expose them where they belong.
const timersJS = `
(function() {
	if (globalThis.__jsvm_timers) return;
	var hide = function(name, value) {
		Object.defineProperty(globalThis, name, { value: value, writable: true, configurable: true, enumerable: false });
	};
	hide('__timerCallbacks', {});
	function delayOf(d) {
		d = Math.floor(Number(d) || 0);
		return d > 0 ? d : 0;
	}
	var timers = {
		setTimeout: function setTimeout(fn, delay) {
			if (arguments.length === 0 || typeof fn !== 'function') {
				return 0;
			}
			var args = [];
			for (var i = 2; i < arguments.length; i++) args.push(arguments[i]);
			var id = __timerRegister(delayOf(delay), false);
			globalThis.__timerCallbacks[id] = { fn: fn, args: args };
			return id;
		},
		setInterval: function setInterval(fn, interval) {
			if (arguments.length === 0 || typeof fn !== 'function') {
				return 0;
			}
			var args = [];
			for (var i = 2; i < arguments.length; i++) args.push(arguments[i]);
			var id = __timerRegister(delayOf(interval), true);
			globalThis.__timerCallbacks[id] = { fn: fn, args: args, interval: true };
			return id;
		},
		clearTimeout: function clearTimeout(id) {
			if (arguments.length === 0 || typeof id !== 'number') {
				return;
			}
			__timerClear(id);
			delete globalThis.__timerCallbacks[id];
		}
	};
	timers.clearInterval = timers.clearTimeout;
	hide('__jsvm_timers', timers);
})();
`

const globalTimersJS = `
(function() {
	var t = globalThis.__jsvm_timers;
	globalThis.setTimeout = t.setTimeout;
	globalThis.setInterval = t.setInterval;
	globalThis.clearTimeout = t.clearTimeout;
	globalThis.clearInterval = t.clearInterval;
})();
`

func setupTimerCore(rt core.JSRuntime, el *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__timerRegister", func(delayMs int, isInterval bool) int {
		delay := time.Duration(delayMs) * time.Millisecond
		return el.RegisterTimer(delay, isInterval)
	}); err != nil {
		return err
	}

	if err := rt.RegisterFunc("__timerClear", func(id int) {
		el.ClearTimer(id)
	}); err != nil {
		return err
	}

	return rt.Eval(timersJS)
}

// SetupTimers registers Go-backed setTimeout/setInterval/clearTimeout/clearInterval
// as globals.
func SetupTimers(rt core.JSRuntime, el *eventloop.EventLoop) error {
	if err := setupTimerCore(rt, el); err != nil {
		return err
	}
	return rt.Eval(globalTimersJS)
}

// ResetPending forgets every timer callback and unsettled host call on the
// script side. The event loop must be reset alongside.
func ResetPending(rt core.JSRuntime) error {
	return rt.Eval(`(function() {
		if (globalThis.__timerCallbacks) {
			for (var k in globalThis.__timerCallbacks) delete globalThis.__timerCallbacks[k];
		}
		if (globalThis.__jsvm_dropCalls) globalThis.__jsvm_dropCalls();
	})()`)
}
