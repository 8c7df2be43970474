package webapi

import (
	"fmt"

	"github.com/cryguy/jsvm/internal/core"
)

// Dispatcher runs the host function registered as name. args is the
// wire-encoded argument array. The returned envelope is one of
// {"ok":<wire>}, {"err":{"message":..,"h":..}} or {"pending":<call id>}.
type Dispatcher func(name, args string) string

const bridgeJS = `
(function() {
	var calls = {};
	var hide = function(name, value) {
		Object.defineProperty(globalThis, name, { value: value, writable: true, configurable: true, enumerable: false });
	};

	hide('__jsvm_define', function(name) {
		var fn = function() {
			var args = Array.prototype.slice.call(arguments);
			var r = JSON.parse(__jsvm_hostcall(name, __jsvm_encode(args)));
			if (r.err) {
				globalThis.__jsvm_lastHostThrow = r.err.h;
				throw __jsvm_hostError(r.err.message, r.err.h);
			}
			if (r.pending !== undefined) {
				return new Promise(function(resolve, reject) {
					calls[r.pending] = { resolve: resolve, reject: reject };
				});
			}
			return __jsvm_fromWire(r.ok);
		};
		Object.defineProperty(fn, 'name', { value: name });
		Object.defineProperty(fn, 'toString', {
			value: function() { return 'function ' + name + '() {\n    [native code]\n}'; }
		});
		globalThis[name] = fn;
	});

	hide('__jsvm_settleCall', function(id, ok, payload) {
		var c = calls[id];
		if (!c) return;
		delete calls[id];
		if (ok) {
			c.resolve(__jsvm_decode(payload));
		} else {
			c.reject(__jsvm_decode(payload));
		}
	});

	hide('__jsvm_dropCalls', function() {
		calls = {};
	});

	hide('__jsvm_lastHostThrow', 0);
})();
`

// SetupBridge installs the single Go entry point every host function is
// called through, plus the script-side helpers that wrap it.
func SetupBridge(rt core.JSRuntime, dispatch Dispatcher) error {
	if err := rt.RegisterFunc("__jsvm_hostcall", func(name, args string) string {
		return dispatch(name, args)
	}); err != nil {
		return err
	}
	return rt.Eval(bridgeJS)
}

// DefineFunction binds globalThis[name] to a wrapper that dispatches to
// the host function of that name. Redefining a name replaces it.
func DefineFunction(rt core.JSRuntime, name string) error {
	if err := rt.Eval(fmt.Sprintf("__jsvm_define(%q)", name)); err != nil {
		return fmt.Errorf("defining %s: %w", name, err)
	}
	return nil
}

// TakeLastHostThrow returns and clears the id of the last host error
// thrown into the script.
func TakeLastHostThrow(rt core.JSRuntime) int64 {
	n, err := rt.EvalInt(`(function() { var h = globalThis.__jsvm_lastHostThrow || 0; globalThis.__jsvm_lastHostThrow = 0; return h; })()`)
	if err != nil {
		return 0
	}
	return int64(n)
}
