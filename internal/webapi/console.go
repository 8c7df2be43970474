package webapi

import (
	"github.com/cryguy/jsvm/internal/core"
)

// LogSink receives one console call: the severity name, the display
// string and the console-mode wire encoding of the argument list.
type LogSink func(level, display, raw string)

const consoleJS = `
(function() {
	var levels = { log: 'info', info: 'info', debug: 'verbose', warn: 'warning', error: 'error' };
	function display(arg) {
		try {
			return String(arg);
		} catch (e) {
			return Object.prototype.toString.call(arg);
		}
	}
	var con = {};
	Object.keys(levels).forEach(function(method) {
		var fn = function() {
			var parts = [];
			var raw = [];
			for (var i = 0; i < arguments.length; i++) {
				parts.push(display(arguments[i]));
				raw.push(arguments[i]);
			}
			var encoded;
			try {
				encoded = __jsvm_encode(raw, 'console');
			} catch (e) {
				encoded = JSON.stringify(parts);
			}
			__jsvm_console(levels[method], parts.join(' '), encoded);
		};
		Object.defineProperty(fn, 'name', { value: method });
		Object.defineProperty(fn, 'toString', {
			value: function() { return 'function ' + method + '() {\n    [native code]\n}'; }
		});
		con[method] = fn;
	});
	Object.defineProperty(globalThis, 'console', { value: con, writable: true, configurable: true, enumerable: false });
})();
`

// SetupConsole replaces globalThis.console with a Go-backed version that
// hands every call to sink.
func SetupConsole(rt core.JSRuntime, sink LogSink) error {
	if err := rt.RegisterFunc("__jsvm_console", func(level, display, raw string) {
		sink(level, display, raw)
	}); err != nil {
		return err
	}
	if err := rt.Eval(consoleJS); err != nil {
		return err
	}
	return rt.Eval(consoleExtJS)
}

// consoleExtJS adds extended console methods (time, count, assert, table, etc.)
const consoleExtJS = `
(function() {
var __timers = {};
var __counters = {};
var __groupDepth = 0;

function indent(s) {
	var pad = '';
	for (var i = 0; i < __groupDepth; i++) pad += '  ';
	return pad + s;
}

console.time = function(label) {
	__timers[label || 'default'] = Date.now();
};
console.timeEnd = function(label) {
	var l = label || 'default';
	var start = __timers[l];
	if (start === undefined) { console.warn('Timer "' + l + '" does not exist'); return; }
	var elapsed = Date.now() - start;
	delete __timers[l];
	console.log(indent(l + ': ' + elapsed + 'ms'));
};
console.timeLog = function(label) {
	var l = label || 'default';
	var start = __timers[l];
	if (start === undefined) { console.warn('Timer "' + l + '" does not exist'); return; }
	var elapsed = Date.now() - start;
	var args = Array.prototype.slice.call(arguments, 1);
	if (args.length > 0) {
		console.log(indent(l + ': ' + elapsed + 'ms'), args.join(' '));
	} else {
		console.log(indent(l + ': ' + elapsed + 'ms'));
	}
};
console.count = function(label) {
	var l = label || 'default';
	__counters[l] = (__counters[l] || 0) + 1;
	console.info(indent(l + ': ' + __counters[l]));
};
console.countReset = function(label) {
	__counters[label || 'default'] = 0;
};
console.assert = function(cond) {
	if (!cond) {
		var args = Array.prototype.slice.call(arguments, 1);
		if (args.length > 0) {
			console.error('Assertion failed:', args.join(' '));
		} else {
			console.error('Assertion failed');
		}
	}
};
console.table = function(data) {
	console.log(JSON.stringify(data, null, 2));
};
console.trace = function() {
	var args = Array.prototype.slice.call(arguments);
	var stack = (new Error().stack || '').split('\n').slice(1).join('\n');
	var head = args.length > 0 ? 'Trace: ' + args.join(' ') : 'Trace';
	console.debug(stack ? head + '\n' + stack : head);
};
console.group = function(label) {
	if (label) console.log(indent(String(label)));
	__groupDepth++;
};
console.groupEnd = function() {
	if (__groupDepth > 0) __groupDepth--;
};
console.dir = function(obj) {
	console.log(JSON.stringify(obj, null, 2));
};
})();
`
