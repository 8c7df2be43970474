package marshal

import "github.com/cryguy/jsvm/internal/core"

// codecJS installs the script half of the wire codec. It must run before
// any other setup script.
const codecJS = `
(function() {
	var hide = function(name, value) {
		Object.defineProperty(globalThis, name, { value: value, writable: true, configurable: true, enumerable: false });
	};

	function errorInfo(e) {
		var info = { name: '', ctor: '', message: '', stack: '', h: 0 };
		try { info.name = String(e.name); } catch (_) {}
		try { if (e.constructor && e.constructor.name) info.ctor = String(e.constructor.name); } catch (_) {}
		try { if (e.message !== undefined) info.message = String(e.message); } catch (_) {}
		try { if (e.stack !== undefined) info.stack = String(e.stack); } catch (_) {}
		if (typeof e.__jsvm_host_error === 'number') info.h = e.__jsvm_host_error;
		return info;
	}

	function flatError(e) {
		var i = errorInfo(e);
		return i.name + ': ' + i.message + '\n' + i.stack;
	}

	function enc(v, path, mode) {
		switch (typeof v) {
		case 'undefined':
		case 'function':
		case 'symbol':
			return { u: 1 };
		case 'boolean':
		case 'string':
			return v;
		case 'number':
			if (v !== v) return { n: 'NaN' };
			if (v === Infinity) return { n: 'Infinity' };
			if (v === -Infinity) return { n: '-Infinity' };
			return v;
		case 'bigint':
			return { b: v.toString() };
		}
		if (v === null) return null;
		if (path.indexOf(v) !== -1) return { u: 1 };
		if (v instanceof Error) return mode === 'console' ? flatError(v) : { e: errorInfo(v) };
		if (v instanceof Promise) return mode === 'console' ? 'Promise' : { p: 1 };
		if (typeof v.toJSON === 'function') {
			var j = v.toJSON();
			if (j !== v) return enc(j, path, mode);
		}
		path.push(v);
		try {
			if (Array.isArray(v)) {
				var a = new Array(v.length);
				for (var i = 0; i < v.length; i++) {
					var t = typeof v[i];
					a[i] = (t === 'function' || t === 'symbol') ? null : enc(v[i], path, mode);
				}
				return a;
			}
			var o = Object.create(null);
			var keys = Object.keys(v);
			for (var k = 0; k < keys.length; k++) {
				var val = v[keys[k]];
				var tv = typeof val;
				if (tv === 'function' || tv === 'symbol') continue;
				o[keys[k]] = enc(val, path, mode);
			}
			return { o: o };
		} finally {
			path.pop();
		}
	}

	function b64bytes(s) {
		var chars = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
		var map = {};
		for (var i = 0; i < chars.length; i++) map[chars.charAt(i)] = i;
		s = s.replace(/=+$/, '');
		var out = new Uint8Array(Math.floor(s.length * 3 / 4));
		var bits = 0, acc = 0, n = 0;
		for (var j = 0; j < s.length; j++) {
			acc = (acc << 6) | map[s.charAt(j)];
			bits += 6;
			if (bits >= 8) {
				bits -= 8;
				out[n++] = (acc >> bits) & 0xff;
			}
		}
		return out;
	}

	function hostError(message, id) {
		var e = new Error(message);
		if (id) Object.defineProperty(e, '__jsvm_host_error', { value: id, enumerable: false });
		return e;
	}

	function dec(w) {
		if (w === null || typeof w !== 'object') return w;
		if (Array.isArray(w)) return w.map(dec);
		if ('o' in w) {
			var o = {};
			for (var k in w.o) {
				Object.defineProperty(o, k, { value: dec(w.o[k]), writable: true, enumerable: true, configurable: true });
			}
			return o;
		}
		if ('u' in w) return undefined;
		if ('n' in w) return Number(w.n);
		if ('b' in w) return BigInt(w.b);
		if ('e' in w) return hostError(w.e.message, w.e.h);
		if ('f' in w) {
			if (typeof File !== 'function') return w.f.name;
			return new File([b64bytes(w.f.data)], w.f.name, { type: w.f.type, lastModified: w.f.lastModified });
		}
		return undefined;
	}

	hide('__jsvm_hostError', hostError);
	hide('__jsvm_fromWire', dec);
	hide('__jsvm_encode', function(v, mode) { return JSON.stringify(enc(v, [], mode || '')); });
	hide('__jsvm_decode', function(s) { return dec(JSON.parse(s)); });
	hide('__jsvm_describeThrow', function(r) {
		if (r instanceof Error) return JSON.stringify({ e: errorInfo(r) });
		var d;
		try { d = String(r); } catch (_) { d = Object.prototype.toString.call(r); }
		return JSON.stringify({ t: d });
	});

	// Completion tracking for the top-level script. The engine stores a
	// Promise resolving to {value} in the named global.
	hide('__jsvm_track', function(name) {
		var st = { state: 'pending', value: undefined };
		hide('__jsvm_top', st);
		var p = globalThis[name];
		delete globalThis[name];
		Promise.resolve(p).then(function(r) {
			st.state = 'fulfilled';
			st.value = (r !== null && typeof r === 'object' && 'value' in r) ? r.value : r;
		}, function(e) {
			st.state = 'rejected';
			st.value = e;
		});
	});
	hide('__jsvm_settled', function() {
		return globalThis.__jsvm_top === undefined || globalThis.__jsvm_top.state !== 'pending';
	});
	hide('__jsvm_outcome', function() {
		var st = globalThis.__jsvm_top;
		globalThis.__jsvm_top = undefined;
		if (!st) return '{"x":{"t":"evaluation state lost"}}';
		if (st.state === 'pending') return '{"pending":1}';
		if (st.state === 'rejected') return '{"x":' + __jsvm_describeThrow(st.value) + '}';
		if (st.value instanceof Promise) return '{"np":1}';
		return '{"ok":' + __jsvm_encode(st.value) + '}';
	});
})();
`

// Setup installs the script codec and completion tracking helpers.
func Setup(rt core.JSRuntime) error {
	return rt.Eval(codecJS)
}
