package webapi

import (
	"fmt"

	"github.com/cryguy/jsvm/internal/core"
)

// base64JS implements atob and btoa over Latin-1 binary strings, following
// the forgiving-base64 rules of the HTML standard.
const base64JS = `
(function() {
	var ALPHABET = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var index = {};
	for (var i = 0; i < ALPHABET.length; i++) index[ALPHABET[i]] = i;

	function fail(message) {
		var e = new Error("Failed to execute '" + message);
		e.name = 'InvalidCharacterError';
		return e;
	}
	function requireArg(name, n) {
		if (n < 1) throw new TypeError("Failed to execute '" + name + "': 1 argument required, but only 0 present.");
	}

	function btoa(data) {
		requireArg('btoa', arguments.length);
		var s = String(data);
		var out = '';
		for (var i = 0; i < s.length; i += 3) {
			var n = 0;
			for (var j = 0; j < 3; j++) {
				var c = i + j < s.length ? s.charCodeAt(i + j) : 0;
				if (c > 0xff) throw fail("btoa': The string to be encoded contains characters outside of the Latin1 range.");
				n = (n << 8) | c;
			}
			var chars = Math.min(s.length - i, 3) + 1;
			for (var k = 0; k < 4; k++) {
				out += k < chars ? ALPHABET[(n >> (18 - 6 * k)) & 63] : '=';
			}
		}
		return out;
	}

	function atob(data) {
		requireArg('atob', arguments.length);
		var s = String(data).replace(/[\t\n\f\r ]/g, '');
		if (s.length % 4 === 0) s = s.replace(/==?$/, '');
		if (s.length % 4 === 1 || /[^A-Za-z0-9+\/]/.test(s)) {
			throw fail("atob': The string to be decoded is not correctly encoded.");
		}
		var out = '';
		var bits = 0, acc = 0;
		for (var i = 0; i < s.length; i++) {
			acc = (acc << 6) | index[s[i]];
			bits += 6;
			if (bits >= 8) {
				bits -= 8;
				out += String.fromCharCode((acc >> bits) & 0xff);
			}
		}
		return out;
	}

	Object.defineProperty(btoa, 'name', { value: 'btoa' });
	Object.defineProperty(atob, 'name', { value: 'atob' });
	globalThis.btoa = btoa;
	globalThis.atob = atob;
})();
`

// SetupBase64 installs the global atob and btoa.
func SetupBase64(rt core.JSRuntime) error {
	if err := rt.Eval(base64JS); err != nil {
		return fmt.Errorf("evaluating base64 polyfill: %w", err)
	}
	return nil
}
