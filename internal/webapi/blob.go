package webapi

import (
	"fmt"

	"github.com/cryguy/jsvm/internal/core"
)

// blobJS implements Blob, File and FileReader as pure JS polyfills. Bytes
// are held in a Uint8Array so binary parts survive slicing.
const blobJS = `
(function() {

function encodeUTF8(str) {
	var out = [];
	for (var i = 0; i < str.length; i++) {
		var code = str.charCodeAt(i);
		if (code >= 0xd800 && code <= 0xdbff && i + 1 < str.length) {
			var next = str.charCodeAt(i + 1);
			if (next >= 0xdc00 && next <= 0xdfff) {
				code = (code - 0xd800) * 0x400 + (next - 0xdc00) + 0x10000;
				i++;
			}
		}
		if (code <= 0x7f) {
			out.push(code);
		} else if (code <= 0x7ff) {
			out.push(0xc0 | (code >> 6), 0x80 | (code & 0x3f));
		} else if (code <= 0xffff) {
			out.push(0xe0 | (code >> 12), 0x80 | ((code >> 6) & 0x3f), 0x80 | (code & 0x3f));
		} else {
			out.push(0xf0 | (code >> 18), 0x80 | ((code >> 12) & 0x3f), 0x80 | ((code >> 6) & 0x3f), 0x80 | (code & 0x3f));
		}
	}
	return new Uint8Array(out);
}

function decodeUTF8(bytes) {
	var s = '';
	var i = 0;
	while (i < bytes.length) {
		var b = bytes[i], code;
		if (b <= 0x7f) {
			code = b;
			i++;
		} else if ((b & 0xe0) === 0xc0) {
			code = ((b & 0x1f) << 6) | (bytes[i + 1] & 0x3f);
			i += 2;
		} else if ((b & 0xf0) === 0xe0) {
			code = ((b & 0x0f) << 12) | ((bytes[i + 1] & 0x3f) << 6) | (bytes[i + 2] & 0x3f);
			i += 3;
		} else {
			code = ((b & 0x07) << 18) | ((bytes[i + 1] & 0x3f) << 12) | ((bytes[i + 2] & 0x3f) << 6) | (bytes[i + 3] & 0x3f);
			i += 4;
		}
		if (code <= 0xffff) {
			s += String.fromCharCode(code);
		} else {
			code -= 0x10000;
			s += String.fromCharCode(0xd800 + (code >> 10), 0xdc00 + (code & 0x3ff));
		}
	}
	return s;
}

var B64 = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';

function encodeBase64(bytes) {
	var out = '';
	for (var i = 0; i < bytes.length; i += 3) {
		var a = bytes[i];
		var b = i + 1 < bytes.length ? bytes[i + 1] : 0;
		var c = i + 2 < bytes.length ? bytes[i + 2] : 0;
		out += B64[a >> 2] + B64[((a & 3) << 4) | (b >> 4)];
		out += i + 1 < bytes.length ? B64[((b & 15) << 2) | (c >> 6)] : '=';
		out += i + 2 < bytes.length ? B64[c & 63] : '=';
	}
	return out;
}

function normalizeType(t) {
	t = String(t);
	return /^[\x20-\x7e]*$/.test(t) ? t.toLowerCase() : '';
}

function clampIndex(index, size) {
	index = Math.trunc(Number(index)) || 0;
	if (index < 0) return Math.max(size + index, 0);
	return Math.min(index, size);
}

var bytesOf = new WeakMap();

// --- Blob ---

class Blob {
	constructor(parts, options) {
		this._type = normalizeType((options && options.type) || '');
		if (parts === undefined || parts === null) {
			bytesOf.set(this, new Uint8Array(0));
			return;
		}
		if (typeof parts !== 'object' || typeof parts[Symbol.iterator] !== 'function') {
			throw new TypeError("Failed to construct 'Blob': The provided value cannot be converted to a sequence.");
		}
		var chunks = [];
		var total = 0;
		for (var part of parts) {
			var b;
			if (part instanceof Blob) {
				b = bytesOf.get(part);
			} else if (part instanceof ArrayBuffer) {
				b = new Uint8Array(part);
			} else if (ArrayBuffer.isView(part)) {
				b = new Uint8Array(part.buffer, part.byteOffset, part.byteLength);
			} else {
				b = encodeUTF8(String(part));
			}
			chunks.push(b);
			total += b.byteLength;
		}
		var merged = new Uint8Array(total);
		var off = 0;
		for (var i = 0; i < chunks.length; i++) {
			merged.set(chunks[i], off);
			off += chunks[i].byteLength;
		}
		bytesOf.set(this, merged);
	}

	get size() {
		return bytesOf.get(this).byteLength;
	}

	get type() {
		return this._type;
	}

	slice(start, end, contentType) {
		var size = this.size;
		var s = start === undefined ? 0 : clampIndex(start, size);
		var e = end === undefined ? size : clampIndex(end, size);
		var sliced = new Blob([], { type: contentType === undefined ? '' : contentType });
		bytesOf.set(sliced, bytesOf.get(this).slice(s, Math.max(e, s)));
		return sliced;
	}

	text() {
		return Promise.resolve(decodeUTF8(bytesOf.get(this)));
	}

	arrayBuffer() {
		return Promise.resolve(bytesOf.get(this).slice().buffer);
	}

	bytes() {
		return Promise.resolve(bytesOf.get(this).slice());
	}

	toString() { return '[object Blob]'; }

	get [Symbol.toStringTag]() { return 'Blob'; }
}

// --- File ---

class File extends Blob {
	constructor(parts, name, options) {
		if (arguments.length < 2) {
			throw new TypeError("Failed to construct 'File': 2 arguments required, but only " + arguments.length + " present.");
		}
		super(parts, options);
		this._name = String(name);
		this._lastModified = options && options.lastModified !== undefined ? Number(options.lastModified) : Date.now();
		this.webkitRelativePath = '';
	}

	get name() { return this._name; }

	get lastModified() { return this._lastModified; }

	toString() { return '[object File]'; }

	get [Symbol.toStringTag]() { return 'File'; }
}

// --- FileReader ---

var EVENTS = ['loadstart', 'progress', 'load', 'abort', 'error', 'loadend'];

class FileReader {
	constructor() {
		this.readyState = FileReader.EMPTY;
		this.result = null;
		this.error = null;
		this._listeners = {};
		this._aborted = false;
		for (var i = 0; i < EVENTS.length; i++) this['on' + EVENTS[i]] = null;
	}

	addEventListener(type, fn) {
		(this._listeners[type] = this._listeners[type] || []).push(fn);
	}

	removeEventListener(type, fn) {
		var list = this._listeners[type];
		if (!list) return;
		var i = list.indexOf(fn);
		if (i !== -1) list.splice(i, 1);
	}

	_dispatch(type) {
		var size = this._size || 0;
		var ev = { type: type, target: this, lengthComputable: true, loaded: size, total: size };
		if (typeof this['on' + type] === 'function') this['on' + type].call(this, ev);
		var list = (this._listeners[type] || []).slice();
		for (var i = 0; i < list.length; i++) list[i].call(this, ev);
	}

	_read(blob, produce) {
		if (!(blob instanceof Blob)) {
			throw new TypeError("Failed to execute on 'FileReader': parameter 1 is not of type 'Blob'.");
		}
		if (this.readyState === FileReader.LOADING) {
			var busy = new Error("Failed to execute on 'FileReader': The object is already busy reading Blobs.");
			busy.name = 'InvalidStateError';
			throw busy;
		}
		var self = this;
		var bytes = bytesOf.get(blob);
		this.readyState = FileReader.LOADING;
		this.result = null;
		this.error = null;
		this._aborted = false;
		this._size = bytes.byteLength;
		Promise.resolve().then(function() {
			if (self._aborted) return;
			self._dispatch('loadstart');
			try {
				self.result = produce(bytes);
				self.readyState = FileReader.DONE;
				if (!self._aborted) {
					self._dispatch('progress');
					self._dispatch('load');
				}
			} catch (e) {
				self.readyState = FileReader.DONE;
				self.error = e;
				if (!self._aborted) self._dispatch('error');
			}
			if (!self._aborted) self._dispatch('loadend');
		});
	}

	readAsText(blob) {
		this._read(blob, decodeUTF8);
	}

	readAsArrayBuffer(blob) {
		this._read(blob, function(b) { return b.slice().buffer; });
	}

	readAsDataURL(blob) {
		var type = blob && blob.type ? blob.type : 'application/octet-stream';
		this._read(blob, function(b) { return 'data:' + type + ';base64,' + encodeBase64(b); });
	}

	readAsBinaryString(blob) {
		this._read(blob, function(b) {
			var s = '';
			for (var i = 0; i < b.length; i += 4096) {
				s += String.fromCharCode.apply(null, b.subarray(i, Math.min(i + 4096, b.length)));
			}
			return s;
		});
	}

	abort() {
		if (this.readyState !== FileReader.LOADING) {
			this.result = null;
			return;
		}
		var self = this;
		this._aborted = true;
		this.readyState = FileReader.DONE;
		this.result = null;
		Promise.resolve().then(function() {
			self._dispatch('abort');
			self._dispatch('loadend');
		});
	}

	toString() { return '[object FileReader]'; }

	get [Symbol.toStringTag]() { return 'FileReader'; }
}

FileReader.EMPTY = 0;
FileReader.LOADING = 1;
FileReader.DONE = 2;

globalThis.Blob = Blob;
globalThis.File = File;
globalThis.FileReader = FileReader;

})();
`

// SetupBlob evaluates the Blob, File and FileReader polyfills.
func SetupBlob(rt core.JSRuntime) error {
	if err := rt.Eval(blobJS); err != nil {
		return fmt.Errorf("evaluating blob.js: %w", err)
	}
	return nil
}
