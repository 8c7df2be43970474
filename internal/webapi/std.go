package webapi

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/cryguy/jsvm/internal/core"
	"github.com/cryguy/jsvm/internal/marshal"
)

const stdJS = `
(function() {
	var call = %s;

	function stripJSON(src) {
		var out = '';
		var i = 0;
		var n = src.length;
		while (i < n) {
			var c = src[i];
			if (c === '"' || c === "'") {
				var q = c, s = '"';
				i++;
				while (i < n && src[i] !== q) {
					if (src[i] === '\\') {
						s += src[i + 1] === "'" ? "'" : src[i] + src[i + 1];
						i += 2;
						continue;
					}
					s += (q === "'" && src[i] === '"') ? '\\"' : src[i];
					i++;
				}
				out += s + '"';
				i++;
			} else if (c === '/' && src[i + 1] === '/') {
				while (i < n && src[i] !== '\n') i++;
			} else if (c === '/' && src[i + 1] === '*') {
				i += 2;
				while (i < n && !(src[i] === '*' && src[i + 1] === '/')) i++;
				i += 2;
			} else if (c === ',') {
				var j = i + 1;
				while (j < n && /\s/.test(src[j])) j++;
				if (src[j] !== '}' && src[j] !== ']') out += c;
				i++;
			} else if (/[A-Za-z_$]/.test(c)) {
				var k = '';
				while (i < n && /[\w$]/.test(src[i])) k += src[i++];
				var p = i;
				while (p < n && /\s/.test(src[p])) p++;
				out += src[p] === ':' ? '"' + k + '"' : k;
			} else {
				out += c;
				i++;
			}
		}
		return out;
	}

	var std = {
		loadFile: function(path, options) {
			var r = call('loadFile', String(path), options || {});
			if (r && r.binary) return __jsvm_takeBinary();
			return r;
		},
		writeFile: function(path, data) {
			if (typeof data === 'string') {
				call('writeFile', String(path), data);
				return;
			}
			__jsvm_stashBinary(data);
			call('writeFileBinary', String(path));
		},
		exists: function(path) { return call('exists', String(path)); },
		fileType: function(path) { return call('fileType', String(path)); },
		getenv: function(name) {
			var v = call('getenv', String(name));
			return v === null ? undefined : v;
		},
		setenv: function(name, value) { call('setenv', String(name), String(value)); },
		unsetenv: function(name) { call('unsetenv', String(name)); },
		getenviron: function() { return call('getenviron'); },
		urlGet: function(url, options) {
			var r = call('urlGet', String(url), options || {});
			if (r && r.binary) {
				var body = r.ok ? __jsvm_takeBinary() : null;
				if (!r.full) return body;
				return { response: body, responseHeaders: r.responseHeaders, status: r.status };
			}
			return r;
		},
		parseExtJSON: function(str) { return JSON.parse(stripJSON(String(str))); },
		strerror: function(errno) { return call('strerror', Number(errno)); },
		evalScript: function(src) { return (0, eval)(String(src)); },
		SEEK_SET: 0,
		SEEK_CUR: 1,
		SEEK_END: 2
	};
	Object.defineProperty(globalThis, 'std', { value: std, writable: true, configurable: true, enumerable: false });
})();
`

// SetupStd installs the std namespace.
func SetupStd(rt core.JSRuntime, h *Host) error {
	bt, err := setupBinary(rt)
	if err != nil {
		return err
	}
	s := &stdNamespace{h: h, bt: bt}
	if err := registerNamespace(rt, "__jsvm_std", s.ops()); err != nil {
		return err
	}
	return rt.Eval(fmt.Sprintf(stdJS, fmt.Sprintf(namespaceCallJS, "__jsvm_std")))
}

type stdNamespace struct {
	h  *Host
	bt core.BinaryTransferer
}

func (s *stdNamespace) ops() map[string]nsOp {
	return map[string]nsOp{
		"loadFile":        s.loadFile,
		"writeFile":       s.writeFile,
		"writeFileBinary": s.writeFileBinary,
		"exists":          s.exists,
		"fileType":        s.fileType,
		"getenv":          s.getenv,
		"setenv":          s.setenv,
		"unsetenv":        s.unsetenv,
		"getenviron":      s.getenviron,
		"urlGet":          s.urlGet,
		"strerror":        s.strerror,
	}
}

func (s *stdNamespace) sendBinary(data []byte) error {
	if s.bt == nil {
		return fmt.Errorf("binary transfer unavailable")
	}
	return s.bt.WriteBinaryToJS("__jsvm_bin_out", data)
}

func (s *stdNamespace) loadFile(args []any) (any, error) {
	path, _ := argString(args, 0)
	data, err := os.ReadFile(s.h.resolve(path))
	if err != nil {
		return nil, nil
	}
	if optBool(argObject(args, 1), "binary") {
		if err := s.sendBinary(data); err != nil {
			return nil, err
		}
		return map[string]any{"binary": true}, nil
	}
	return string(data), nil
}

func (s *stdNamespace) writeFile(args []any) (any, error) {
	path, _ := argString(args, 0)
	data, _ := argString(args, 1)
	if err := os.WriteFile(s.h.resolve(path), []byte(data), 0o644); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *stdNamespace) writeFileBinary(args []any) (any, error) {
	if s.bt == nil {
		return nil, fmt.Errorf("binary transfer unavailable")
	}
	data, err := s.bt.ReadBinaryFromJS("__jsvm_bin_in")
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	if err := os.WriteFile(s.h.resolve(path), data, 0o644); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *stdNamespace) exists(args []any) (any, error) {
	path, _ := argString(args, 0)
	_, err := os.Stat(s.h.resolve(path))
	return err == nil, nil
}

func (s *stdNamespace) fileType(args []any) (any, error) {
	path, _ := argString(args, 0)
	full := s.h.resolve(path)
	f, err := os.Open(full)
	if err != nil {
		return nil, nil
	}
	defer f.Close()
	head := make([]byte, 3072)
	n, _ := io.ReadFull(f, head)
	return marshal.DetectMIME(head[:n], full), nil
}

func (s *stdNamespace) getenv(args []any) (any, error) {
	name, _ := argString(args, 0)
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (s *stdNamespace) setenv(args []any) (any, error) {
	name, _ := argString(args, 0)
	value, _ := argString(args, 1)
	return nil, os.Setenv(name, value)
}

func (s *stdNamespace) unsetenv(args []any) (any, error) {
	name, _ := argString(args, 0)
	return nil, os.Unsetenv(name)
}

func (s *stdNamespace) getenviron(_ []any) (any, error) {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	return env, nil
}

func (s *stdNamespace) strerror(args []any) (any, error) {
	n, _ := argNumber(args, 0)
	if n < 0 {
		n = -n
	}
	return syscall.Errno(n).Error(), nil
}

// urlGet performs a blocking GET. Without full it returns the body or
// null on failure, matching the qjs std module.
func (s *stdNamespace) urlGet(args []any) (any, error) {
	url, _ := argString(args, 0)
	opts := argObject(args, 1)
	binary, full := optBool(opts, "binary"), optBool(opts, "full")

	body, headers, status, err := fetchURL(s.h, url, binary)
	if err != nil {
		s.h.Logger.Debug("std.urlGet failed", zap.String("url", url), zap.Error(err))
	}

	if binary {
		out := map[string]any{"binary": true, "full": full, "ok": err == nil, "status": status, "responseHeaders": headers}
		if err == nil {
			if err := s.sendBinary(body); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	var text any
	if err == nil {
		text = string(body)
	}
	if !full {
		return text, nil
	}
	return map[string]any{"response": text, "responseHeaders": headers, "status": status}, nil
}

func fetchURL(h *Host, url string, binary bool) ([]byte, string, int, error) {
	resp, err := h.HTTP.R().
		SetContext(h.ctx()).
		SetDoNotParseResponse(true).
		SetHeader("Accept-Encoding", "br, gzip, deflate, zstd").
		Get(url)
	if err != nil {
		return nil, "", 0, err
	}
	raw := resp.RawBody()
	defer raw.Close()

	body, err := decodeBody(raw, resp.Header().Get("Content-Encoding"))
	if err != nil {
		return nil, "", resp.StatusCode(), fmt.Errorf("decoding body: %w", err)
	}
	if !binary {
		body = toUTF8(body, resp.Header().Get("Content-Type"))
	}
	return body, formatHeaders(resp.Header()), resp.StatusCode(), nil
}

// decodeBody undoes a Content-Encoding.
func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.ReadAll(r)
	case "br":
		return io.ReadAll(brotli.NewReader(r))
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "deflate":
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			return io.ReadAll(zr)
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		return io.ReadAll(fr)
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return nil, fmt.Errorf("unsupported content encoding %q", encoding)
}

// toUTF8 converts a text body to UTF-8 using the declared charset, or a
// detected one when nothing is declared.
func toUTF8(body []byte, contentType string) []byte {
	if utf8.Valid(body) {
		return body
	}
	_, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain {
		if res, err := chardet.NewTextDetector().DetectBest(body); err == nil && res.Confidence >= 50 {
			name = res.Charset
		}
	}
	enc, _ := charset.Lookup(name)
	if enc == nil {
		return body
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return out
}

func formatHeaders(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		for _, v := range h[k] {
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(v)
			sb.WriteString("\r\n")
		}
	}
	return sb.String()
}
