package webapi

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/cryguy/jsvm/internal/core"
)

// Host carries the per-VM state shared by the Go-backed std and os
// namespaces.
type Host struct {
	// Context returns the context of the evaluation currently running.
	Context func() context.Context
	HTTP    *resty.Client
	Logger  *zap.Logger

	mu    sync.Mutex
	cwd   string
	start time.Time
}

// NewHost returns a Host rooted at workDir.
func NewHost(workDir string, httpTimeout time.Duration, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		Context: context.Background,
		HTTP:    resty.New().SetTimeout(httpTimeout),
		Logger:  logger,
		cwd:     workDir,
		start:   time.Now(),
	}
}

func (h *Host) ctx() context.Context {
	if h.Context == nil {
		return context.Background()
	}
	if ctx := h.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Cwd returns the VM-local working directory.
func (h *Host) Cwd() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cwd
}

func (h *Host) setCwd(dir string) {
	h.mu.Lock()
	h.cwd = dir
	h.mu.Unlock()
}

// resolve makes p absolute against the VM-local working directory.
func (h *Host) resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(h.Cwd(), p)
}

// nsOp handles one namespace call. args are the JSON-decoded arguments.
type nsOp func(args []any) (any, error)

// scriptError is returned by an op to throw a specific constructor.
type scriptError struct {
	ctor string
	msg  string
}

func (e *scriptError) Error() string { return e.ctor + ": " + e.msg }

func typeErr(format string, args ...any) error {
	return &scriptError{ctor: "TypeError", msg: fmt.Sprintf(format, args...)}
}

// registerNamespace exposes ops to script through a single Go function,
// fn(op, argsJSON), that returns {"ok":...} or {"err":ctor,"msg":...}.
func registerNamespace(rt core.JSRuntime, fn string, ops map[string]nsOp) error {
	return rt.RegisterFunc(fn, func(op, args string) string {
		h, ok := ops[op]
		if !ok {
			return errEnvelope(typeErr("unknown operation %s", op))
		}
		var list []any
		if args != "" {
			if err := sonic.UnmarshalString(args, &list); err != nil {
				return errEnvelope(typeErr("invalid arguments: %v", err))
			}
		}
		out, err := h(list)
		if err != nil {
			return errEnvelope(err)
		}
		s, err := sonic.MarshalString(map[string]any{"ok": out})
		if err != nil {
			return errEnvelope(err)
		}
		return s
	})
}

func errEnvelope(err error) string {
	se := &scriptError{ctor: "Error", msg: err.Error()}
	errors.As(err, &se)
	s, _ := sonic.MarshalString(map[string]string{"err": se.ctor, "msg": se.msg})
	return s
}

// namespaceCallJS is the script half of registerNamespace. The %s is the
// Go function name.
const namespaceCallJS = `function(op) {
		var args = Array.prototype.slice.call(arguments, 1);
		var r = JSON.parse(%s(op, JSON.stringify(args)));
		if (r.err) {
			var C = typeof globalThis[r.err] === 'function' ? globalThis[r.err] : Error;
			throw new C(r.msg);
		}
		return r.ok;
	}`

// binaryJS moves bytes between script and Go via core.BinaryTransferer.
const binaryJS = `
(function() {
	if (globalThis.__jsvm_stashBinary) return;
	var hide = function(name, value) {
		Object.defineProperty(globalThis, name, { value: value, writable: true, configurable: true, enumerable: false });
	};
	hide('__jsvm_stashBinary', function(data) {
		var bytes;
		if (data instanceof ArrayBuffer) {
			bytes = new Uint8Array(data);
		} else if (ArrayBuffer.isView(data)) {
			bytes = new Uint8Array(data.buffer, data.byteOffset, data.byteLength);
		} else {
			throw new TypeError('expected ArrayBuffer or typed array');
		}
		var buf;
		if (globalThis.__jsvm_binary_mode === 'sab') {
			buf = new SharedArrayBuffer(bytes.byteLength);
			new Uint8Array(buf).set(bytes);
		} else {
			buf = bytes.slice().buffer;
		}
		globalThis.__jsvm_bin_in = buf;
	});
	hide('__jsvm_takeBinary', function() {
		var b = globalThis.__jsvm_bin_out;
		delete globalThis.__jsvm_bin_out;
		if (typeof SharedArrayBuffer === 'function' && b instanceof SharedArrayBuffer) {
			var copy = new ArrayBuffer(b.byteLength);
			new Uint8Array(copy).set(new Uint8Array(b));
			return copy;
		}
		return b;
	});
})();
`

func setupBinary(rt core.JSRuntime) (core.BinaryTransferer, error) {
	bt, ok := rt.(core.BinaryTransferer)
	if !ok {
		return nil, nil
	}
	if err := rt.SetGlobal("__jsvm_binary_mode", bt.BinaryMode()); err != nil {
		return nil, err
	}
	return bt, rt.Eval(binaryJS)
}

// errno converts err into the negative errno convention of the std and os
// namespaces. nil is 0.
func errno(err error) int {
	if err == nil {
		return 0
	}
	var en syscall.Errno
	if errors.As(err, &en) {
		return -int(en)
	}
	return -int(syscall.EIO)
}

func argString(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func argNumber(args []any, i int) (float64, bool) {
	if i >= len(args) {
		return 0, false
	}
	f, ok := args[i].(float64)
	return f, ok
}

func argObject(args []any, i int) map[string]any {
	if i >= len(args) {
		return nil
	}
	m, _ := args[i].(map[string]any)
	return m
}

func optBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
