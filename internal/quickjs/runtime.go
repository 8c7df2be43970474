//go:build !v8

package quickjs

import (
	"fmt"
	"sync/atomic"

	"modernc.org/quickjs"

	"github.com/cryguy/jsvm/internal/core"
)

// evalFlagAsync is JS_EVAL_FLAG_ASYNC: the script may use top-level await
// and evaluates to a Promise of {value}.
const evalFlagAsync = 1 << 7

// registerJS installs name as a wrapper around the raw Go function. The Go
// wrapper returns (T, error) results as a two element array; the wrapper
// throws the error half.
const registerJS = `(function(raw, name) {
	var fn = globalThis[raw];
	delete globalThis[raw];
	Object.defineProperty(globalThis, name, {
		value: function() {
			var r = fn.apply(this, arguments);
			if (!Array.isArray(r)) return r;
			if (r[1] !== null && r[1] !== undefined) throw new TypeError(name + ': ' + r[1]);
			return r[0];
		},
		writable: true, configurable: true, enumerable: false
	});
})(%q, %q)`

type qjsRuntime struct {
	vm *quickjs.VM
	c  cHandles

	// interrupting is set by Interrupt and cleared by ClearInterrupt. The
	// VM drops a pending interrupt at the start of every eval, so it is
	// raised again after each one while this is set.
	interrupting atomic.Bool
}

var (
	_ core.Engine           = (*qjsRuntime)(nil)
	_ core.BinaryTransferer = (*qjsRuntime)(nil)
)

func (r *qjsRuntime) eval(js string) (any, error) {
	defer r.rearm()
	return r.vm.Eval(js, quickjs.EvalGlobal)
}

func (r *qjsRuntime) evalValue(js string, flags int) (quickjs.Value, error) {
	defer r.rearm()
	return r.vm.EvalValue(js, flags)
}

func (r *qjsRuntime) rearm() {
	if r.interrupting.Load() {
		r.vm.Interrupt()
	}
}

func (r *qjsRuntime) Eval(js string) error {
	v, err := r.evalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

func (r *qjsRuntime) EvalString(js string) (string, error) {
	result, err := r.eval(js)
	if err != nil || result == nil {
		return "", err
	}
	return fmt.Sprint(result), nil
}

func (r *qjsRuntime) EvalBool(js string) (bool, error) {
	result, err := r.eval(js)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", result)
	}
	return b, nil
}

func (r *qjsRuntime) EvalInt(js string) (int, error) {
	result, err := r.eval(js)
	if err != nil {
		return 0, err
	}
	switch n := result.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("expected int, got %T", result)
}

// RegisterFunc exposes fn as a non-enumerable global function.
func (r *qjsRuntime) RegisterFunc(name string, fn any) error {
	raw := "__jsvm_raw_" + name
	if err := r.vm.RegisterFunc(raw, fn, false); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	return r.Eval(fmt.Sprintf(registerJS, raw, name))
}

func (r *qjsRuntime) SetGlobal(name string, value any) error {
	atom, err := r.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := r.vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

func (r *qjsRuntime) RunMicrotasks() {
	r.c.pumpJobs()
}

// EvalTopLevel evaluates source with top-level await enabled and parks the
// resulting completion promise in globalThis[resultVar]. The Go wrapper
// names every script itself, so filename is not forwarded.
func (r *qjsRuntime) EvalTopLevel(source, _ string, resultVar string) error {
	v, err := r.evalValue(source, quickjs.EvalGlobal|evalFlagAsync)
	if err != nil {
		return core.ParseScriptError(err.Error())
	}
	defer v.Free()
	if err := r.SetGlobal(resultVar, v); err != nil {
		return fmt.Errorf("storing completion: %w", err)
	}
	return r.Eval(fmt.Sprintf(`(function(k) {
		var c = globalThis[k];
		if (!(c instanceof Promise)) globalThis[k] = Promise.resolve({ value: c });
	})(%q)`, resultVar))
}

// Interrupt requests cooperative interruption of the running script. The
// request holds across nested evals until ClearInterrupt.
func (r *qjsRuntime) Interrupt() {
	r.interrupting.Store(true)
	r.vm.Interrupt()
}

// ClearInterrupt drops the request; the empty eval resets the VM's flag.
func (r *qjsRuntime) ClearInterrupt() {
	r.interrupting.Store(false)
	_, _ = r.vm.Eval("void 0", quickjs.EvalGlobal)
}

func (r *qjsRuntime) Close() {
	r.vm.Close()
}

// BinaryMode is "ab": bytes are copied straight into an ArrayBuffer.
func (r *qjsRuntime) BinaryMode() string { return "ab" }

func (r *qjsRuntime) WriteBinaryToJS(globalName string, data []byte) error {
	return r.c.newArrayBuffer(globalName, data)
}

// ReadBinaryFromJS copies the ArrayBuffer at globalThis[globalName] and
// deletes the global.
func (r *qjsRuntime) ReadBinaryFromJS(globalName string) ([]byte, error) {
	defer r.Eval(fmt.Sprintf("delete globalThis[%q];", globalName))
	return r.c.arrayBufferBytes(globalName)
}
