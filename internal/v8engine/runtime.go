//go:build v8

package v8engine

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/bytedance/sonic"
	v8 "github.com/tommie/v8go"

	"github.com/cryguy/jsvm/internal/core"
)

// v8Runtime is one isolate with a single context.
type v8Runtime struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var (
	_ core.Engine           = (*v8Runtime)(nil)
	_ core.BinaryTransferer = (*v8Runtime)(nil)
)

const binaryScratch = "__jsvm_v8_scratch"

func (r *v8Runtime) run(js, origin string) (*v8.Value, error) {
	val, err := r.ctx.RunScript(js, origin)
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *v8Runtime) Eval(js string) error {
	_, err := r.run(js, "eval.js")
	return err
}

func (r *v8Runtime) EvalString(js string) (string, error) {
	val, err := r.run(js, "eval.js")
	if err != nil || val == nil {
		return "", err
	}
	return val.String(), nil
}

func (r *v8Runtime) EvalBool(js string) (bool, error) {
	val, err := r.run(js, "eval.js")
	if err != nil || val == nil {
		return false, err
	}
	return val.Boolean(), nil
}

func (r *v8Runtime) EvalInt(js string) (int, error) {
	val, err := r.run(js, "eval.js")
	if err != nil || val == nil {
		return 0, err
	}
	return int(val.Integer()), nil
}

// RegisterFunc exposes fn as a global function. Parameters and results
// may be string, int, int64, float64 or bool; a trailing error result is
// thrown as an exception. Missing arguments are passed as zero values.
func (r *v8Runtime) RegisterFunc(name string, fn any) error {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return fmt.Errorf("RegisterFunc %s: %T is not a function", name, fn)
	}
	hasErr := ft.NumOut() > 0 && ft.Out(ft.NumOut()-1) == reflect.TypeOf((*error)(nil)).Elem()

	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		in := make([]reflect.Value, ft.NumIn())
		for i := range in {
			if i < len(args) {
				in[i] = fromJS(args[i], ft.In(i))
			} else {
				in[i] = reflect.Zero(ft.In(i))
			}
		}
		out := fv.Call(in)
		if hasErr {
			if err, _ := out[len(out)-1].Interface().(error); err != nil {
				msg, _ := v8.NewValue(r.iso, name+": "+err.Error())
				return r.iso.ThrowException(msg)
			}
			out = out[:len(out)-1]
		}
		if len(out) == 0 {
			return v8.Undefined(r.iso)
		}
		return toJS(r.iso, out[0])
	})
	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

func fromJS(val *v8.Value, t reflect.Type) reflect.Value {
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String()).Convert(t)
	case reflect.Int, reflect.Int64, reflect.Int32:
		return reflect.ValueOf(val.Integer()).Convert(t)
	case reflect.Float64:
		return reflect.ValueOf(val.Number())
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean())
	}
	return reflect.Zero(t)
}

func toJS(iso *v8.Isolate, v reflect.Value) *v8.Value {
	var (
		out *v8.Value
		err error
	)
	switch v.Kind() {
	case reflect.String:
		out, err = v8.NewValue(iso, v.String())
	case reflect.Int, reflect.Int64, reflect.Int32:
		out, err = v8.NewValue(iso, float64(v.Int()))
	case reflect.Float64, reflect.Float32:
		out, err = v8.NewValue(iso, v.Float())
	case reflect.Bool:
		out, err = v8.NewValue(iso, v.Bool())
	}
	if out == nil || err != nil {
		return v8.Undefined(iso)
	}
	return out
}

// SetGlobal stores value as a global. Scalars are set directly; anything
// else goes through JSON.
func (r *v8Runtime) SetGlobal(name string, value any) error {
	var (
		val *v8.Value
		err error
	)
	switch v := value.(type) {
	case nil:
		val = v8.Undefined(r.iso)
	case string, bool, float64, int32:
		val, err = v8.NewValue(r.iso, v)
	case int:
		val, err = v8.NewValue(r.iso, float64(v))
	case int64:
		val, err = v8.NewValue(r.iso, float64(v))
	default:
		data, merr := sonic.Marshal(value)
		if merr != nil {
			return fmt.Errorf("encoding global %s: %w", name, merr)
		}
		val, err = r.run("JSON.parse("+strconv.Quote(string(data))+")", "global.js")
	}
	if err != nil {
		return fmt.Errorf("setting global %s: %w", name, err)
	}
	return r.ctx.Global().Set(name, val)
}

func (r *v8Runtime) RunMicrotasks() {
	r.ctx.PerformMicrotaskCheckpoint()
}

// BinaryMode is "sab": bytes cross through a SharedArrayBuffer, whose
// backing store v8go exposes to Go.
func (r *v8Runtime) BinaryMode() string { return "sab" }

func (r *v8Runtime) ReadBinaryFromJS(globalName string) ([]byte, error) {
	defer r.run(fmt.Sprintf("delete globalThis[%q];", globalName), "binary.js")

	val, err := r.ctx.Global().Get(globalName)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", globalName, err)
	}
	data, release, err := val.SharedArrayBufferGetContents()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", globalName, err)
	}
	defer release()
	return append([]byte(nil), data...), nil
}

// WriteBinaryToJS fills a scratch SharedArrayBuffer from Go and copies it
// into a plain ArrayBuffer stored at globalName.
func (r *v8Runtime) WriteBinaryToJS(globalName string, data []byte) error {
	if _, err := r.run(fmt.Sprintf("globalThis.%s = new SharedArrayBuffer(%d);", binaryScratch, len(data)), "binary.js"); err != nil {
		return fmt.Errorf("allocating %d bytes: %w", len(data), err)
	}
	if len(data) > 0 {
		if err := r.fillScratch(data); err != nil {
			r.run("delete globalThis."+binaryScratch+";", "binary.js")
			return err
		}
	}
	_, err := r.run(fmt.Sprintf(`(function() {
		var sab = globalThis.%[1]s;
		delete globalThis.%[1]s;
		var buf = new ArrayBuffer(sab.byteLength);
		new Uint8Array(buf).set(new Uint8Array(sab));
		globalThis[%[2]q] = buf;
	})()`, binaryScratch, globalName), "binary.js")
	return err
}

func (r *v8Runtime) fillScratch(data []byte) error {
	val, err := r.ctx.Global().Get(binaryScratch)
	if err != nil {
		return fmt.Errorf("reading scratch buffer: %w", err)
	}
	buf, release, err := val.SharedArrayBufferGetContents()
	if err != nil {
		return fmt.Errorf("reading scratch buffer: %w", err)
	}
	copy(buf, data)
	release()
	return nil
}

// EvalTopLevel runs source as a classic script and parks its completion
// value in globalThis[resultVar] as Promise.resolve({value}). V8 scripts
// cannot use top-level await; such sources fail to compile.
func (r *v8Runtime) EvalTopLevel(source, filename, resultVar string) error {
	val, err := r.run(source, filename)
	if err != nil {
		return toScriptError(err)
	}
	if val == nil {
		val = v8.Undefined(r.iso)
	}
	if err := r.ctx.Global().Set("__jsvm_completion", val); err != nil {
		return fmt.Errorf("storing completion: %w", err)
	}
	_, err = r.run(fmt.Sprintf(`globalThis[%q] = Promise.resolve({ value: globalThis.__jsvm_completion });
		delete globalThis.__jsvm_completion;`, resultVar), "completion.js")
	return err
}

// Interrupt terminates the running script. Safe from any goroutine.
func (r *v8Runtime) Interrupt() {
	r.iso.TerminateExecution()
}

// ClearInterrupt absorbs a termination that arrived after the script had
// already returned by letting a short poll loop take it.
func (r *v8Runtime) ClearInterrupt() {
	_, _ = r.run("for (let i = 0; i < 25000; i++) {}", "clear_interrupt.js")
}

func (r *v8Runtime) Close() {
	r.ctx.Close()
	r.iso.Dispose()
}

// toScriptError converts a V8 exception into a core.ScriptError. The stack
// trace carries the "Name: message" header the parser expects.
func toScriptError(err error) error {
	var jsErr *v8.JSError
	if !errors.As(err, &jsErr) {
		return err
	}
	text := jsErr.StackTrace
	if text == "" {
		text = jsErr.Message
	}
	return core.ParseScriptError(text)
}
