package jsvm

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/cryguy/jsvm/internal/eventloop"
	"github.com/cryguy/jsvm/internal/webapi"
)

// HostFunc is a Go function callable from scripts. args are the script
// arguments converted to Go values; the result is converted back. ctx is
// cancelled when the evaluation that made the call ends or times out.
type HostFunc func(ctx context.Context, args []any) (any, error)

type hostFunction struct {
	name  string
	fn    HostFunc
	async bool
}

type functionOptions struct {
	async bool
}

// FunctionOption configures DefineFunction.
type FunctionOption func(*functionOptions)

// WithAsync makes the function return a Promise. The Go function runs on
// its own goroutine and its result settles the Promise while an
// evaluation is draining the event loop.
func WithAsync() FunctionOption {
	return func(o *functionOptions) { o.async = true }
}

// DefineFunction binds fn to the global name and returns the name.
// Defining an existing name replaces the previous binding.
func (v *VM) DefineFunction(name string, fn HostFunc, opts ...FunctionOption) (string, error) {
	if err := v.acquire(); err != nil {
		return "", err
	}
	defer v.release()

	if !validIdentifier(name) {
		return "", invalidArgument("invalid function name %q", name)
	}
	if fn == nil {
		return "", invalidArgument("nil host function for %q", name)
	}
	var o functionOptions
	for _, opt := range opts {
		opt(&o)
	}

	v.funcs[name] = &hostFunction{name: name, fn: fn, async: o.async}
	if err := webapi.DefineFunction(v.engine, name); err != nil {
		delete(v.funcs, name)
		return "", err
	}
	v.logger.Debug("host function defined", zap.String("name", name), zap.Bool("async", o.async))
	return name, nil
}

// dispatch is the single entry point of every host function call. It runs
// on the VM goroutine, inside an evaluation.
func (v *VM) dispatch(name, args string) string {
	f, ok := v.funcs[name]
	if !ok {
		return v.errorEnvelope(fmt.Errorf("%s is not a host function", name))
	}
	decoded, err := v.dec.Decode(args)
	if err != nil {
		return v.errorEnvelope(&Error{Kind: KindType, Message: err.Error(), Cause: err})
	}
	list, _ := decoded.([]any)
	if list == nil {
		list = []any{}
	}

	if f.async {
		return v.dispatchAsync(f, list)
	}

	out, err := v.call(v.evalCtx, f, list)
	if err != nil {
		v.metrics.hostCall("sync", resultError)
		return v.errorEnvelope(err)
	}
	wire, err := v.enc.Encode(out)
	if err != nil {
		v.metrics.hostCall("sync", resultError)
		return v.errorEnvelope(conversionError(err))
	}
	v.metrics.hostCall("sync", resultOK)
	return `{"ok":` + wire + `}`
}

func (v *VM) dispatchAsync(f *hostFunction, args []any) string {
	id := v.loop.NextCallID()
	ch := make(chan eventloop.CallResult, 1)
	v.loop.AddPendingCall(&eventloop.PendingCall{ResultCh: ch, CallID: id})

	ctx := v.evalCtx
	go func() {
		var res eventloop.CallResult
		out, err := v.call(ctx, f, args)
		if err == nil {
			res.Payload, err = v.enc.Encode(out)
			if err != nil {
				err = conversionError(err)
			}
		}
		if err != nil {
			// The rejection carries the error's handle.
			res.Payload, _ = v.enc.Encode(err)
		}
		res.Err = err
		if err != nil {
			v.metrics.hostCall("async", resultError)
		} else {
			v.metrics.hostCall("async", resultOK)
		}
		ch <- res
		v.loop.Wake()
	}()
	return fmt.Sprintf(`{"pending":%d}`, id)
}

// call runs f, turning a panic into a KindHostFunction error.
func (v *VM) call(ctx context.Context, f *hostFunction, args []any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("host function panicked",
				zap.String("name", f.name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("%v", r)
			}
			out, err = nil, &Error{
				Kind:    KindHostFunction,
				Message: fmt.Sprintf("host function %s panicked: %v", f.name, r),
				Cause:   cause,
			}
		}
	}()
	return f.fn(ctx, args)
}

// errorEnvelope reports err to the script, which throws an Error that
// carries err's handle.
func (v *VM) errorEnvelope(err error) string {
	s, mErr := sonic.MarshalString(map[string]any{
		"err": map[string]any{"message": err.Error(), "h": v.handles.put(err)},
	})
	if mErr != nil {
		return `{"err":{"message":"host function failed","h":0}}`
	}
	return s
}

func conversionError(err error) *Error {
	return &Error{Kind: KindType, Message: err.Error(), Cause: err}
}
