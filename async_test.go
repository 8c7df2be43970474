//go:build !v8

package jsvm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cryguy/jsvm/internal/core"
)

func TestEvaluate_AwaitsTopLevelPromise(t *testing.T) {
	v := newTestVM(t, Config{})

	assertEval(t, v, `
		const promise = new Promise((res) => { res('awaited yo') });
		await promise;
	`, "awaited yo")
}

func TestEvaluate_ReturnedPromiseIsNotAwaited(t *testing.T) {
	v := newTestVM(t, Config{})

	_, err := v.Evaluate(`
		const promise = new Promise((res) => { res('awaited yo') });
		promise;
	`)
	if !errors.Is(err, ErrNoAwaitedPromise) {
		t.Fatalf("err = %v, want ErrNoAwaitedPromise", err)
	}
}

func TestEvaluate_AwaitedRejection(t *testing.T) {
	v := newTestVM(t, Config{})

	_, err := v.Evaluate(`
		const promise = new Promise((res) => { throw 'asynchronously sad' });
		await promise;
	`)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if e.Kind != KindRuntime || e.Name != "" || e.Message != "asynchronously sad" {
		t.Errorf("got %+v", e)
	}
}

func TestEvaluate_StalledPromise(t *testing.T) {
	v := newTestVM(t, Config{})

	_, err := v.Evaluate("await new Promise(() => {})")
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if e.Kind != KindRuntime || !strings.Contains(e.Message, "stalled") {
		t.Errorf("got %+v", e)
	}
}

func TestEvaluate_UncaughtReferenceErrorLog(t *testing.T) {
	v := newTestVM(t, Config{})

	_, err := v.Evaluate("\n  const a = 1;\n  const c = 3;\n  a + b;\n")
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindReference {
		t.Fatalf("err = %v, want a reference error", err)
	}

	logs := v.Logs()
	if len(logs) != 1 {
		t.Fatalf("len(Logs) = %d, want 1", len(logs))
	}
	lines := strings.Split(logs[0].Raw[0].(string), "\n")
	if !strings.HasPrefix(lines[0], "Uncaught ReferenceError: ") || !strings.Contains(lines[0], "b") {
		t.Errorf("header = %q", lines[0])
	}
	if len(lines) < 2 || !strings.HasPrefix(lines[1], "    at ") {
		t.Errorf("frames = %q", lines[1:])
	}
}

func TestTimers_SetTimeout(t *testing.T) {
	v := newTestVM(t, Config{Features: []Feature{FeatureTimeout}})

	assertEval(t, v, `
		const order = [];
		await new Promise((res) => {
			setTimeout(() => order.push('b'), 20);
			setTimeout(() => order.push('a'), 5);
			setTimeout(res, 40);
		});
		order.join('');
	`, "ab")
}

func TestTimers_ClearTimeout(t *testing.T) {
	v := newTestVM(t, Config{Features: []Feature{FeatureTimeout}})

	assertEval(t, v, `
		let fired = false;
		const id = setTimeout(() => { fired = true }, 5);
		clearTimeout(id);
		await new Promise((res) => setTimeout(res, 30));
		fired;
	`, false)
}

func TestTimers_ThrowingCallbackIsLogged(t *testing.T) {
	v := newTestVM(t, Config{Features: []Feature{FeatureTimeout}})

	assertEval(t, v, `
		setTimeout(() => { throw new Error('boom') }, 0);
		setTimeout(() => { throw 'plain' }, 0);
		await new Promise((res) => setTimeout(res, 20));
		1;
	`, int64(1))

	logs := v.Logs()
	if len(logs) != 2 {
		t.Fatalf("len(Logs) = %d, want 2: %v", len(logs), logs)
	}
	if logs[0].Severity != SeverityError || !strings.HasPrefix(logs[0].Display, "Uncaught Error: boom") {
		t.Errorf("first entry = %v %q", logs[0].Severity, logs[0].Display)
	}
	if logs[1].Display != "Uncaught 'plain'" {
		t.Errorf("second entry = %q", logs[1].Display)
	}
}

func TestTimers_SurviveCompletedEvaluation(t *testing.T) {
	v := newTestVM(t, Config{Features: []Feature{FeatureTimeout}})

	mustEval(t, v, "globalThis.hits = 0; setTimeout(() => { hits++ }, 10); 'scheduled'")
	time.Sleep(30 * time.Millisecond)
	assertEval(t, v, "await new Promise((res) => setTimeout(() => res(hits), 0))", int64(1))
}

func TestTimeout_InterruptsPendingTimer(t *testing.T) {
	v := newTestVM(t, Config{Timeout: 200 * time.Millisecond, Features: []Feature{FeatureOS}})

	start := time.Now()
	_, err := v.Evaluate("await new Promise((res) => os.setTimeout(res, 5000))")
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("interrupted after %v", elapsed)
	}
	assertEval(t, v, "'recovered'", "recovered")
}

// interruptingEngine runs the watchdog action from inside the first
// settled check and reports the check as interrupted.
type interruptingEngine struct {
	core.Engine
	v     *VM
	fired bool
}

func (e *interruptingEngine) EvalBool(js string) (bool, error) {
	if !e.fired && strings.Contains(js, "__jsvm_settled") {
		e.fired = true
		e.v.interrupt(e.v.current)
		return false, errors.New("InternalError: interrupted")
	}
	return e.Engine.EvalBool(js)
}

func TestTimeout_DuringSettledCheck(t *testing.T) {
	v := newTestVM(t, Config{Timeout: time.Minute, Features: []Feature{FeatureTimeout}})
	v.engine = &interruptingEngine{Engine: v.engine, v: v}

	got, err := v.Evaluate("await new Promise((res) => setTimeout(res, 1000)); 42")
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("got %#v, err = %v, want ErrInterrupted", got, err)
	}
	if v.State() != StateInterrupted {
		t.Errorf("State = %v, want interrupted", v.State())
	}
	assertEval(t, v, "'recovered'", "recovered")
}

func TestTimeout_InterruptsLoopCallingBinaryHostFunction(t *testing.T) {
	v := newTestVM(t, Config{
		Timeout:  200 * time.Millisecond,
		Features: []Feature{FeatureStd},
		WorkDir:  t.TempDir(),
	})

	done := make(chan error, 1)
	go func() {
		_, err := v.Evaluate("const b = new Uint8Array(1 << 16); while (1) { std.writeFile('x.bin', b) }")
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrInterrupted) {
			t.Fatalf("err = %v, want ErrInterrupted", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("still running 3s after a 200ms timeout")
	}
	assertEval(t, v, "'recovered'", "recovered")
}

func TestDispose_InterruptsLoopCallingBinaryHostFunction(t *testing.T) {
	v, err := New(Config{Features: []Feature{FeatureStd}, WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := v.Evaluate("const b = new Uint8Array(1 << 16); while (1) { std.writeFile('x.bin', b) }")
		done <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for v.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if err := v.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrDisposed) {
			t.Errorf("err = %v, want interrupted by dispose", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("still running 2s after Dispose")
	}
}

func TestTimeout_CancelsHostFunctionContext(t *testing.T) {
	v := newTestVM(t, Config{Timeout: 200 * time.Millisecond})

	if _, err := v.DefineFunction("block", func(ctx context.Context, _ []any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, WithAsync()); err != nil {
		t.Fatalf("DefineFunction: %v", err)
	}

	start := time.Now()
	_, err := v.Evaluate("await block()")
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("interrupted after %v", elapsed)
	}
}

func TestAsyncFunction_Resolves(t *testing.T) {
	v := newTestVM(t, Config{})

	if _, err := v.DefineFunction("unblocked", func(context.Context, []any) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return "asynchronous return", nil
	}, WithAsync()); err != nil {
		t.Fatalf("DefineFunction: %v", err)
	}

	assertEval(t, v, "const awaited = await unblocked().then((r) => r + '!'); awaited;", "asynchronous return!")
	assertEval(t, v, "unblocked() instanceof Promise", true)
}

func TestAsyncFunction_Rejects(t *testing.T) {
	v := newTestVM(t, Config{})

	sadness := errors.New("asynchronous sadness!")
	if _, err := v.DefineFunction("failing", func(context.Context, []any) (any, error) {
		return nil, sadness
	}, WithAsync()); err != nil {
		t.Fatalf("DefineFunction: %v", err)
	}

	assertEval(t, v, "await failing().catch((e) => String(e))", "Error: asynchronous sadness!")

	_, err := v.Evaluate("await failing()")
	if !errors.Is(err, sadness) {
		t.Errorf("err = %v, want the host error", err)
	}
}

func TestAsyncFunction_ManyInFlight(t *testing.T) {
	v := newTestVM(t, Config{})

	if _, err := v.DefineFunction("double", func(_ context.Context, args []any) (any, error) {
		return args[0].(int64) * 2, nil
	}, WithAsync()); err != nil {
		t.Fatalf("DefineFunction: %v", err)
	}

	assertEval(t, v, `
		const results = await Promise.all([1, 2, 3, 4, 5].map((n) => double(n)));
		results.reduce((a, b) => a + b, 0);
	`, int64(30))
}

func TestOS_Sleep(t *testing.T) {
	v := newTestVM(t, Config{Features: []Feature{FeatureOS}})

	start := time.Now()
	assertEval(t, v, "os.sleep(50); 'slept'", "slept")
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("os.sleep returned after %v", elapsed)
	}

	start = time.Now()
	assertEval(t, v, "await os.sleepAsync(30); 'woke'", "woke")
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("os.sleepAsync resolved after %v", elapsed)
	}

	assertEval(t, v, `
		let fired = false;
		const id = os.setTimeout(() => { fired = true }, 5);
		os.clearTimeout(id);
		await os.sleepAsync(20);
		fired;
	`, false)
}

func TestConsole_LogsFromTimers(t *testing.T) {
	v := newTestVM(t, Config{Features: []Feature{FeatureTimeout}})

	mustEval(t, v, "await new Promise((res) => setTimeout(() => { console.log('late'); res(); }, 5))")
	logs := v.Logs()
	if len(logs) != 1 || logs[0].Display != "late" {
		t.Errorf("logs = %v", logs)
	}
}

func TestImportModule_TopLevelAwait(t *testing.T) {
	v := newTestVM(t, Config{Features: []Feature{FeatureTimeout}})

	err := v.ImportModule(Named("x", "later"), `
		export const x = await Promise.resolve(5);
		const secret = 'hidden';
		export let later = 0;
		await new Promise((res) => setTimeout(() => { later = 7; res() }, 5));
	`)
	if err != nil {
		t.Fatalf("ImportModule: %v", err)
	}
	assertEval(t, v, "[x, later]", []any{int64(5), int64(7)})
	assertEval(t, v, "typeof secret", "undefined")
}

func TestImportModule_TopLevelAwaitRejection(t *testing.T) {
	v := newTestVM(t, Config{})

	err := v.ImportModule(Namespace("m"), "export const x = await Promise.reject(new TypeError('nope'));")
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindType || e.Message != "nope" {
		t.Fatalf("err = %#v, want TypeError nope", err)
	}
	assertEval(t, v, "typeof m", "undefined")
}
