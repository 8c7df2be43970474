package jsvm

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestConsole_Severities(t *testing.T) {
	v := newTestVM(t, Config{})

	mustEval(t, v, `
		console.log('log');
		console.debug('debug');
		console.info('info');
		console.warn('warn');
		console.error('error');
	`)

	logs := v.Logs()
	if len(logs) != 5 {
		t.Fatalf("len(Logs) = %d, want 5", len(logs))
	}
	want := []Severity{SeverityInfo, SeverityVerbose, SeverityInfo, SeverityWarning, SeverityError}
	for i, l := range logs {
		if l.Severity != want[i] {
			t.Errorf("logs[%d].Severity = %v, want %v", i, l.Severity, want[i])
		}
	}
	if logs[3].String() != "warn" {
		t.Errorf("String() = %q", logs[3].String())
	}
}

func TestConsole_DisplayAndRaw(t *testing.T) {
	v := newTestVM(t, Config{})

	mustEval(t, v, `console.log(128, 'str', 'var!', undefined, null, { key: 'value' }, [1, 2, 3], new Error('hey'))`)

	logs := v.Logs()
	if len(logs) != 1 {
		t.Fatalf("len(Logs) = %d, want 1", len(logs))
	}
	l := logs[0]
	if l.Display != "128 str var! undefined null [object Object] 1,2,3 Error: hey" {
		t.Errorf("Display = %q", l.Display)
	}
	if len(l.Raw) != 8 {
		t.Fatalf("Raw = %#v", l.Raw)
	}
	wantPrefix := []any{
		int64(128), "str", "var!", Undefined, nil,
		map[string]any{"key": "value"}, []any{int64(1), int64(2), int64(3)},
	}
	if !reflect.DeepEqual(l.Raw[:7], wantPrefix) {
		t.Errorf("Raw[:7] = %#v", l.Raw[:7])
	}
	if s, _ := l.Raw[7].(string); !strings.HasPrefix(s, "Error: hey\n") {
		t.Errorf("Raw[7] = %#v", l.Raw[7])
	}
}

func TestConsole_Promise(t *testing.T) {
	v := newTestVM(t, Config{})

	mustEval(t, v, `console.log(Promise.resolve(1)); 0`)
	l := v.Logs()[0]
	if l.Display != "[object Promise]" {
		t.Errorf("Display = %q", l.Display)
	}
	if !reflect.DeepEqual(l.Raw, []any{"Promise"}) {
		t.Errorf("Raw = %#v", l.Raw)
	}
}

func TestConsole_LogIsNative(t *testing.T) {
	v := newTestVM(t, Config{})

	got := mustEval(t, v, "console.log.toString()").(string)
	if !strings.Contains(got, "native code") {
		t.Errorf("toString = %q", got)
	}
}

func TestConsole_CaughtHostError(t *testing.T) {
	v := newTestVM(t, Config{})
	define(t, v, "fail", func(context.Context, []any) (any, error) {
		return nil, errors.New("io")
	})

	mustEval(t, v, "try { fail() } catch (e) { console.error(e) }")
	logs := v.Logs()
	if len(logs) != 1 || !strings.HasPrefix(logs[0].Display, "Error: io") {
		t.Errorf("logs = %v", logs)
	}
}

func TestConsole_ExtendedMethods(t *testing.T) {
	v := newTestVM(t, Config{})

	mustEval(t, v, `
		console.count();
		console.count();
		console.assert(1 === 2, 'math');
		console.group('outer');
		console.log('inner');
		console.groupEnd();
	`)
	var got []string
	for _, l := range v.Logs() {
		got = append(got, l.Display)
	}
	want := []string{"default: 1", "default: 2", "Assertion failed: math", "outer", "inner"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("displays = %q, want %q", got, want)
	}
}

func TestConsole_BufferIsCapped(t *testing.T) {
	v := newTestVM(t, Config{MaxLogEntries: 3})

	mustEval(t, v, "for (let i = 0; i < 10; i++) console.log(i)")
	logs := v.Logs()
	if len(logs) != 3 {
		t.Fatalf("len(Logs) = %d, want 3", len(logs))
	}
	if logs[0].Display != "7" || logs[2].Display != "9" {
		t.Errorf("kept %v", logs)
	}
}

func TestConsole_BufferIsUnboundedByDefault(t *testing.T) {
	v := newTestVM(t, Config{})

	mustEval(t, v, "for (let i = 0; i < 10050; i++) console.log(i)")
	logs := v.Logs()
	if len(logs) != 10050 {
		t.Fatalf("len(Logs) = %d, want 10050", len(logs))
	}
	if logs[0].Display != "0" {
		t.Errorf("first entry = %q", logs[0].Display)
	}
}

func TestConsole_LogsAreACopy(t *testing.T) {
	v := newTestVM(t, Config{})

	mustEval(t, v, "console.log('a')")
	logs := v.Logs()
	logs[0].Display = "mutated"
	if v.Logs()[0].Display != "a" {
		t.Error("Logs returned the internal buffer")
	}
}
