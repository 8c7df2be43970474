package jsvm

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/cryguy/jsvm/internal/core"
	"github.com/cryguy/jsvm/internal/marshal"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		in   string
		want StackFrame
	}{
		{"thrower (abc123:6:9)", StackFrame{Function: "thrower", Source: "abc123", Line: 6, Column: 9}},
		{"<code>:4", StackFrame{Source: "<code>", Line: 4}},
		{"<anonymous>", StackFrame{Source: "<anonymous>"}},
		{"Object.<anonymous> (file:///a.js:1:2)", StackFrame{Function: "Object.<anonymous>", Source: "file:///a.js", Line: 1, Column: 2}},
		{"native", StackFrame{Source: "native"}},
	}
	for _, tt := range tests {
		if got := parseFrame(tt.in); got != tt.want {
			t.Errorf("parseFrame(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestStackFrame_String(t *testing.T) {
	f := StackFrame{Function: "fn", Source: "mod", Line: 3, Column: 7}
	if f.String() != "at fn (mod:3:7)" {
		t.Errorf("String() = %q", f.String())
	}
	f = StackFrame{Source: "<code>", Line: 2}
	if f.String() != "at <code>:2" {
		t.Errorf("String() = %q", f.String())
	}
}

func TestParseStack(t *testing.T) {
	stack := "ReferenceError: b is not defined\n    at inner (<code>:3:5)\n    at <code>:5\n"
	frames, raw := parseStack(stack)
	want := []StackFrame{
		{Function: "inner", Source: "<code>", Line: 3, Column: 5},
		{Source: "<code>", Line: 5},
	}
	if !reflect.DeepEqual(frames, want) {
		t.Errorf("frames = %+v", frames)
	}
	if raw != "    at inner (<code>:3:5)\n    at <code>:5" {
		t.Errorf("raw = %q", raw)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name, ctor, message string
		want                Kind
	}{
		{"TypeError", "TypeError", "", KindType},
		{"CustomError", "CustomError", "", KindRuntime},
		{"Renamed", "RangeError", "", KindRange},
		{"SyntaxError", "", "", KindSyntax},
		{"InternalError", "InternalError", "interrupted", KindInterrupted},
		{"InternalError", "InternalError", "stack overflow", KindRuntime},
		{"", "", "", KindRuntime},
	}
	for _, tt := range tests {
		if got := classify(tt.name, tt.ctor, tt.message); got != tt.want {
			t.Errorf("classify(%q, %q, %q) = %v, want %v", tt.name, tt.ctor, tt.message, got, tt.want)
		}
	}
}

func TestError_Sentinels(t *testing.T) {
	if err := interruptedError(time.Second); !errors.Is(err, ErrInterrupted) || errors.Is(err, ErrNoAwaitedPromise) {
		t.Errorf("interrupted: %v", err)
	}
	if err := noAwaitError(); !errors.Is(err, ErrNoAwaitedPromise) || err.Error() != noAwaitMessage {
		t.Errorf("no await: %v", err)
	}
	if err := invalidArgument("bad %d", 1); !errors.Is(err, ErrInvalidArgument) || err.Error() != "bad 1" {
		t.Errorf("invalid argument: %v", err)
	}
}

func TestErrorFromValue(t *testing.T) {
	e := errorFromValue(&marshal.ErrorValue{
		Name:        "TypeError",
		Constructor: "TypeError",
		Message:     "x is not a function",
		Stack:       "    at f (<code>:1:2)\n",
	})
	if e.Kind != KindType || e.Error() != "TypeError: x is not a function" {
		t.Errorf("got %+v", e)
	}
	if len(e.Stack) != 1 || e.Stack[0].Function != "f" {
		t.Errorf("stack = %+v", e.Stack)
	}
	if uncaughtText(e) != "Uncaught TypeError: x is not a function\n    at f (<code>:1:2)" {
		t.Errorf("uncaught = %q", uncaughtText(e))
	}
}

func TestErrorFromScript(t *testing.T) {
	e := errorFromScript(core.ParseScriptError("SyntaxError: unexpected token in expression: '}'\n    at <code>:1:1"))
	if e.Kind != KindSyntax || e.Name != "SyntaxError" {
		t.Errorf("got %+v", e)
	}
	if e.Message != "unexpected token in expression: '}'" {
		t.Errorf("message = %q", e.Message)
	}
}

func TestKind_String(t *testing.T) {
	if KindNoAwaitedPromise.String() != "NoAwaitedPromise" {
		t.Errorf("got %q", KindNoAwaitedPromise.String())
	}
	if Kind(99).String() != "Kind(99)" {
		t.Errorf("got %q", Kind(99).String())
	}
}
