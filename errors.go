package jsvm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cryguy/jsvm/internal/core"
	"github.com/cryguy/jsvm/internal/marshal"
)

// Kind classifies a failed evaluation.
type Kind int

const (
	KindRuntime Kind = iota
	KindSyntax
	KindType
	KindReference
	KindRange
	KindEval
	KindURI
	KindAggregate
	KindInterrupted
	KindNoAwaitedPromise
	KindHostFunction
)

var kindNames = map[Kind]string{
	KindRuntime:          "Runtime",
	KindSyntax:           "Syntax",
	KindType:             "Type",
	KindReference:        "Reference",
	KindRange:            "Range",
	KindEval:             "Eval",
	KindURI:              "URI",
	KindAggregate:        "Aggregate",
	KindInterrupted:      "Interrupted",
	KindNoAwaitedPromise: "NoAwaitedPromise",
	KindHostFunction:     "HostFunction",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// standardKinds maps the standard Error constructors to their kinds.
var standardKinds = map[string]Kind{
	"SyntaxError":    KindSyntax,
	"TypeError":      KindType,
	"ReferenceError": KindReference,
	"RangeError":     KindRange,
	"EvalError":      KindEval,
	"URIError":       KindURI,
	"AggregateError": KindAggregate,
}

var (
	// ErrDisposed is returned by every operation on a disposed VM.
	ErrDisposed = errors.New("disposed VM")

	// ErrInvalidArgument marks a call rejected before reaching the engine.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInterrupted matches every evaluation stopped by its timeout.
	ErrInterrupted = errors.New("evaluation interrupted")

	// ErrNoAwaitedPromise matches a top level that settled to a Promise.
	ErrNoAwaitedPromise = errors.New("unawaited promise")

	// ErrBusy is returned when a VM is entered while it is already running,
	// either from another goroutine or from one of its own host functions.
	ErrBusy = errors.New("VM is busy")
)

const noAwaitMessage = "An unawaited Promise was returned to the top-level"

// StackFrame is one parsed "at" line of a script stack trace.
type StackFrame struct {
	Function string
	Source   string
	Line     int
	Column   int
}

func (f StackFrame) String() string {
	loc := f.Source
	if f.Line > 0 {
		loc += ":" + strconv.Itoa(f.Line)
		if f.Column > 0 {
			loc += ":" + strconv.Itoa(f.Column)
		}
	}
	if f.Function == "" {
		return "at " + loc
	}
	return "at " + f.Function + " (" + loc + ")"
}

// Error is a script failure as seen by the host.
type Error struct {
	Kind    Kind
	Message string
	// Name is the engine's name for the thrown Error. It is empty when the
	// script threw something other than an Error.
	Name     string
	Stack    []StackFrame
	RawStack string
	Cause    error
}

func (e *Error) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports sentinel matches implied by the kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInterrupted:
		return e.Kind == KindInterrupted
	case ErrNoAwaitedPromise:
		return e.Kind == KindNoAwaitedPromise
	}
	return false
}

func invalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindType, Message: fmt.Sprintf(format, args...), Cause: ErrInvalidArgument}
}

func interruptedError(limit time.Duration) *Error {
	return &Error{
		Kind:    KindInterrupted,
		Message: fmt.Sprintf("Code evaluation is interrupted by the timeout (limit: %v)", limit),
		Cause:   ErrInterrupted,
	}
}

func noAwaitError() *Error {
	return &Error{Kind: KindNoAwaitedPromise, Message: noAwaitMessage, Cause: ErrNoAwaitedPromise}
}

// classify maps an engine name and constructor to a kind. The constructor
// wins when it is standard; a renamed subclass falls back to its name.
func classify(name, ctor, message string) Kind {
	if k, ok := standardKinds[ctor]; ok {
		return k
	}
	if k, ok := standardKinds[name]; ok {
		return k
	}
	if name == "InternalError" && strings.Contains(message, "interrupted") {
		return KindInterrupted
	}
	return KindRuntime
}

// errorFromValue builds an *Error for a script Error instance.
func errorFromValue(ev *marshal.ErrorValue) *Error {
	frames, raw := parseStack(ev.Stack)
	e := &Error{
		Kind:     classify(ev.Name, ev.Constructor, ev.Message),
		Message:  ev.Message,
		Name:     ev.Name,
		Stack:    frames,
		RawStack: raw,
	}
	if e.Kind == KindInterrupted {
		e.Cause = ErrInterrupted
	}
	return e
}

// errorFromScript builds an *Error for an exception the engine reported
// only as text.
func errorFromScript(se *core.ScriptError) *Error {
	frames, raw := parseStack(se.Stack)
	e := &Error{
		Kind:     classify(se.Name, "", se.Message),
		Message:  se.Message,
		Name:     se.Name,
		Stack:    frames,
		RawStack: raw,
	}
	if e.Kind == KindInterrupted {
		e.Cause = ErrInterrupted
	}
	return e
}

// parseStack extracts the frame lines of a stack string. V8 prefixes the
// frames with the error header, QuickJS does not; both are accepted.
func parseStack(stack string) ([]StackFrame, string) {
	var frames []StackFrame
	var lines []string
	for _, line := range strings.Split(stack, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "at ") {
			continue
		}
		lines = append(lines, "    "+line)
		frames = append(frames, parseFrame(strings.TrimPrefix(line, "at ")))
	}
	return frames, strings.Join(lines, "\n")
}

// parseFrame parses "fn (source:line:col)" or "source:line:col".
func parseFrame(s string) StackFrame {
	var f StackFrame
	loc := s
	if strings.HasSuffix(s, ")") {
		if i := strings.LastIndex(s, " ("); i >= 0 {
			f.Function = s[:i]
			loc = s[i+2 : len(s)-1]
		}
	}

	var nums []int
	for len(nums) < 2 {
		i := strings.LastIndexByte(loc, ':')
		if i < 0 {
			break
		}
		n, err := strconv.Atoi(loc[i+1:])
		if err != nil {
			break
		}
		nums = append(nums, n)
		loc = loc[:i]
	}
	f.Source = loc
	switch len(nums) {
	case 1:
		f.Line = nums[0]
	case 2:
		f.Line, f.Column = nums[1], nums[0]
	}
	return f
}

// uncaughtText renders the log entry written for an uncaught Error.
func uncaughtText(e *Error) string {
	header := "Uncaught " + e.Error()
	if e.RawStack == "" {
		return header
	}
	return header + "\n" + e.RawStack
}
