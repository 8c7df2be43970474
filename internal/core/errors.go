package core

import (
	"regexp"
	"strings"
)

// ScriptError is an exception the engine reported as text rather than as
// a script value, typically a compile error raised before evaluation
// starts.
type ScriptError struct {
	Name    string // e.g. "SyntaxError"; empty when the text had no prefix
	Message string
	Stack   string // frame lines, one per line, innermost first
}

func (e *ScriptError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

var headerRe = regexp.MustCompile(`^(?:Uncaught )?([A-Za-z_$][\w$]*): (.*)$`)

// ParseScriptError splits engine exception text into name, message and
// stack. The first line is the header; remaining lines are frames.
func ParseScriptError(text string) *ScriptError {
	text = strings.TrimRight(text, "\n")
	header, stack, _ := strings.Cut(text, "\n")
	header = strings.TrimSpace(header)
	se := &ScriptError{Message: header, Stack: stack}
	if m := headerRe.FindStringSubmatch(header); m != nil {
		se.Name = m[1]
		se.Message = m[2]
	}
	return se
}
