package jsvm

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Severity is the level of a LogEntry.
type Severity int

const (
	SeverityVerbose Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityVerbose:
		return "verbose"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return "unknown"
}

func parseSeverity(s string) Severity {
	switch s {
	case "verbose":
		return SeverityVerbose
	case "warning":
		return SeverityWarning
	case "error":
		return SeverityError
	}
	return SeverityInfo
}

func (s Severity) zapLevel() zapcore.Level {
	switch s {
	case SeverityVerbose:
		return zapcore.DebugLevel
	case SeverityWarning:
		return zapcore.WarnLevel
	case SeverityError:
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// LogEntry is one console call, or one uncaught top-level failure.
type LogEntry struct {
	Severity Severity
	// Display is the arguments joined by a space, each stringified the way
	// the script's String() would.
	Display string
	// Raw holds the arguments as host values. Errors are flattened to
	// "name: message\nstack" and Promises to "Promise".
	Raw []any
}

func (e LogEntry) String() string { return e.Display }

// Logs returns a copy of the log buffer, oldest first.
func (v *VM) Logs() []LogEntry {
	v.logMu.Lock()
	defer v.logMu.Unlock()
	out := make([]LogEntry, len(v.logs))
	copy(out, v.logs)
	return out
}

func (v *VM) appendLog(e LogEntry) {
	v.logMu.Lock()
	if limit := v.cfg.MaxLogEntries; limit > 0 && len(v.logs) >= limit {
		drop := len(v.logs) - limit + 1
		v.logs = v.logs[drop:]
	}
	v.logs = append(v.logs, e)
	v.logMu.Unlock()

	if ce := v.logger.Check(e.Severity.zapLevel(), "console"); ce != nil {
		ce.Write(zap.String("severity", e.Severity.String()), zap.String("message", e.Display))
	}
}

// consoleSink receives console calls from the script.
func (v *VM) consoleSink(level, display, raw string) {
	var args []any
	if decoded, err := v.dec.Decode(raw); err == nil {
		args, _ = decoded.([]any)
	} else {
		v.logger.Debug("decoding console arguments", zap.Error(err))
	}
	if args == nil {
		args = []any{}
	}
	v.appendLog(LogEntry{Severity: parseSeverity(level), Display: display, Raw: args})
}

// logUncaught records an uncaught top-level failure.
func (v *VM) logUncaught(text string) {
	v.appendLog(LogEntry{Severity: SeverityError, Display: text, Raw: []any{text}})
}

// logThrown records an exception that escaped a timer callback. thrown is
// the __jsvm_describeThrow encoding of the value.
func (v *VM) logThrown(thrown string) {
	out, err := v.dec.DecodeOutcome(`{"x":` + thrown + `}`)
	if err != nil {
		v.logger.Debug("decoding uncaught exception", zap.Error(err))
		return
	}
	if out.Error == nil {
		v.logUncaught("Uncaught '" + out.Display + "'")
		return
	}
	if e := errorFromValue(out.Error); e.Kind != KindInterrupted {
		v.logUncaught(uncaughtText(e))
	}
}
