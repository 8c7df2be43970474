package core

// JSRuntime is the engine surface the setup code in internal/webapi, the
// wire codec and the event loop program against. QuickJS and V8 both
// implement it.
type JSRuntime interface {
	// Eval runs js in the global scope and drops the completion value.
	Eval(js string) error

	EvalString(js string) (string, error)
	EvalBool(js string) (bool, error)
	EvalInt(js string) (int, error)

	// RegisterFunc installs fn as a non-enumerable global function.
	// Parameters and results are scalars (string, int, float64, bool);
	// a non-nil trailing error is thrown into the script.
	RegisterFunc(name string, fn any) error

	// SetGlobal assigns a scalar or engine value to a global.
	SetGlobal(name string, value any) error

	// RunMicrotasks drains the promise job queue.
	RunMicrotasks()
}

// Engine is one exclusively owned engine instance plus its context.
type Engine interface {
	JSRuntime

	// EvalTopLevel evaluates source as a top-level script in which await is
	// permitted. The completion is stored in globalThis[resultVar] as a
	// Promise resolving to {value: <completion value>}. Failures raised
	// before the script starts running (compile errors) are returned as
	// *ScriptError.
	EvalTopLevel(source, filename, resultVar string) error

	// Interrupt asks the engine to abort the running script at its next
	// interrupt poll. Safe to call from any goroutine.
	Interrupt()

	// ClearInterrupt discards an interrupt request that arrived after the
	// script it was meant for had already returned.
	ClearInterrupt()

	// Close frees the engine. The engine must not be used afterwards.
	Close()
}

// Limits bounds the resources of a single engine instance.
type Limits struct {
	MemoryLimit  uint64 // heap ceiling in bytes, 0 for the engine default
	MaxStackSize uint64 // stack ceiling in bytes, 0 for the engine default
}

// BinaryTransferer moves bytes between Go and an ArrayBuffer global
// without a string round trip. Both engines implement it.
type BinaryTransferer interface {
	// ReadBinaryFromJS copies the buffer at globalThis[globalName] and
	// deletes the global.
	ReadBinaryFromJS(globalName string) ([]byte, error)

	// WriteBinaryToJS stores a copy of data as an ArrayBuffer at
	// globalThis[globalName].
	WriteBinaryToJS(globalName string, data []byte) error

	// BinaryMode names the transfer buffer: "ab" for ArrayBuffer, "sab"
	// for SharedArrayBuffer.
	BinaryMode() string
}
