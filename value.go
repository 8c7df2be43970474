package jsvm

import "github.com/cryguy/jsvm/internal/marshal"

// UndefinedValue is the type of Undefined.
type UndefinedValue = marshal.UndefinedValue

// NaNValue is the type of NaN.
type NaNValue = marshal.NaNValue

var (
	// Undefined is the host form of the script value undefined. It passes
	// back into a script as undefined.
	Undefined = marshal.Undefined

	// NaN is the host form of the script value NaN. It is distinct from
	// math.NaN(), which never compares equal to anything.
	NaN = marshal.NaN
)

// MaxSafeInteger is the largest integer a script number holds exactly.
// Larger host integers cross into a script as floats.
const MaxSafeInteger = marshal.MaxSafeInteger

// ErrCycle is the cause of the error raised when a host function returns
// a value that refers back to itself.
var ErrCycle = marshal.ErrCycle
