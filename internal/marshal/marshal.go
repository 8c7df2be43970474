// Package marshal converts values between Go and the JavaScript engine.
//
// Values cross the boundary as JSON in which every non-JSON value is a
// single-key tagged object:
//
//	{"u":1}            undefined
//	{"n":"NaN"}        NaN, Infinity, -Infinity
//	{"b":"123"}        BigInt
//	{"o":{...}}        plain object
//	{"e":{...}}        Error
//	{"p":1}            Promise
//	{"f":{...}}        File (host to script only)
//
// Arrays, strings, finite numbers, booleans and null are plain JSON.
package marshal

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// MaxSafeInteger is the largest integer a JavaScript number holds exactly.
const MaxSafeInteger = 1<<53 - 1

// ErrCycle is returned when a host value refers back to itself.
var ErrCycle = errors.New("cyclic structure cannot be converted")

var api = sonic.Config{UseNumber: true}.Froze()

// UndefinedValue is the host representation of JavaScript undefined.
type UndefinedValue struct{}

func (UndefinedValue) String() string { return "undefined" }

// NaNValue is the host representation of JavaScript NaN.
type NaNValue struct{}

func (NaNValue) String() string { return "NaN" }

// Undefined and NaN are the sentinel singletons. Being distinct empty
// struct types, they compare equal only to themselves.
var (
	Undefined UndefinedValue
	NaN       NaNValue
)

// ErrorValue is a script Error instance as seen from Go.
type ErrorValue struct {
	Name        string `json:"name"`
	Constructor string `json:"ctor"`
	Message     string `json:"message"`
	Stack       string `json:"stack"`
	HostID      int64  `json:"h"`
}

// Encoder converts host values into the wire form read by __jsvm_decode.
type Encoder struct {
	// HostError registers err and returns the id its JS Error carries.
	HostError func(err error) int64

	// Files enables conversion of *os.File into JS File objects.
	Files bool
}

// Encode returns the wire JSON for v.
func (e *Encoder) Encode(v any) (string, error) {
	w, err := e.wire(v, map[uintptr]struct{}{})
	if err != nil {
		return "", err
	}
	return api.MarshalToString(w)
}

func (e *Encoder) wire(v any, path map[uintptr]struct{}) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case UndefinedValue:
		return map[string]any{"u": 1}, nil
	case NaNValue:
		return map[string]any{"n": "NaN"}, nil
	case bool:
		return x, nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case json.Number:
		return floatWire(mustFloat(x)), nil
	case *big.Int:
		if x == nil {
			return nil, nil
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return floatWire(f), nil
	case time.Time:
		return x.UTC().Format("2006-01-02T15:04:05.000Z"), nil
	case *os.File:
		if e.Files && x != nil {
			if f, err := fileWire(x); err == nil {
				return map[string]any{"f": f}, nil
			}
		}
		return inspect(v), nil
	case error:
		var id int64
		if e.HostError != nil {
			id = e.HostError(x)
		}
		return map[string]any{"e": map[string]any{"message": x.Error(), "h": id}}, nil
	case fmt.Stringer:
		if !isContainer(v) {
			return x.String(), nil
		}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return intWire(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > MaxSafeInteger {
			return float64(u), nil
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return floatWire(rv.Float()), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Kind() == reflect.Pointer {
			ptr := rv.Pointer()
			if _, ok := path[ptr]; ok {
				return nil, ErrCycle
			}
			path[ptr] = struct{}{}
			defer delete(path, ptr)
		}
		return e.wire(rv.Elem().Interface(), path)
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes()), nil
		}
		if rv.Len() > 0 {
			ptr := rv.Pointer()
			if _, ok := path[ptr]; ok {
				return nil, ErrCycle
			}
			path[ptr] = struct{}{}
			defer delete(path, ptr)
		}
		return e.list(rv, path)
	case reflect.Array:
		return e.list(rv, path)
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		ptr := rv.Pointer()
		if _, ok := path[ptr]; ok {
			return nil, ErrCycle
		}
		path[ptr] = struct{}{}
		defer delete(path, ptr)
		return e.object(rv, path)
	case reflect.Struct:
		obj, ok, err := e.structure(rv, path)
		if err != nil {
			return nil, err
		}
		if ok {
			return obj, nil
		}
	}
	return inspect(v), nil
}

func (e *Encoder) list(rv reflect.Value, path map[uintptr]struct{}) (any, error) {
	out := make([]any, rv.Len())
	for i := range out {
		w, err := e.wire(rv.Index(i).Interface(), path)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func (e *Encoder) object(rv reflect.Value, path map[uintptr]struct{}) (any, error) {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, ok := mapKey(iter.Key())
		if !ok {
			return inspect(rv.Interface()), nil
		}
		w, err := e.wire(iter.Value().Interface(), path)
		if err != nil {
			return nil, err
		}
		out[key] = w
	}
	return map[string]any{"o": out}, nil
}

// structure converts exported fields, honoring json tags. ok is false
// when the struct has nothing exported to show.
func (e *Encoder) structure(rv reflect.Value, path map[uintptr]struct{}) (any, bool, error) {
	out := map[string]any{}
	if err := e.fields(rv, path, out); err != nil {
		return nil, false, err
	}
	if len(out) == 0 && rv.NumField() > 0 {
		return nil, false, nil
	}
	return map[string]any{"o": out}, true, nil
}

func (e *Encoder) fields(rv reflect.Value, path map[uintptr]struct{}, out map[string]any) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)
		if sf.Anonymous && name == "" && fv.Kind() == reflect.Struct {
			if err := e.fields(fv, path, out); err != nil {
				return err
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}
		if strings.Contains(opts, "omitempty") && fv.IsZero() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		w, err := e.wire(fv.Interface(), path)
		if err != nil {
			return err
		}
		out[name] = w
	}
	return nil
}

func mapKey(k reflect.Value) (string, bool) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), true
	}
	return "", false
}

func isContainer(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return true
	}
	return false
}

func intWire(n int64) any {
	if n > MaxSafeInteger || n < -MaxSafeInteger {
		return float64(n)
	}
	return n
}

func floatWire(f float64) any {
	switch {
	case math.IsNaN(f):
		return map[string]any{"n": "NaN"}
	case math.IsInf(f, 1):
		return map[string]any{"n": "Infinity"}
	case math.IsInf(f, -1):
		return map[string]any{"n": "-Infinity"}
	}
	return f
}

func mustFloat(n json.Number) float64 {
	f, err := n.Float64()
	if err != nil {
		return math.NaN()
	}
	return f
}

// inspect renders a value with no script counterpart.
func inspect(v any) string {
	return fmt.Sprintf("%#v", v)
}

func fileWire(f *os.File) (map[string]any, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"name":         info.Name(),
		"type":         DetectMIME(data, info.Name()),
		"lastModified": info.ModTime().UnixMilli(),
		"data":         base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Decoder converts wire JSON produced by __jsvm_encode into Go values.
type Decoder struct {
	// Error maps a script Error to its host value. When nil, Decode
	// returns *ErrorValue.
	Error func(ev *ErrorValue) any
}

// Decode parses wire JSON.
func (d *Decoder) Decode(s string) (any, error) {
	var raw any
	if err := api.UnmarshalFromString(s, &raw); err != nil {
		return nil, fmt.Errorf("decoding script value: %w", err)
	}
	return d.value(raw)
}

func (d *Decoder) value(w any) (any, error) {
	switch x := w.(type) {
	case nil, bool, string:
		return x, nil
	case json.Number:
		return Number(string(x)), nil
	case float64:
		return Number(strconv.FormatFloat(x, 'g', -1, 64)), nil
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			v, err := d.value(el)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		return d.tagged(x)
	}
	return nil, fmt.Errorf("unexpected wire value %T", w)
}

func (d *Decoder) tagged(m map[string]any) (any, error) {
	if len(m) != 1 {
		return nil, fmt.Errorf("malformed wire object with %d keys", len(m))
	}
	for tag, body := range m {
		switch tag {
		case "u":
			return Undefined, nil
		case "n":
			s, _ := body.(string)
			switch s {
			case "Infinity":
				return math.Inf(1), nil
			case "-Infinity":
				return math.Inf(-1), nil
			}
			return NaN, nil
		case "b":
			s, _ := body.(string)
			return BigInt(s)
		case "p":
			return map[string]any{}, nil
		case "o":
			fields, ok := body.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("malformed object body %T", body)
			}
			out := make(map[string]any, len(fields))
			for k, fv := range fields {
				v, err := d.value(fv)
				if err != nil {
					return nil, err
				}
				out[k] = v
			}
			return out, nil
		case "e":
			ev, err := errorValue(body)
			if err != nil {
				return nil, err
			}
			if d.Error != nil {
				return d.Error(ev), nil
			}
			return ev, nil
		default:
			return nil, fmt.Errorf("unknown wire tag %q", tag)
		}
	}
	return nil, nil
}

// DecodeError parses the body of an {"e": ...} record.
func DecodeError(body any) (*ErrorValue, error) {
	return errorValue(body)
}

func errorValue(body any) (*ErrorValue, error) {
	m, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("malformed error body %T", body)
	}
	ev := &ErrorValue{}
	ev.Name, _ = m["name"].(string)
	ev.Constructor, _ = m["ctor"].(string)
	ev.Message, _ = m["message"].(string)
	ev.Stack, _ = m["stack"].(string)
	switch h := m["h"].(type) {
	case json.Number:
		ev.HostID, _ = h.Int64()
	case float64:
		ev.HostID = int64(h)
	}
	return ev, nil
}

// Number converts a JSON number literal to int64 when it is integral and
// exactly representable in a script, float64 otherwise.
func Number(s string) any {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil && i <= MaxSafeInteger && i >= -MaxSafeInteger {
			return i
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return NaN
	}
	if f == math.Trunc(f) && math.Abs(f) <= MaxSafeInteger {
		return int64(f)
	}
	return f
}

// BigInt converts a decimal BigInt literal to int64 when it fits and to
// *big.Int otherwise.
func BigInt(s string) (any, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed BigInt %q", s)
	}
	if n.IsInt64() {
		return n.Int64(), nil
	}
	return n, nil
}

// Outcome is the settled result of a top-level evaluation as reported by
// __jsvm_outcome.
type Outcome struct {
	Value      any
	NotAwaited bool // the completion value was itself a Promise
	Pending    bool // the top level had not settled yet

	Threw   bool
	Error   *ErrorValue // set when the thrown value was an Error
	Display string      // String(thrown) for anything else
}

// DecodeOutcome parses the JSON produced by __jsvm_outcome.
func (d *Decoder) DecodeOutcome(s string) (Outcome, error) {
	var raw map[string]any
	if err := api.UnmarshalFromString(s, &raw); err != nil {
		return Outcome{}, fmt.Errorf("decoding evaluation outcome: %w", err)
	}
	if _, ok := raw["pending"]; ok {
		return Outcome{Pending: true}, nil
	}
	if _, ok := raw["np"]; ok {
		return Outcome{NotAwaited: true}, nil
	}
	if x, ok := raw["x"].(map[string]any); ok {
		out := Outcome{Threw: true}
		if body, ok := x["e"]; ok {
			ev, err := errorValue(body)
			if err != nil {
				return Outcome{}, err
			}
			out.Error = ev
			return out, nil
		}
		out.Display, _ = x["t"].(string)
		return out, nil
	}
	body, ok := raw["ok"]
	if !ok {
		return Outcome{}, fmt.Errorf("malformed evaluation outcome %q", s)
	}
	v, err := d.value(body)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Value: v}, nil
}
