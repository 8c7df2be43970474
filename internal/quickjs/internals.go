//go:build !v8

package quickjs

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

var errLayout = errors.New("unexpected quickjs.VM layout")

// cHandles are the C-side pointers the Go wrapper keeps unexported. The
// wrapper never runs JS_ExecutePendingJob and has no stack or ArrayBuffer
// API, so those go straight to libquickjs.
type cHandles struct {
	tls *libc.TLS
	rt  uintptr // JSRuntime*
	ctx uintptr // JSContext*
}

// handlesOf reads cHandles out of vm. Layout as of modernc.org/quickjs
// v0.17.1:
//
//	type VM struct {
//	    cContext uintptr
//	    ...
//	    runtime  *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func handlesOf(vm *quickjs.VM) (h cHandles, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errLayout, p)
		}
	}()

	v := reflect.ValueOf(vm).Elem()
	cctx := v.FieldByName("cContext")
	rtf := v.FieldByName("runtime")
	if !cctx.IsValid() || !rtf.IsValid() || rtf.IsNil() {
		return h, errLayout
	}
	rt := reflect.NewAt(rtf.Type().Elem(), unsafe.Pointer(rtf.Pointer())).Elem()
	crt := rt.FieldByName("cRuntime")
	tls := rt.FieldByName("tls")
	if !crt.IsValid() || !tls.IsValid() || tls.IsNil() {
		return h, errLayout
	}

	h = cHandles{
		tls: (*libc.TLS)(unsafe.Pointer(tls.Pointer())),
		rt:  uintptr(crt.Uint()),
		ctx: uintptr(cctx.Uint()),
	}
	if h.rt == 0 || h.ctx == 0 {
		return cHandles{}, errLayout
	}
	return h, nil
}

// pumpJobs runs queued jobs until the queue is empty or a job throws; an
// interrupted job throws too.
func (h cHandles) pumpJobs() int {
	n := 0
	for lib.XJS_ExecutePendingJob(h.tls, h.rt, 0) > 0 {
		n++
	}
	return n
}

func (h cHandles) setMaxStackSize(size uint64) {
	lib.XJS_SetMaxStackSize(h.tls, h.rt, lib.Tsize_t(size))
}

// newArrayBuffer stores a copy of data at globalThis[name].
func (h cHandles) newArrayBuffer(name string, data []byte) error {
	cName, err := libc.CString(name)
	if err != nil {
		return fmt.Errorf("allocating property name: %w", err)
	}
	defer libc.Xfree(h.tls, cName)

	var ptr uintptr
	if len(data) > 0 {
		ptr = uintptr(unsafe.Pointer(&data[0]))
	}
	buf := lib.XJS_NewArrayBufferCopy(h.tls, h.ctx, ptr, lib.Tsize_t(len(data)))
	glob := lib.XJS_GetGlobalObject(h.tls, h.ctx)
	defer lib.XFreeValue(h.tls, h.ctx, glob)
	// Takes ownership of buf.
	if lib.XJS_SetPropertyStr(h.tls, h.ctx, glob, cName, buf) < 0 {
		return fmt.Errorf("setting global %q", name)
	}
	return nil
}

// arrayBufferBytes copies the ArrayBuffer at globalThis[name]. A missing
// or empty buffer reads as nil.
func (h cHandles) arrayBufferBytes(name string) ([]byte, error) {
	cName, err := libc.CString(name)
	if err != nil {
		return nil, fmt.Errorf("allocating property name: %w", err)
	}
	defer libc.Xfree(h.tls, cName)

	glob := lib.XJS_GetGlobalObject(h.tls, h.ctx)
	val := lib.XJS_GetPropertyStr(h.tls, h.ctx, glob, cName)
	lib.XFreeValue(h.tls, h.ctx, glob)
	defer lib.XFreeValue(h.tls, h.ctx, val)

	var size lib.Tsize_t
	data := lib.XJS_GetArrayBuffer(h.tls, h.ctx, uintptr(unsafe.Pointer(&size)), val)
	if data == 0 || size == 0 {
		return nil, nil
	}
	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(data)), size)...), nil
}
