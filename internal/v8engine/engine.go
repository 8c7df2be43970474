//go:build v8

package v8engine

import (
	v8 "github.com/tommie/v8go"

	"github.com/cryguy/jsvm/internal/core"
)

// New creates a V8 isolate and context bounded by limits. V8 sizes its
// own stack, so MaxStackSize is not applied.
func New(limits core.Limits) (core.Engine, error) {
	var iso *v8.Isolate
	if limits.MemoryLimit > 0 {
		iso = v8.NewIsolate(v8.WithResourceConstraints(limits.MemoryLimit/2, limits.MemoryLimit))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)
	return &v8Runtime{iso: iso, ctx: ctx}, nil
}
