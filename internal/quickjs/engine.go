//go:build !v8

package quickjs

import (
	"fmt"

	"modernc.org/quickjs"

	"github.com/cryguy/jsvm/internal/core"
)

// New creates a QuickJS engine bounded by limits.
func New(limits core.Limits) (core.Engine, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	h, err := handlesOf(vm)
	if err != nil {
		vm.Close()
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}

	if limits.MemoryLimit > 0 {
		vm.SetMemoryLimit(uintptr(limits.MemoryLimit))
	}
	if limits.MaxStackSize > 0 {
		h.setMaxStackSize(limits.MaxStackSize)
	}
	return &qjsRuntime{vm: vm, c: h}, nil
}
