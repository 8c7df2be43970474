//go:build !v8

package jsvm

import (
	"github.com/cryguy/jsvm/internal/core"
	"github.com/cryguy/jsvm/internal/quickjs"
)

func newEngine(limits core.Limits) (core.Engine, error) {
	return quickjs.New(limits)
}
