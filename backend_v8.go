//go:build v8

package jsvm

import (
	"github.com/cryguy/jsvm/internal/core"
	"github.com/cryguy/jsvm/internal/v8engine"
)

func newEngine(limits core.Limits) (core.Engine, error) {
	return v8engine.New(limits)
}
