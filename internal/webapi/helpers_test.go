//go:build !v8

package webapi

import (
	"context"
	"testing"
	"time"

	"github.com/cryguy/jsvm/internal/core"
	"github.com/cryguy/jsvm/internal/eventloop"
	"github.com/cryguy/jsvm/internal/marshal"
	"github.com/cryguy/jsvm/internal/quickjs"
)

func newRuntime(t *testing.T) core.Engine {
	t.Helper()
	rt, err := quickjs.New(core.Limits{})
	if err != nil {
		t.Fatalf("quickjs.New: %v", err)
	}
	t.Cleanup(rt.Close)
	if err := marshal.Setup(rt); err != nil {
		t.Fatalf("marshal.Setup: %v", err)
	}
	return rt
}

func evalString(t *testing.T, rt core.JSRuntime, js string) string {
	t.Helper()
	s, err := rt.EvalString(js)
	if err != nil {
		t.Fatalf("EvalString(%q): %v", js, err)
	}
	return s
}

func evalBool(t *testing.T, rt core.JSRuntime, js string) bool {
	t.Helper()
	b, err := rt.EvalBool(js)
	if err != nil {
		t.Fatalf("EvalBool(%q): %v", js, err)
	}
	return b
}

func mustEval(t *testing.T, rt core.JSRuntime, js string) {
	t.Helper()
	if err := rt.Eval(js); err != nil {
		t.Fatalf("Eval(%q): %v", js, err)
	}
}

// runUntil drives el until cond evaluates to true in rt.
func runUntil(t *testing.T, rt core.JSRuntime, el *eventloop.EventLoop, cond string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := el.RunUntil(ctx, rt, func() bool {
		ok, err := rt.EvalBool(cond)
		return err == nil && ok
	})
	if err != nil {
		t.Fatalf("RunUntil(%q): %v", cond, err)
	}
}
