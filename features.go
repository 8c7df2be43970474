package jsvm

import (
	"os"

	"github.com/cryguy/jsvm/internal/core"
	"github.com/cryguy/jsvm/internal/eventloop"
	"github.com/cryguy/jsvm/internal/webapi"
)

// Feature is an opt-in capability installed at construction.
type Feature string

const (
	// FeatureStd exposes the std namespace: files, environment, urlGet.
	FeatureStd Feature = "std"
	// FeatureOS exposes the os namespace: filesystem, processes, signals
	// and os.setTimeout.
	FeatureOS Feature = "os"
	// FeatureTimeout exposes the global setTimeout family.
	FeatureTimeout Feature = "timeout"
	// FeatureIntl installs a Go-backed Intl.
	FeatureIntl Feature = "polyfill-intl"
	// FeatureFile installs Blob, File and FileReader, and lets *os.File
	// values cross into scripts as File objects.
	FeatureFile Feature = "polyfill-file"
	// FeatureBase64 installs atob and btoa.
	FeatureBase64 Feature = "polyfill-base64"
)

// featureOrder is the installation order. Features later in the list may
// rely on earlier ones.
var featureOrder = []Feature{
	FeatureTimeout,
	FeatureOS,
	FeatureStd,
	FeatureBase64,
	FeatureFile,
	FeatureIntl,
}

func (f Feature) known() bool {
	for _, k := range featureOrder {
		if f == k {
			return true
		}
	}
	return false
}

// setupFunc installs one piece of the script environment.
type setupFunc func(rt core.JSRuntime, el *eventloop.EventLoop) error

// buildSetupFuncs returns the setup functions for the enabled features,
// each once, in installation order.
func (v *VM) buildSetupFuncs() []setupFunc {
	enabled := make(map[Feature]bool, len(v.cfg.Features))
	for _, f := range v.cfg.Features {
		enabled[f] = true
	}

	var fns []setupFunc
	for _, f := range featureOrder {
		if !enabled[f] {
			continue
		}
		switch f {
		case FeatureTimeout:
			fns = append(fns, webapi.SetupTimers)
		case FeatureOS:
			fns = append(fns, func(rt core.JSRuntime, el *eventloop.EventLoop) error {
				return webapi.SetupOS(rt, el, v.namespaceHost())
			})
		case FeatureStd:
			fns = append(fns, func(rt core.JSRuntime, _ *eventloop.EventLoop) error {
				return webapi.SetupStd(rt, v.namespaceHost())
			})
		case FeatureBase64:
			fns = append(fns, noLoop(webapi.SetupBase64))
		case FeatureFile:
			fns = append(fns, noLoop(webapi.SetupBlob))
		case FeatureIntl:
			fns = append(fns, noLoop(webapi.SetupIntl))
		}
	}
	return fns
}

func noLoop(fn func(core.JSRuntime) error) setupFunc {
	return func(rt core.JSRuntime, _ *eventloop.EventLoop) error { return fn(rt) }
}

func (v *VM) hasFeature(f Feature) bool {
	for _, e := range v.cfg.Features {
		if e == f {
			return true
		}
	}
	return false
}

// namespaceHost returns the state shared by std and os, creating it on
// first use.
func (v *VM) namespaceHost() *webapi.Host {
	if v.host != nil {
		return v.host
	}
	dir := v.cfg.WorkDir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	v.host = webapi.NewHost(dir, v.cfg.HTTPTimeout, v.logger)
	v.host.Context = v.callContext
	return v.host
}
