package webapi

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/jsvm/internal/core"
)

// ModuleGlobal is the hidden global an imported module's namespace is
// parked in until its bindings are exposed.
func ModuleGlobal(id string) string {
	return "__jsvm_mod_" + id
}

// WrapModule transforms an ES module source into a script that assigns
// the module namespace to globalThis[ModuleGlobal(id)]. It uses esbuild's
// Transform API to parse the module and emit it as an IIFE, with id as the
// source file name in diagnostics. A module using top-level await cannot
// be an IIFE; it is bundled as ESM and run inside an awaited async
// function instead, so the script needs top-level await itself.
//
// esbuild errors are returned as a *core.ScriptError named SyntaxError.
func WrapModule(source, id string) (string, error) {
	result := api.Transform(source, api.TransformOptions{
		Format:     api.FormatIIFE,
		GlobalName: "globalThis." + ModuleGlobal(id),
		Target:     api.ESNext,
		Loader:     api.LoaderJS,
		Sourcefile: id,
	})
	switch {
	case len(result.Errors) == 0:
		return string(result.Code), nil
	case onlyTopLevelAwait(result.Errors):
		return wrapAsyncModule(source, id)
	}
	return "", syntaxError(result.Errors)
}

// moduleNamespace is the esbuild namespace the module source is loaded
// from when bundling.
const moduleNamespace = "jsvm"

func wrapAsyncModule(source, id string) (string, error) {
	entry := fmt.Sprintf("import * as ns from %q;\nglobalThis[%q] = ns;\n", id, ModuleGlobal(id))
	result := api.Build(api.BuildOptions{
		Stdin:       &api.StdinOptions{Contents: entry, Sourcefile: "<import>", Loader: api.LoaderJS},
		Bundle:      true,
		Write:       false,
		Format:      api.FormatESModule,
		Platform:    api.PlatformNeutral,
		Target:      api.ESNext,
		TreeShaking: api.TreeShakingFalse,
		LogLevel:    api.LogLevelSilent,
		Plugins: []api.Plugin{{
			Name: "jsvm-module",
			Setup: func(b api.PluginBuild) {
				b.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					if args.Path != id {
						return api.OnResolveResult{}, fmt.Errorf("cannot import %q from an imported module", args.Path)
					}
					return api.OnResolveResult{Path: id, Namespace: moduleNamespace}, nil
				})
				b.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: moduleNamespace}, func(api.OnLoadArgs) (api.OnLoadResult, error) {
					return api.OnLoadResult{Contents: &source, Loader: api.LoaderJS}, nil
				})
			},
		}},
	})
	if len(result.Errors) > 0 {
		return "", syntaxError(result.Errors)
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling module %s: no output", id)
	}
	return "await (async () => {\n\"use strict\";\n" + string(result.OutputFiles[0].Contents) + "\n})();\n", nil
}

func onlyTopLevelAwait(msgs []api.Message) bool {
	for _, m := range msgs {
		if !strings.HasPrefix(m.Text, "Top-level await is currently not supported") {
			return false
		}
	}
	return true
}

func syntaxError(msgs []api.Message) *core.ScriptError {
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		texts = append(texts, formatMessage(m))
	}
	return &core.ScriptError{Name: "SyntaxError", Message: strings.Join(texts, "; ")}
}

func formatMessage(m api.Message) string {
	if m.Location == nil {
		return m.Text
	}
	return fmt.Sprintf("%s (%s:%d:%d)", m.Text, m.Location.File, m.Location.Line, m.Location.Column)
}
