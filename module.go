package jsvm

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryguy/jsvm/internal/core"
	"github.com/cryguy/jsvm/internal/webapi"
)

// Selection chooses which exports of an imported module become globals,
// and under which names.
type Selection interface {
	bindings() ([]binding, error)
	String() string
}

// binding copies export into the local name. An export of "*" binds the
// whole namespace.
type binding struct {
	export string
	local  string
}

type defaultSelection struct{ name string }

// Default selects the default export, as in `import name from '...'`.
func Default(name string) Selection { return defaultSelection{name} }

func (s defaultSelection) bindings() ([]binding, error) {
	if !validIdentifier(s.name) {
		return nil, invalidArgument("invalid import name %q", s.name)
	}
	return []binding{{export: "default", local: s.name}}, nil
}

func (s defaultSelection) String() string { return s.name }

type namedSelection struct{ names []string }

// Named selects each export under its own name, as in
// `import { a, b } from '...'`.
func Named(names ...string) Selection { return namedSelection{names} }

func (s namedSelection) bindings() ([]binding, error) {
	if len(s.names) == 0 {
		return nil, invalidArgument("empty import selection")
	}
	out := make([]binding, 0, len(s.names))
	for _, n := range s.names {
		if !validIdentifier(n) {
			return nil, invalidArgument("invalid import name %q", n)
		}
		out = append(out, binding{export: n, local: n})
	}
	return out, nil
}

func (s namedSelection) String() string { return "{ " + strings.Join(s.names, ", ") + " }" }

type aliasedSelection struct{ aliases map[string]string }

// Aliased selects each export key under its alias value, as in
// `import { a as b, default as c } from '...'`.
func Aliased(aliases map[string]string) Selection { return aliasedSelection{aliases} }

func (s aliasedSelection) bindings() ([]binding, error) {
	if len(s.aliases) == 0 {
		return nil, invalidArgument("empty import selection")
	}
	out := make([]binding, 0, len(s.aliases))
	for export, local := range s.aliases {
		if export == "" {
			return nil, invalidArgument("empty export name")
		}
		if !validIdentifier(local) {
			return nil, invalidArgument("invalid import alias %q", local)
		}
		out = append(out, binding{export: export, local: local})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].local < out[j].local })
	return out, nil
}

func (s aliasedSelection) String() string {
	b, _ := s.bindings()
	parts := make([]string, len(b))
	for i, x := range b {
		parts[i] = x.export + " as " + x.local
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

type namespaceSelection struct{ alias string }

// Namespace selects the whole module namespace, as in
// `import * as alias from '...'`.
func Namespace(alias string) Selection { return namespaceSelection{alias} }

func (s namespaceSelection) bindings() ([]binding, error) {
	if !validIdentifier(s.alias) {
		return nil, invalidArgument("invalid namespace alias %q", s.alias)
	}
	return []binding{{export: "*", local: s.alias}}, nil
}

func (s namespaceSelection) String() string { return "* as " + s.alias }

var (
	namespaceRe = regexp.MustCompile(`^\*\s*as\s+(\S+)$`)
	aliasRe     = regexp.MustCompile(`^(\S+)\s+as\s+(\S+)$`)
)

// ParseSelection parses the clause between `import` and `from`:
// `name`, `* as name` or `{ a, b as c }`.
func ParseSelection(s string) (Selection, error) {
	s = strings.TrimSpace(s)
	if m := namespaceRe.FindStringSubmatch(s); m != nil {
		return Namespace(m[1]), nil
	}
	if !strings.HasPrefix(s, "{") {
		sel := Default(s)
		if _, err := sel.bindings(); err != nil {
			return nil, err
		}
		return sel, nil
	}
	if !strings.HasSuffix(s, "}") {
		return nil, invalidArgument("unterminated import selection %q", s)
	}

	var names []string
	aliases := map[string]string{}
	renamed := false
	for _, part := range strings.Split(s[1:len(s)-1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		export, local := part, part
		if m := aliasRe.FindStringSubmatch(part); m != nil {
			export, local = m[1], m[2]
			renamed = renamed || export != local
		}
		names = append(names, local)
		aliases[export] = local
	}
	var sel Selection = Named(names...)
	if renamed {
		sel = Aliased(aliases)
	}
	if _, err := sel.bindings(); err != nil {
		return nil, err
	}
	return sel, nil
}

type importOptions struct {
	exposure string
}

// ImportOption configures ImportModule.
type ImportOption func(*importOptions)

// WithExposure replaces the default globalization of the selected
// bindings with code. The bindings are in scope for it.
func WithExposure(code string) ImportOption {
	return func(o *importOptions) { o.exposure = code }
}

// moduleGlue copies the selected bindings out of the parked namespace.
// %[1]q is the hidden global, %[2]s the module id, %[3]s the binding
// declarations and %[4]s the exposure code.
const moduleGlue = `
;(function() {
	var __ns = globalThis[%[1]q];
	delete globalThis[%[1]q];
	function __pick(name) {
		if (!__ns || !Object.prototype.hasOwnProperty.call(__ns, name)) {
			throw new ReferenceError("'" + name + "' is not exported by module %[2]s");
		}
		return __ns[name];
	}
%[3]s
%[4]s
})();
`

// ImportModule evaluates an ES module and exposes the selected exports.
// By default each selected binding becomes a global of its local name.
func (v *VM) ImportModule(sel Selection, source string, opts ...ImportOption) error {
	if err := v.acquire(); err != nil {
		return err
	}
	defer v.release()

	if sel == nil {
		return invalidArgument("missing import selection")
	}
	if strings.TrimSpace(source) == "" {
		return invalidArgument("missing import source")
	}
	bindings, err := sel.bindings()
	if err != nil {
		return err
	}
	var o importOptions
	for _, opt := range opts {
		opt(&o)
	}

	id := moduleID()
	wrapped, err := webapi.WrapModule(source, id)
	if err != nil {
		var se *core.ScriptError
		if errors.As(err, &se) {
			e := errorFromScript(se)
			v.logUncaught(uncaughtText(e))
			return e
		}
		return fmt.Errorf("compiling module: %w", err)
	}

	var decls, expose strings.Builder
	for _, b := range bindings {
		if b.export == "*" {
			fmt.Fprintf(&decls, "\tvar %s = __ns;\n", b.local)
		} else {
			fmt.Fprintf(&decls, "\tvar %s = __pick(%q);\n", b.local, b.export)
		}
		fmt.Fprintf(&expose, "\tglobalThis[%q] = %s;\n", b.local, b.local)
	}
	if o.exposure != "" {
		expose.Reset()
		expose.WriteString(o.exposure)
	}
	script := wrapped + fmt.Sprintf(moduleGlue, webapi.ModuleGlobal(id), id, decls.String(), expose.String())

	if _, err := v.run(script, id); err != nil {
		return err
	}
	v.metrics.moduleImport()
	v.logger.Debug("module imported", zap.String("module", id), zap.Stringer("selection", sel))
	return nil
}

// moduleID returns a 12-character alphanumeric id.
func moduleID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
