package jsvm

import (
	"errors"
	"strings"
	"testing"
)

const fixtureModule = `export const member = () => "I am a exported member of ESM.";
export const defaultMember = () => "I am a default export of ESM.";
export default defaultMember;

const thrower = () => {
  throw new Error("unpleasant wrapped error");
}

export const wrapError = () => {
  thrower();
}
`

func mustImport(t *testing.T, v *VM, sel Selection, opts ...ImportOption) {
	t.Helper()
	if err := v.ImportModule(sel, fixtureModule, opts...); err != nil {
		t.Fatalf("ImportModule(%v): %v", sel, err)
	}
}

func TestImportModule_Named(t *testing.T) {
	v := newTestVM(t, Config{})
	mustImport(t, v, Named("defaultMember", "member"))

	assertEval(t, v, "defaultMember()", "I am a default export of ESM.")
	assertEval(t, v, "member()", "I am a exported member of ESM.")
}

func TestImportModule_Aliased(t *testing.T) {
	v := newTestVM(t, Config{})
	mustImport(t, v, Aliased(map[string]string{"default": "aliasedDefault", "member": "aliasedMember"}))

	assertEval(t, v, "aliasedDefault()", "I am a default export of ESM.")
	assertEval(t, v, "aliasedMember()", "I am a exported member of ESM.")
	assertEval(t, v, "typeof member", "undefined")
}

func TestImportModule_Namespace(t *testing.T) {
	v := newTestVM(t, Config{})
	mustImport(t, v, Namespace("all"))

	assertEval(t, v, "all.default()", "I am a default export of ESM.")
	assertEval(t, v, "all.defaultMember()", "I am a default export of ESM.")
	assertEval(t, v, "all.member()", "I am a exported member of ESM.")
}

func TestImportModule_Default(t *testing.T) {
	v := newTestVM(t, Config{})
	mustImport(t, v, Default("Imported"))

	assertEval(t, v, "Imported()", "I am a default export of ESM.")
}

func TestImportModule_CustomExposure(t *testing.T) {
	v := newTestVM(t, Config{})
	mustImport(t, v, Default("Imported"), WithExposure("globalThis.RenamedImported = Imported;"))

	assertEval(t, v, "RenamedImported()", "I am a default export of ESM.")
	assertEval(t, v, "!!globalThis.Imported", false)
}

func TestImportModule_ParsedSelection(t *testing.T) {
	tests := []struct {
		clause string
		check  string
	}{
		{"Imported", "Imported()"},
		{"* as all", "all.member()"},
		{"{ member }", "member()"},
		{"{ member as m, default as d }", "m() + d()"},
	}
	for _, tt := range tests {
		t.Run(tt.clause, func(t *testing.T) {
			sel, err := ParseSelection(tt.clause)
			if err != nil {
				t.Fatalf("ParseSelection: %v", err)
			}
			v := newTestVM(t, Config{})
			mustImport(t, v, sel)
			if got, ok := mustEval(t, v, tt.check).(string); !ok || !strings.Contains(got, "ESM.") {
				t.Errorf("%s = %#v", tt.check, got)
			}
		})
	}
}

func TestImportModule_MissingExport(t *testing.T) {
	v := newTestVM(t, Config{})

	err := v.ImportModule(Named("nope"), fixtureModule)
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindReference {
		t.Fatalf("err = %v, want a reference error", err)
	}
	if !strings.Contains(e.Message, "'nope' is not exported") {
		t.Errorf("message = %q", e.Message)
	}
}

func TestImportModule_SyntaxError(t *testing.T) {
	v := newTestVM(t, Config{})

	err := v.ImportModule(Default("x"), "export default }{")
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindSyntax {
		t.Fatalf("err = %v, want a syntax error", err)
	}
	if len(v.Logs()) != 1 {
		t.Errorf("logs = %v", v.Logs())
	}
}

func TestImportModule_InvalidArguments(t *testing.T) {
	v := newTestVM(t, Config{})

	for name, err := range map[string]error{
		"nil selection": v.ImportModule(nil, fixtureModule),
		"empty source":  v.ImportModule(Default("x"), "  \n"),
		"bad name":      v.ImportModule(Default("not valid"), fixtureModule),
		"empty named":   v.ImportModule(Named(), fixtureModule),
	} {
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: err = %v, want ErrInvalidArgument", name, err)
		}
	}
}

func TestImportModule_ThrowFromImportedFunction(t *testing.T) {
	v := newTestVM(t, Config{})
	mustImport(t, v, Named("wrapError"))

	_, err := v.Evaluate("wrapError()")
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if e.Message != "unpleasant wrapped error" {
		t.Errorf("message = %q", e.Message)
	}

	logs := v.Logs()
	if len(logs) != 1 {
		t.Fatalf("len(Logs) = %d, want 1", len(logs))
	}
	lines := strings.Split(logs[0].Raw[0].(string), "\n")
	if lines[0] != "Uncaught Error: unpleasant wrapped error" {
		t.Errorf("header = %q", lines[0])
	}
	if len(lines) < 3 {
		t.Fatalf("frames = %q", lines[1:])
	}
	for _, l := range lines[1:] {
		if !strings.HasPrefix(l, "    at ") {
			t.Errorf("frame %q", l)
		}
	}
	if !strings.Contains(lines[1], "thrower") || !strings.Contains(lines[2], "wrapError") {
		t.Errorf("frames = %q", lines[1:3])
	}
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		clause string
		want   string
	}{
		{"Imported", "Imported"},
		{"  * as ns ", "* as ns"},
		{"{ a, b }", "{ a, b }"},
		{"{a as b}", "{ a as b }"},
		{"{ a as a }", "{ a }"},
	}
	for _, tt := range tests {
		sel, err := ParseSelection(tt.clause)
		if err != nil {
			t.Errorf("ParseSelection(%q): %v", tt.clause, err)
			continue
		}
		if sel.String() != tt.want {
			t.Errorf("ParseSelection(%q) = %q, want %q", tt.clause, sel.String(), tt.want)
		}
	}

	for _, bad := range []string{"", "{ a", "* as", "1abc", "{ a as 9 }"} {
		if _, err := ParseSelection(bad); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("ParseSelection(%q) err = %v", bad, err)
		}
	}
}
