package jsvm

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MemoryLimit != DefaultMemoryLimit || cfg.MaxStackSize != DefaultMaxStackSize {
		t.Errorf("limits = %d/%d", cfg.MemoryLimit, cfg.MaxStackSize)
	}
	if cfg.MaxLogEntries != 0 {
		t.Errorf("MaxLogEntries = %d, want unbounded", cfg.MaxLogEntries)
	}
	if cfg.Timeout != 0 || len(cfg.Features) != 0 {
		t.Errorf("timeout %v, features %v", cfg.Timeout, cfg.Features)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("JSVM_MEMORY_LIMIT", "67108864")
	t.Setenv("JSVM_TIMEOUT", "750ms")
	t.Setenv("JSVM_FEATURES", "std,os")
	t.Setenv("JSVM_MAX_LOG_ENTRIES", "42")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MemoryLimit != 64<<20 {
		t.Errorf("MemoryLimit = %d", cfg.MemoryLimit)
	}
	if cfg.Timeout != 750*time.Millisecond {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
	if !reflect.DeepEqual(cfg.Features, []Feature{FeatureStd, FeatureOS}) {
		t.Errorf("Features = %v", cfg.Features)
	}
	if cfg.MaxLogEntries != 42 {
		t.Errorf("MaxLogEntries = %d", cfg.MaxLogEntries)
	}
	if cfg.MaxStackSize != DefaultMaxStackSize {
		t.Errorf("MaxStackSize = %d, want default", cfg.MaxStackSize)
	}
}

func TestLoadConfig_EnvLogLevel(t *testing.T) {
	t.Setenv("JSVM_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Logger == nil {
		t.Fatal("Logger not built")
	}
	if !cfg.Logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level not enabled")
	}
}

func TestLoadConfig_EnvInvalidFeature(t *testing.T) {
	t.Setenv("JSVM_FEATURES", "std,teleport")

	_, err := LoadConfig()
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	if !strings.Contains(err.Error(), "teleport") {
		t.Errorf("err = %v", err)
	}
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFile_TOML(t *testing.T) {
	path := writeConfig(t, "vm.toml", `
memory_limit = 33554432
timeout = "2s"
features = ["timeout", "polyfill-intl"]
work_dir = "/tmp"
`)
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.MemoryLimit != 32<<20 || cfg.Timeout != 2*time.Second || cfg.WorkDir != "/tmp" {
		t.Errorf("cfg = %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Features, []Feature{FeatureTimeout, FeatureIntl}) {
		t.Errorf("Features = %v", cfg.Features)
	}
}

func TestLoadConfigFile_YAML(t *testing.T) {
	path := writeConfig(t, "vm.yaml", `
max_stack_size: 1048576
timeout: 500ms
features:
  - polyfill-base64
  - polyfill-file
`)
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.MaxStackSize != 1<<20 || cfg.Timeout != 500*time.Millisecond {
		t.Errorf("cfg = %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Features, []Feature{FeatureBase64, FeatureFile}) {
		t.Errorf("Features = %v", cfg.Features)
	}
}

func TestLoadConfigFile_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "vm.toml", `timeout = "2s"`)
	t.Setenv("JSVM_TIMEOUT", "1s")

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Timeout != time.Second {
		t.Errorf("Timeout = %v, want the env value", cfg.Timeout)
	}
}

func TestLoadConfigFile_Errors(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file: expected an error")
	}
	if _, err := LoadConfigFile(writeConfig(t, "vm.ini", "x=1")); err == nil {
		t.Error("unknown extension: expected an error")
	}
	if _, err := LoadConfigFile(writeConfig(t, "vm.toml", "memory_limit = [")); err == nil {
		t.Error("bad toml: expected an error")
	}
}

func TestConfig_ValidateJoinsProblems(t *testing.T) {
	err := Config{MemoryLimit: -1, MaxStackSize: -1, Features: []Feature{"x"}}.Validate()
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
	for _, want := range []string{"memory limit", "max stack size", `"x"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err %q does not mention %s", err, want)
		}
	}
}
