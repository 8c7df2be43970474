package webapi

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/jsvm/internal/core"
	"github.com/cryguy/jsvm/internal/eventloop"
)

const osJS = `
(function() {
	var call = %s;
	var t = globalThis.__jsvm_timers;
	var os = {
		platform: call('platform'),
		getcwd: function() { return call('getcwd'); },
		chdir: function(path) { return call('chdir', String(path)); },
		mkdir: function(path, mode) { return call('mkdir', String(path), mode === undefined ? 511 : Number(mode)); },
		remove: function(path) { return call('remove', String(path)); },
		rename: function(oldPath, newPath) { return call('rename', String(oldPath), String(newPath)); },
		readdir: function(path) { return call('readdir', String(path)); },
		stat: function(path) { return call('stat', String(path), false); },
		lstat: function(path) { return call('stat', String(path), true); },
		realpath: function(path) { return call('realpath', String(path)); },
		readlink: function(path) { return call('readlink', String(path)); },
		symlink: function(target, linkpath) { return call('symlink', String(target), String(linkpath)); },
		getpid: function() { return call('getpid'); },
		kill: function(pid, sig) { return call('kill', Number(pid), Number(sig)); },
		exec: function(args, options) {
			if (!Array.isArray(args)) throw new TypeError('exec: args must be an array');
			return call('exec', args.map(String), options || {});
		},
		sleep: function(ms) { call('sleep', Number(ms) || 0); },
		sleepAsync: function(ms) {
			return new Promise(function(resolve) { t.setTimeout(resolve, ms); });
		},
		now: function() { return call('now'); },
		setTimeout: t.setTimeout,
		clearTimeout: t.clearTimeout,
		SIGINT: 2, SIGABRT: 6, SIGFPE: 8, SIGILL: 4, SIGSEGV: 11, SIGTERM: 15,
		SIGQUIT: 3, SIGPIPE: 13, SIGALRM: 14, SIGUSR1: 10, SIGUSR2: 12,
		SIGCHLD: 17, SIGCONT: 18, SIGSTOP: 19, SIGTSTP: 20, SIGTTIN: 21, SIGTTOU: 22, SIGKILL: 9,
		S_IFMT: 61440, S_IFIFO: 4096, S_IFCHR: 8192, S_IFDIR: 16384, S_IFBLK: 24576,
		S_IFREG: 32768, S_IFSOCK: 49152, S_IFLNK: 40960
	};
	Object.defineProperty(globalThis, 'os', { value: os, writable: true, configurable: true, enumerable: false });
})();
`

// SetupOS installs the os namespace. Its timers share the event loop with
// the global timers but are only reachable as os.setTimeout.
func SetupOS(rt core.JSRuntime, el *eventloop.EventLoop, h *Host) error {
	if err := setupTimerCore(rt, el); err != nil {
		return err
	}
	o := &osNamespace{h: h}
	if err := registerNamespace(rt, "__jsvm_os", o.ops()); err != nil {
		return err
	}
	return rt.Eval(fmt.Sprintf(osJS, fmt.Sprintf(namespaceCallJS, "__jsvm_os")))
}

type osNamespace struct {
	h *Host
}

func (o *osNamespace) ops() map[string]nsOp {
	return map[string]nsOp{
		"platform": func([]any) (any, error) { return platform(), nil },
		"getcwd":   func([]any) (any, error) { return []any{o.h.Cwd(), 0}, nil },
		"getpid":   func([]any) (any, error) { return os.Getpid(), nil },
		"now": func([]any) (any, error) {
			return float64(time.Since(o.h.start).Microseconds()) / 1000, nil
		},
		"chdir":    o.chdir,
		"mkdir":    o.mkdir,
		"remove":   o.remove,
		"rename":   o.rename,
		"readdir":  o.readdir,
		"stat":     o.stat,
		"realpath": o.realpath,
		"readlink": o.readlink,
		"symlink":  o.symlink,
		"kill":     o.kill,
		"exec":     o.exec,
		"sleep":    o.sleep,
	}
}

func platform() string {
	switch runtime.GOOS {
	case "windows":
		return "win32"
	case "linux", "darwin":
		return runtime.GOOS
	}
	return "js"
}

func (o *osNamespace) chdir(args []any) (any, error) {
	path, _ := argString(args, 0)
	dir := o.h.resolve(path)
	info, err := os.Stat(dir)
	if err != nil {
		return errno(err), nil
	}
	if !info.IsDir() {
		return -int(syscall.ENOTDIR), nil
	}
	o.h.setCwd(dir)
	return 0, nil
}

func (o *osNamespace) mkdir(args []any) (any, error) {
	path, _ := argString(args, 0)
	mode, ok := argNumber(args, 1)
	if !ok {
		mode = 0o777
	}
	return errno(os.Mkdir(o.h.resolve(path), fs.FileMode(mode))), nil
}

func (o *osNamespace) remove(args []any) (any, error) {
	path, _ := argString(args, 0)
	return errno(os.Remove(o.h.resolve(path))), nil
}

func (o *osNamespace) rename(args []any) (any, error) {
	from, _ := argString(args, 0)
	to, _ := argString(args, 1)
	return errno(os.Rename(o.h.resolve(from), o.h.resolve(to))), nil
}

func (o *osNamespace) readdir(args []any) (any, error) {
	path, _ := argString(args, 0)
	entries, err := os.ReadDir(o.h.resolve(path))
	if err != nil {
		return []any{[]string{}, errno(err)}, nil
	}
	names := []string{".", ".."}
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return []any{names, 0}, nil
}

func (o *osNamespace) stat(args []any) (any, error) {
	path, _ := argString(args, 0)
	lstat := len(args) > 1 && args[1] == true
	full := o.h.resolve(path)
	var info fs.FileInfo
	var err error
	if lstat {
		info, err = os.Lstat(full)
	} else {
		info, err = os.Stat(full)
	}
	if err != nil {
		return []any{nil, errno(err)}, nil
	}
	mtime := info.ModTime().UnixMilli()
	return []any{map[string]any{
		"mode":  unixMode(info.Mode()),
		"size":  info.Size(),
		"mtime": mtime,
		"atime": mtime,
		"ctime": mtime,
	}, 0}, nil
}

// unixMode renders a FileMode in st_mode layout.
func unixMode(m fs.FileMode) uint32 {
	mode := uint32(m.Perm())
	switch {
	case m.IsDir():
		mode |= 0o040000
	case m&fs.ModeSymlink != 0:
		mode |= 0o120000
	case m&fs.ModeNamedPipe != 0:
		mode |= 0o010000
	case m&fs.ModeSocket != 0:
		mode |= 0o140000
	case m&fs.ModeCharDevice != 0:
		mode |= 0o020000
	case m&fs.ModeDevice != 0:
		mode |= 0o060000
	default:
		mode |= 0o100000
	}
	return mode
}

func (o *osNamespace) realpath(args []any) (any, error) {
	path, _ := argString(args, 0)
	p, err := filepath.EvalSymlinks(o.h.resolve(path))
	if err != nil {
		return []any{"", errno(err)}, nil
	}
	abs, err := filepath.Abs(p)
	return []any{abs, errno(err)}, nil
}

func (o *osNamespace) readlink(args []any) (any, error) {
	path, _ := argString(args, 0)
	target, err := os.Readlink(o.h.resolve(path))
	return []any{target, errno(err)}, nil
}

func (o *osNamespace) symlink(args []any) (any, error) {
	target, _ := argString(args, 0)
	link, _ := argString(args, 1)
	return errno(os.Symlink(target, o.h.resolve(link))), nil
}

func (o *osNamespace) kill(args []any) (any, error) {
	pid, _ := argNumber(args, 0)
	sig, _ := argNumber(args, 1)
	p, err := os.FindProcess(int(pid))
	if err != nil {
		return errno(err), nil
	}
	return errno(p.Signal(syscall.Signal(int(sig)))), nil
}

// exec runs args[0] with the remaining arguments. With block (the
// default) it returns the exit status, otherwise the child pid.
func (o *osNamespace) exec(args []any) (any, error) {
	list, _ := args[0].([]any)
	if len(list) == 0 {
		return nil, typeErr("exec: args must not be empty")
	}
	argv := make([]string, len(list))
	for i, a := range list {
		argv[i], _ = a.(string)
	}
	opts := argObject(args, 1)
	block := true
	if b, ok := opts["block"].(bool); ok {
		block = b
	}

	cmd := exec.CommandContext(o.h.ctx(), argv[0], argv[1:]...)
	if !block {
		cmd = exec.Command(argv[0], argv[1:]...)
	}
	cmd.Dir = o.h.Cwd()
	if dir, ok := opts["cwd"].(string); ok {
		cmd.Dir = o.h.resolve(dir)
	}
	if env, ok := opts["env"].(map[string]any); ok {
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%v", k, v))
		}
	}

	if !block {
		if err := cmd.Start(); err != nil {
			return errno(err), nil
		}
		go func() { _ = cmd.Wait() }()
		return cmd.Process.Pid, nil
	}

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	}
	o.h.Logger.Debug("os.exec failed", zap.Strings("argv", argv), zap.Error(err))
	return errno(err), nil
}

// sleep blocks the VM thread, returning early when the evaluation ends.
func (o *osNamespace) sleep(args []any) (any, error) {
	ms, _ := argNumber(args, 0)
	if ms <= 0 {
		return nil, nil
	}
	t := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
	defer t.Stop()
	select {
	case <-t.C:
	case <-o.h.ctx().Done():
	}
	return nil, nil
}
