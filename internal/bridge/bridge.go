// Package bridge hosts the backend dispatcher inside an embedded JavaScript
// runtime and serializes every call into it.
//
// The runtime is created lazily on first use. One lock guards both the
// one-time initialization and every call, so the backend never sees two
// commands at once.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"

	"github.com/mattjoyce/convert/internal/config"
	"github.com/mattjoyce/convert/internal/log"
	"github.com/mattjoyce/convert/internal/metrics"
	"github.com/mattjoyce/convert/internal/protocol"
)

const (
	DefaultModule = "core/dispatcher"
	DefaultClass  = "Dispatcher"
	DefaultMethod = "handle"
)

// Options configures where the backend lives and how it is entered.
type Options struct {
	SearchPath      string
	Module          string
	Class           string
	Method          string
	VerifyChecksums bool
	Metrics         *metrics.Collector
}

// Bridge owns the single backend instance for the process.
type Bridge struct {
	opts   Options
	logger *slog.Logger

	// sem is a one-slot semaphore; holding it grants exclusive use of vm.
	sem chan struct{}

	vm       *goja.Runtime
	instance *goja.Object
	handle   goja.Callable
	initErr  error

	loads atomic.Int64
}

// New creates a Bridge. Nothing is loaded until the first call.
func New(opts Options) *Bridge {
	if opts.Module == "" {
		opts.Module = DefaultModule
	}
	if opts.Class == "" {
		opts.Class = DefaultClass
	}
	if opts.Method == "" {
		opts.Method = DefaultMethod
	}
	return &Bridge{
		opts:   opts,
		logger: log.WithComponent("bridge"),
		sem:    make(chan struct{}, 1),
	}
}

// SearchPath returns the directory the backend module is resolved against.
func (b *Bridge) SearchPath() string {
	return b.opts.SearchPath
}

// Loads returns how many module source files have been read.
func (b *Bridge) Loads() int {
	return int(b.loads.Load())
}

// EnsureInitialized brings the backend up if it is not already.
// A failed initialization is remembered and returned on every later call.
func (b *Bridge) EnsureInitialized(ctx context.Context) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()
	return b.initLocked(ctx)
}

// Dispatch sends cmd and payload to the backend and returns its result as
// JSON text. The payload is checked before the lock is taken.
func (b *Bridge) Dispatch(ctx context.Context, cmd string, payload json.RawMessage) (json.RawMessage, error) {
	payload, err := protocol.CheckPayload(payload)
	if err != nil {
		return nil, err
	}
	env, err := protocol.EncodeEnvelope(cmd, payload)
	if err != nil {
		return nil, err
	}

	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	if err := b.initLocked(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := b.call(ctx, cmd, env)
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	b.opts.Metrics.RecordBridgeCall(serviceOf(cmd), outcome, time.Since(start).Seconds())

	logger := log.WithCommand(cmd)
	if err != nil {
		logger.Debug("dispatch failed", "error", err, "duration", time.Since(start))
		return nil, err
	}
	logger.Debug("dispatch completed", "duration", time.Since(start))
	return out, nil
}

func (b *Bridge) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.opts.Metrics.RecordLockWait(time.Since(start).Seconds())
	return nil
}

func (b *Bridge) release() {
	<-b.sem
}

// initLocked must be called with the lock held.
func (b *Bridge) initLocked(ctx context.Context) error {
	if b.handle != nil {
		return nil
	}
	if b.initErr != nil {
		return b.initErr
	}

	err := b.load(ctx)
	if err == nil {
		b.logger.Info("backend initialized",
			"search_path", b.opts.SearchPath,
			"module", b.opts.Module,
			"class", b.opts.Class,
		)
		return nil
	}

	// An interrupted load says nothing about the module; leave the next
	// caller free to try again on a fresh runtime.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		b.vm, b.instance, b.handle = nil, nil, nil
		return err
	}

	b.initErr = err
	b.logger.Error("backend initialization failed", "error", err)
	return err
}

func (b *Bridge) load(ctx context.Context) error {
	dir := b.opts.SearchPath
	if strings.TrimSpace(dir) == "" {
		return &InitError{Reason: ErrModuleNotFound, Err: errors.New("search path is not set")}
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return &InitError{Reason: ErrModuleNotFound, Err: fmt.Errorf("search path %s is not a directory", dir)}
	}

	rel := config.RuntimeConfig{Module: b.opts.Module}.ModuleFile()
	modulePath := filepath.Join(dir, filepath.FromSlash(rel))
	if _, err := os.Stat(modulePath); err != nil {
		return &InitError{Reason: ErrModuleNotFound, Err: fmt.Errorf("%s: %w", modulePath, err)}
	}

	if b.opts.VerifyChecksums {
		manifest, err := config.LoadChecksums(dir)
		if err != nil {
			return &InitError{Reason: ErrIntegrity, Err: err}
		}
		if err := manifest.Verify(dir, rel); err != nil {
			return &InitError{Reason: ErrIntegrity, Err: err}
		}
	}

	vm := goja.New()
	if err := installConsole(vm, b.logger); err != nil {
		return &InitError{Reason: ErrModuleInvalid, Err: err}
	}
	reg := require.NewRegistry(
		require.WithGlobalFolders(dir),
		require.WithLoader(b.loadSource),
	)
	req := reg.Enable(vm)

	var exports goja.Value
	err = watch(ctx, vm, func() error {
		var rerr error
		exports, rerr = req.Require(b.opts.Module)
		return rerr
	})
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return &InitError{Reason: ErrModuleInvalid, Err: fmt.Errorf("load %s: %w", b.opts.Module, err)}
	}

	if exports == nil || goja.IsUndefined(exports) || goja.IsNull(exports) {
		return &InitError{Reason: ErrModuleInvalid, Err: fmt.Errorf("module %s has no exports", b.opts.Module)}
	}
	class := exports.ToObject(vm).Get(b.opts.Class)
	if class == nil || goja.IsUndefined(class) {
		return &InitError{Reason: ErrModuleInvalid, Err: fmt.Errorf("module %s does not export %s", b.opts.Module, b.opts.Class)}
	}

	var instance *goja.Object
	err = watch(ctx, vm, func() error {
		var nerr error
		instance, nerr = vm.New(class)
		return nerr
	})
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return &InitError{Reason: ErrModuleInvalid, Err: fmt.Errorf("construct %s: %w", b.opts.Class, err)}
	}

	handle, ok := goja.AssertFunction(instance.Get(b.opts.Method))
	if !ok {
		return &InitError{Reason: ErrModuleInvalid, Err: fmt.Errorf("%s has no method %s", b.opts.Class, b.opts.Method)}
	}

	b.vm, b.instance, b.handle = vm, instance, handle
	return nil
}

func (b *Bridge) loadSource(path string) ([]byte, error) {
	data, err := require.DefaultSourceLoader(path)
	if err != nil {
		return nil, err
	}
	b.loads.Add(1)
	b.opts.Metrics.RecordBackendLoad()
	return data, nil
}

// call must be called with the lock held and the backend initialized.
func (b *Bridge) call(ctx context.Context, cmd string, env []byte) (json.RawMessage, error) {
	arg, err := ToNative(b.vm, env)
	if err != nil {
		return nil, err
	}

	var result goja.Value
	err = watch(ctx, b.vm, func() error {
		var cerr error
		result, cerr = b.handle(b.instance, arg)
		return cerr
	})
	if err != nil {
		if isContextErr(err) {
			return nil, err
		}
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return nil, &ExecutionError{Command: cmd, Message: exceptionText(exc)}
		}
		return nil, &ExecutionError{Command: cmd, Message: err.Error()}
	}

	return FromNative(b.vm, result)
}

// watch runs fn and interrupts the runtime if ctx is done first.
func watch(ctx context.Context, vm *goja.Runtime, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	defer func() {
		close(done)
		<-stopped
		vm.ClearInterrupt()
	}()

	err := fn()
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause := interrupted.Unwrap(); cause != nil {
			return cause
		}
		return context.Canceled
	}
	return err
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// exceptionText returns the message of a thrown Error, or the thrown value
// itself when something other than an Error was thrown.
func exceptionText(exc *goja.Exception) string {
	val := exc.Value()
	if obj, ok := val.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	if val == nil {
		return exc.Error()
	}
	return val.String()
}

func serviceOf(cmd string) string {
	service, _, ok := strings.Cut(cmd, ".")
	if !ok || service == "" {
		return "invalid"
	}
	return service
}

// installConsole routes console.* from backend code into the structured log.
func installConsole(vm *goja.Runtime, logger *slog.Logger) error {
	console := vm.NewObject()
	emit := func(level slog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			logger.Log(context.Background(), level, strings.Join(parts, " "), "source", "backend")
			return goja.Undefined()
		}
	}
	for name, level := range map[string]slog.Level{
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		if err := console.Set(name, emit(level)); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}
