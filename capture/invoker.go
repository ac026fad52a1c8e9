// Package capture drives tshark: interface listing, bounded live capture,
// and field projection of capture files.
//
// Subprocess failures never surface as errors. They are logged and the
// caller receives an empty result.
package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/Zerofisher/anxun/agent/tracing"
	"github.com/Zerofisher/anxun/fields"
	"github.com/Zerofisher/anxun/internal/logging"
	"github.com/Zerofisher/anxun/pkg/store"
)

// DefaultTshark is the binary looked up on PATH when no path is configured.
const DefaultTshark = "tshark"

// Runner executes one external command, streaming its stdout into stdout
// and returning whatever it printed on stderr.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdout io.Writer) (stderr string, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdout io.Writer) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// Invoker wraps tshark invocations.
type Invoker struct {
	tshark     string
	tempDir    string
	runner     Runner
	logger     logging.Logger
	sink       store.Sink
	normalizer *fields.Normalizer

	// explicitInterface is true on platforms where "any" cannot be
	// captured on and must be resolved to a concrete interface.
	explicitInterface bool
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithRunner replaces the subprocess runner.
func WithRunner(r Runner) Option {
	return func(i *Invoker) { i.runner = r }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(i *Invoker) { i.logger = logging.OrNop(l) }
}

// WithSink persists non-empty live captures.
func WithSink(s store.Sink) Option {
	return func(i *Invoker) { i.sink = s }
}

// WithTempDir sets where temporary capture and output files are created.
func WithTempDir(dir string) Option {
	return func(i *Invoker) { i.tempDir = dir }
}

// WithExplicitInterface overrides the platform default for resolving "any".
func WithExplicitInterface(v bool) Option {
	return func(i *Invoker) { i.explicitInterface = v }
}

// New creates an Invoker for the tshark binary at path (DefaultTshark if
// empty).
func New(path string, opts ...Option) *Invoker {
	if path == "" {
		path = DefaultTshark
	}
	i := &Invoker{
		tshark:            path,
		tempDir:           os.TempDir(),
		runner:            ExecRunner{},
		logger:            logging.Nop(),
		normalizer:        fields.NewNormalizer(),
		explicitInterface: runtime.GOOS == "windows",
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Path returns the tshark binary in use.
func (i *Invoker) Path() string {
	return i.tshark
}

// run executes tshark and reports whether it exited cleanly. Failures are
// logged with the tool's stderr.
func (i *Invoker) run(ctx context.Context, args []string, stdout io.Writer) bool {
	if stdout == nil {
		stdout = io.Discard
	}
	ctx, end := tracing.StartCommand(ctx, "tshark", args)
	stderr, err := i.runner.Run(ctx, i.tshark, args, stdout)
	end(err)
	if err != nil {
		meta := map[string]string{
			"command": i.tshark + " " + strings.Join(args, " "),
			"error":   err.Error(),
			"stderr":  strings.TrimSpace(stderr),
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			meta["exit_code"] = strconv.Itoa(exitErr.ExitCode())
		}
		i.logger.LogError("tshark failed", meta)
		return false
	}
	return true
}

// tempFile creates an empty temporary file and returns its path plus a
// cleanup func that removes it.
func (i *Invoker) tempFile(pattern string) (string, func(), error) {
	f, err := os.CreateTemp(i.tempDir, pattern)
	if err != nil {
		return "", func() {}, err
	}
	name := f.Name()
	f.Close()
	return name, func() {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			i.logger.LogWarn("failed to remove temp file", map[string]string{"path": name, "error": err.Error()})
		}
	}, nil
}
