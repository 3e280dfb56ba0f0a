// Package compile turns source modules into bytecode by running the target
// interpreter.
package compile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ErrCompilationFailed is matched by every error a Compiler returns for a
// source file that does not compile.
var ErrCompilationFailed = errors.New("compilation failed")

// Compiler compiles one source file at an optimization level and returns the
// bytes of its loadable compiled form.
type Compiler interface {
	Compile(ctx context.Context, path string, level int) ([]byte, error)
}

// DefaultTimeout bounds a single compiler invocation.
const DefaultTimeout = 2 * time.Minute

// compileScript reproduces py_compile without touching __pycache__: the
// timestamp pyc is written to stdout.
const compileScript = `import sys, os, importlib._bootstrap_external as ext
src, level = sys.argv[1], int(sys.argv[2])
with open(src, "rb") as f:
    data = f.read()
code = compile(data, src, "exec", dont_inherit=True, optimize=level)
st = os.stat(src)
sys.stdout.buffer.write(ext._code_to_timestamp_pyc(code, st.st_mtime, st.st_size))
`

// PyCompiler compiles by spawning the interpreter once per file.
type PyCompiler struct {
	// Python is the interpreter executable.
	Python string
	// Timeout bounds each invocation; zero means DefaultTimeout.
	Timeout time.Duration
}

// NewPyCompiler returns a compiler using the given interpreter.
func NewPyCompiler(python string, timeout time.Duration) *PyCompiler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &PyCompiler{Python: python, Timeout: timeout}
}

// Compile implements Compiler.
func (c *PyCompiler) Compile(ctx context.Context, path string, level int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Python, "-c", compileScript, path, strconv.Itoa(level)) //nolint:gosec // interpreter chosen by the user
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &CompileError{File: path, Msg: fmt.Sprintf("timed out after %s", c.Timeout)}
	}
	if runErr != nil {
		cerr := ParseDiagnostic(&stderr)
		cerr.File = path
		if cerr.Msg == "" {
			cerr.Msg = runErr.Error()
		}
		return nil, cerr
	}
	if stdout.Len() == 0 {
		return nil, &CompileError{File: path, Msg: "compiler produced no output"}
	}
	return stdout.Bytes(), nil
}

// CompileError describes a source file that failed to compile.
type CompileError struct {
	File string
	// Line is the 1-based line reported by the compiler, or 0 when unknown.
	Line int
	Msg  string
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("compile %s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("compile %s: %s", e.File, e.Msg)
}

// Is reports ErrCompilationFailed as a match.
func (e *CompileError) Is(target error) bool {
	return target == ErrCompilationFailed
}
