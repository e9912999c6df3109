package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/k0kubun/yarv-mjit/internal/jitlog"
)

// ErrSpawnFailure covers both a compiler process that could not be
// started and one terminated by a signal rather than exiting normally
// (spec.md §4.1: "signal termination reports spawn-failure").
var ErrSpawnFailure = errors.New("process: compiler spawn failure")

// RunCompiler executes path with argv and returns its exit code, or
// ErrSpawnFailure if it never produced one (spec.md §4.1 "run-compiler
// (path, argv) -> exit code | spawn-failure"). Output is redirected to
// the null device when verbose is 0 ("redirects standard error and
// output to a null sink when verbose is zero"); otherwise it's captured
// and traced through sink.
//
// Recovering the numeric exit code this way — inspecting the
// *exec.ExitError's underlying syscall.WaitStatus rather than trusting a
// bare non-nil/nil split — is the same idiom google/kati's worker.go uses
// in its exitStatus helper.
func RunCompiler(ctx context.Context, path string, argv []string, verbose int, sink jitlog.Sink) (int, error) {
	cmd := exec.CommandContext(ctx, path, argv...)

	var captured bytes.Buffer
	if verbose == 0 {
		null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return -1, fmt.Errorf("%w: opening null sink: %v", ErrSpawnFailure, err)
		}
		defer null.Close()
		cmd.Stdout = null
		cmd.Stderr = null
	} else {
		cmd.Stdout = &captured
		cmd.Stderr = &captured
	}

	err := cmd.Run()
	if captured.Len() > 0 {
		jitlog.Trace(sink, 2, "compiler output for %s: %s", path, captured.String())
	}
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Exited() {
			return ws.ExitStatus(), nil
		}
		return -1, fmt.Errorf("%w: %v", ErrSpawnFailure, err)
	}
	return -1, fmt.Errorf("%w: %v", ErrSpawnFailure, err)
}
