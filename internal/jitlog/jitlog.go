// Package jitlog binds the engine's verbose/warnings options (spec.md §3)
// onto glog's verbosity-gated logging, the same idiom google/kati uses for
// tracing an asynchronous worker (glog.V(1).Infof(...) throughout
// worker.go, dep.go, eval.go).
package jitlog

import "github.com/golang/glog"

// Sink is the subset of engine Options this package needs, kept narrow so
// jitlog doesn't import the root package (which would create an import
// cycle back from internal/worker and internal/translator).
type Sink struct {
	Verbose  int
	Warnings bool
}

// Trace logs at glog's info level only when s.Verbose is at least level,
// mirroring glog.V(1).Infof's own gating but keyed off this engine's
// explicit verbose option instead of a global glog flag, so tests can drive
// it deterministically per-Options instance.
func Trace(s Sink, level int, format string, args ...interface{}) {
	if s.Verbose >= level {
		glog.Infof(format, args...)
	}
}

// Warn logs a diagnostic when the host asked for compiler warnings or is
// running at high verbosity (spec.md §4.2 "Unsupported": "emit a diagnostic
// if warnings or verbose≥3"; spec.md §7 uses the same gate for translator,
// compile/link, and load failures).
func Warn(s Sink, format string, args ...interface{}) {
	if s.Warnings || s.Verbose >= 3 {
		glog.Warningf(format, args...)
	}
}

// Error logs unconditionally at glog's error level. Nothing in this module
// calls it: initialization failure is traced at verbose 1 and PCH failure
// is reported through Warn.
func Error(format string, args ...interface{}) {
	glog.Errorf(format, args...)
}
