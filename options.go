package mjit

// Options is the engine's configuration, fixed at startup and handed to
// NewEngine (spec.md §3 "Options"). It is a plain struct rather than
// anything backed by a flag-parsing library: the host's command-line
// surface (spec.md §6) is explicitly out of scope here, and constructing
// this value is the host's job, not this package's.
type Options struct {
	// Enable turns the engine on at all. When false, NewEngine returns a
	// disabled Engine whose AddToProcess is a permanent no-op.
	Enable bool

	// CompilerPath is the primary C compiler invoked for both the PCH
	// build and every per-unit compile.
	CompilerPath string
	// AltCompilerPath is the alternative compiler selector (spec.md §6's
	// "llvm" command-line flag); used in place of CompilerPath when
	// UseAltCompiler is set.
	AltCompilerPath string
	UseAltCompiler  bool

	// SaveTemps keeps intermediate .c, .so, and PCH files after exit
	// instead of deleting them (spec.md §3).
	SaveTemps bool
	// Warnings emits compiler-warning diagnostics to the host's
	// diagnostic sink (spec.md §3).
	Warnings bool
	// Debug emits -O0 -g instead of -O2 (spec.md §3).
	Debug bool
	// Verbose is the internal tracing level, 0..3 (spec.md §3).
	Verbose int
	// MaxCacheSize upper-bounds the number of resident compiled units; 0
	// means unbounded (spec.md §3).
	MaxCacheSize int

	// MinCalls is the call-count threshold a body must cross before it is
	// even enqueued (restored from original_source/ per SPEC_FULL.md §5;
	// the distilled spec omits it but nothing excludes it). 0 means every
	// body is eligible as soon as the host calls AddToProcess.
	MinCalls int64
	// Wait makes NewEngine block until the PCH build has been decided
	// before returning, matching the original test harness's "--wait"
	// behavior (SPEC_FULL.md §5): callers that need compilation available
	// immediately after construction set this instead of racing the
	// background worker. Finish always waits for PCH status regardless of
	// this setting.
	Wait bool

	// HeaderSearchPaths is searched in order for HeaderName, mirroring
	// spec.md §4.5's "resolve the header path (search build-dir then
	// install-dir)". The first existing entry wins.
	HeaderSearchPaths []string
	// HeaderName is the minimized precompiled-header input's filename,
	// default "mjit_runtime.h" if empty.
	HeaderName string

	// ScratchDir is the host-default scratch directory temporary
	// artifacts are written under (spec.md §6 "a host-default, e.g. /tmp
	// on the expected platform"); os.TempDir() if empty.
	ScratchDir string
}

func (o Options) headerName() string {
	if o.HeaderName != "" {
		return o.HeaderName
	}
	return "mjit_runtime.h"
}

func (o Options) compilerPath() string {
	if o.UseAltCompiler && o.AltCompilerPath != "" {
		return o.AltCompilerPath
	}
	return o.CompilerPath
}
