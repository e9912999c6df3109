package worker

import (
	"context"
	"fmt"
	"os"

	"github.com/k0kubun/yarv-mjit/internal/jitlog"
	"github.com/k0kubun/yarv-mjit/internal/process"
	"github.com/k0kubun/yarv-mjit/internal/translator"
	"github.com/k0kubun/yarv-mjit/internal/unit"
)

// Config is the subset of engine options the worker needs to drive the
// PCH build and the per-unit compile pipeline (spec.md §4.4, §3
// "Options").
type Config struct {
	ScratchDir   string
	HeaderPath   string
	PCHPath      string
	CompilerPath string
	Debug        bool
	SaveTemps    bool
	Warnings     bool
	Verbose      int
	MaxCacheSize int
}

func (cfg Config) sink() jitlog.Sink {
	return jitlog.Sink{Verbose: cfg.Verbose, Warnings: cfg.Warnings}
}

func (cfg Config) optFlags() []string {
	if cfg.Debug {
		return []string{"-O0", "-g"}
	}
	return []string{"-O2"}
}

// SnapshotFunc returns the current global-invalidation-state snapshot that
// is passed to translator.Compile for each unit. Supplied by the host,
// which owns the method-state/class-serial counters (out of scope per
// spec.md §1).
type SnapshotFunc func() translator.Snapshot

// Worker runs the single background compilation thread (spec.md §4.4): a
// state machine that builds the PCH once, then drains the unit queue
// until finish is requested. It is spawned detached by the engine façade
// and never canceled mid-compile (spec.md §4.4 "the engine therefore does
// not cancel the thread; it sets the finish flag and wakes the worker").
// All queue access goes through coord, which holds the engine mutex
// (spec.md §4.3 "all operations run under the engine mutex").
type Worker struct {
	coord  *Coordinator
	cfg    Config
	snapOf SnapshotFunc
}

// NewWorker builds a Worker driven by coord.
func NewWorker(coord *Coordinator, cfg Config, snapOf SnapshotFunc) *Worker {
	return &Worker{coord: coord, cfg: cfg, snapOf: snapOf}
}

// Run is the worker's entire lifetime. Intended as the body of the
// goroutine the engine façade spawns at Initialize.
func (w *Worker) Run() {
	if !w.buildPCH() {
		return
	}
	w.drain()
	w.coord.markWorkerFinished()
}

// buildPCH is step 1 of the state machine (spec.md §4.4): invoke the
// compiler on the minimized header to produce the PCH artifact.
func (w *Worker) buildPCH() bool {
	argv := append([]string{"-x", "c-header"}, w.cfg.optFlags()...)
	argv = append(argv, "-o", w.cfg.PCHPath, w.cfg.HeaderPath)

	code, err := process.RunCompiler(context.Background(), w.cfg.CompilerPath, argv, w.cfg.Verbose, w.cfg.sink())
	if err != nil || code != 0 {
		jitlog.Warn(w.cfg.sink(), "worker: PCH build failed: exit=%d err=%v", code, err)
		w.coord.SetPCHStatus(PCHFailed)
		w.coord.markWorkerFinished()
		return false
	}
	jitlog.Trace(w.cfg.sink(), 1, "worker: PCH built at %s", w.cfg.PCHPath)
	w.coord.SetPCHStatus(PCHSuccess)
	return true
}

// drain is step 2 of the state machine: loop compiling the
// highest-priority unit until finish is requested. Once finish-requested
// is observed, waitForWork returns immediately regardless of what's still
// queued — any units left in the queue at that point are simply abandoned
// there, not drained (spec.md §3: "the queue is no longer consulted; the
// worker exits after its current unit"). Coordinator.DrainAll is what
// later releases their handles, from Engine.Finish.
func (w *Worker) drain() {
	for {
		if w.coord.waitForWork() {
			return
		}
		u := w.coord.dequeueBest()
		if u == nil {
			continue
		}
		w.compileOne(u)
	}
}

// compileOne runs one unit through translate -> compile -> load,
// publishing the result on success and the not-compilable sentinel on
// any failure (spec.md §4.4 step 2).
func (w *Worker) compileOne(u *unit.Unit) {
	body := u.Body()
	if body == nil {
		return // collected between dequeue and here
	}

	cPath := process.MakeTempPath(w.cfg.ScratchDir, u.ID, "_mjit_unit", ".c")
	funcName := fmt.Sprintf("mjit_unit_%d", u.ID)

	w.coord.beginJIT()
	cFile, createErr := os.Create(cPath)
	var ok bool
	if createErr == nil {
		ok = translator.Compile(cFile, body, funcName, w.snapOf(), w.cfg.sink())
		_ = cFile.Close()
	}
	w.coord.endJIT()

	if createErr != nil || !ok {
		jitlog.Trace(w.cfg.sink(), 1, "worker: translation failed for unit %d (create_err=%v)", u.ID, createErr)
		body.MarkNotCompilable()
		w.coord.markFailed()
		w.cleanup(cPath)
		return
	}

	soPath := process.MakeTempPath(w.cfg.ScratchDir, u.ID, "_mjit_unit", ".so")
	argv := w.sharedObjectArgv(cPath, soPath)
	code, err := process.RunCompiler(context.Background(), w.cfg.CompilerPath, argv, w.cfg.Verbose, w.cfg.sink())
	if err != nil || code != 0 {
		jitlog.Warn(w.cfg.sink(), "worker: compile failed for unit %d: exit=%d err=%v", u.ID, code, err)
		body.MarkNotCompilable()
		w.coord.markFailed()
		w.cleanup(cPath, soPath)
		return
	}

	handle, fn, err := process.LoadSharedObject(soPath, funcName)
	if err != nil {
		jitlog.Warn(w.cfg.sink(), "worker: load failed for unit %d: %v", u.ID, err)
		body.MarkNotCompilable()
		w.coord.markFailed()
		w.cleanup(cPath, soPath)
		return
	}

	u.Handle = handle
	body.PublishCompiled(fn)
	w.cleanup(cPath, soPath)

	if evicted := w.coord.markResident(u, w.cfg.MaxCacheSize); evicted != nil {
		jitlog.Trace(w.cfg.sink(), 1, "worker: evicted unit %d over cache-size bound", evicted.ID)
	}
}

func (w *Worker) sharedObjectArgv(cPath, soPath string) []string {
	argv := append([]string{"-shared", "-fPIC"}, w.cfg.optFlags()...)
	if w.cfg.PCHPath != "" {
		argv = append(argv, "-include", w.cfg.HeaderPath)
	}
	return append(argv, "-o", soPath, cPath)
}

func (w *Worker) cleanup(paths ...string) {
	if w.cfg.SaveTemps {
		return
	}
	for _, p := range paths {
		if err := process.RemoveTemp(p); err != nil {
			jitlog.Trace(w.cfg.sink(), 2, "worker: cleanup %s: %v", p, err)
		}
	}
}
