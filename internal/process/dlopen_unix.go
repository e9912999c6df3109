//go:build unix

package process

/*
#include <dlfcn.h>
#include <stdlib.h>
#include <stdint.h>

typedef uintptr_t (*mjit_native_fn)(uintptr_t ec, uintptr_t cfp);

static uintptr_t mjit_call_native(void *fn, uintptr_t ec, uintptr_t cfp) {
	return ((mjit_native_fn)fn)(ec, cfp);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/k0kubun/yarv-mjit/internal/vm"
)

// LoadedObject is a handle to a dlopen'd shared object, retained on a
// unit so it can be released when the unit is unloaded (spec.md §4.1:
// "the handle is retained on the unit so it can be released when the
// unit is unloaded"). It satisfies internal/unit.Loader.
type LoadedObject struct {
	handle unsafe.Pointer
	path   string
}

// LoadSharedObject opens path with immediate binding (spec.md §4.1: "an
// immediate binding mode") and resolves symbol, returning a callable
// vm.NativeFunc that forwards ec/cfp as raw addresses across the cgo
// boundary.
//
// There is no standard-library equivalent for loading a shared object
// produced by an externally invoked C compiler: Go's plugin package only
// loads plugins built by `go build -buildmode=plugin` from a matching
// toolchain and module set, which is not the case here, so this is the
// one domain concern in the module without a verbatim precedent anywhere
// in the examined pack.
func LoadSharedObject(path, symbol string) (*LoadedObject, vm.NativeFunc, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	handle := C.dlopen(cpath, C.RTLD_NOW)
	if handle == nil {
		return nil, nil, fmt.Errorf("process: dlopen %s: %s", path, C.GoString(C.dlerror()))
	}

	csym := C.CString(symbol)
	defer C.free(unsafe.Pointer(csym))

	sym := C.dlsym(handle, csym)
	if sym == nil {
		C.dlclose(handle)
		return nil, nil, fmt.Errorf("process: dlsym %s in %s: %s", symbol, path, C.GoString(C.dlerror()))
	}

	obj := &LoadedObject{handle: handle, path: path}
	fn := func(ec *vm.ExecContext, cfp *vm.ControlFrame) vm.Value {
		ret := C.mjit_call_native(sym, C.uintptr_t(ec.Native), C.uintptr_t(cfp.Native))
		return vm.Value(ret)
	}
	return obj, fn, nil
}

// Close releases the dlopen handle. Safe to call more than once.
func (o *LoadedObject) Close() error {
	if o.handle == nil {
		return nil
	}
	if C.dlclose(o.handle) != 0 {
		err := fmt.Errorf("process: dlclose %s: %s", o.path, C.GoString(C.dlerror()))
		o.handle = nil
		return err
	}
	o.handle = nil
	return nil
}
