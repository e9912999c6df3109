//go:build !unix

package process

import (
	"errors"

	"github.com/k0kubun/yarv-mjit/internal/vm"
)

// ErrUnsupportedPlatform is returned on any platform besides the unix
// family. Windows support is an explicit non-goal; this stub exists only
// so the module still builds there, not so the engine functions there.
var ErrUnsupportedPlatform = errors.New("process: shared-object loading is not supported on this platform")

// LoadedObject is an inert stand-in on unsupported platforms.
type LoadedObject struct{}

// LoadSharedObject always fails on non-unix platforms.
func LoadSharedObject(path, symbol string) (*LoadedObject, vm.NativeFunc, error) {
	return nil, nil, ErrUnsupportedPlatform
}

// Close is a no-op.
func (o *LoadedObject) Close() error { return nil }
