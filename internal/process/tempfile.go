// Package process is the engine's only OS-touching layer (spec.md §4.1):
// unique scratch paths, the external compiler invocation, and the shared-
// object loader. Everything else in this module works with these results
// rather than calling exec or dlopen directly.
package process

import (
	"fmt"
	"os"
	"path/filepath"
)

// MakeTempPath returns a path under dir unique to this process and id
// (spec.md §4.1 "make-temp-path(id, prefix, suffix) -> path under the
// scratch directory, unique to this process and id"), using spec.md §6's
// literal "<prefix>p<pid>u<id><suffix>" naming scheme. The pid component
// keeps paths distinct across engines sharing a scratch directory; id
// keeps them distinct within one engine's lifetime.
func MakeTempPath(dir string, id int64, prefix, suffix string) string {
	return filepath.Join(dir, fmt.Sprintf("%sp%du%d%s", prefix, os.Getpid(), id, suffix))
}

// RemoveTemp deletes path, ignoring a not-exist error; used to clean up
// intermediate .c/.so files when save-temps is not set (spec.md §4.4
// "Delete intermediate files unless save-temps is set").
func RemoveTemp(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
