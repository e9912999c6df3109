package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k0kubun/yarv-mjit/internal/jitlog"
)

func TestMakeTempPathIsUniquePerID(t *testing.T) {
	a := MakeTempPath("/tmp/scratch", 1, "unit", ".c")
	b := MakeTempPath("/tmp/scratch", 2, "unit", ".c")
	assert.NotEqual(t, a, b)
	assert.Equal(t, filepath.Dir(a), "/tmp/scratch")
}

func TestRemoveTempIgnoresMissingFile(t *testing.T) {
	err := RemoveTemp(filepath.Join(t.TempDir(), "does-not-exist.c"))
	assert.NoError(t, err)
}

func TestRunCompilerSuccess(t *testing.T) {
	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("/bin/true not available")
	}
	code, err := RunCompiler(context.Background(), "/bin/true", nil, 0, jitlog.Sink{})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestRunCompilerNonZeroExit(t *testing.T) {
	if _, err := os.Stat("/bin/false"); err != nil {
		t.Skip("/bin/false not available")
	}
	code, err := RunCompiler(context.Background(), "/bin/false", nil, 0, jitlog.Sink{})
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestRunCompilerSpawnFailure(t *testing.T) {
	_, err := RunCompiler(context.Background(), filepath.Join(t.TempDir(), "no-such-binary"), nil, 0, jitlog.Sink{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawnFailure))
}
