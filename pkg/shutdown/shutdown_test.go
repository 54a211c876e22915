package shutdown

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCrashDump(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteCrashDump(dir, "store open failed", errors.New("lock held"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "state", "crash"), filepath.Dir(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(b)
	assert.Contains(t, body, "reason: store open failed")
	assert.Contains(t, body, "error: lock held")
	assert.True(t, strings.Contains(body, "goroutine "))

	left, err := filepath.Glob(filepath.Join(dir, "state", "crash", ".crash-*"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSetupSignalHandler_CancelStops(t *testing.T) {
	ctx, cancel := SetupSignalHandler(context.Background())
	cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
