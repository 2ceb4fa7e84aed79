package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCallsBackOnChange(t *testing.T) {
	dir := t.TempDir()
	models := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(models, []byte("apps: []\n"), 0o644))
	evolutions := filepath.Join(dir, "evolutions")
	require.NoError(t, os.Mkdir(evolutions, 0o755))

	var calls atomic.Int32
	w, err := NewWatcher([]string{models}, []string{evolutions, filepath.Join(dir, "missing")}, func() error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, nil) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(models, []byte("apps: [{label: library}]\n"), 0o644))
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	seen := calls.Load()
	require.NoError(t, os.WriteFile(filepath.Join(evolutions, "0001_initial.evo"), []byte(""), 0o644))
	require.Eventually(t, func() bool { return calls.Load() > seen }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
