package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, dir string, refresh RefreshFunc) *Watcher {
	t.Helper()
	w, err := New(dir, 20*time.Millisecond, refresh, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func TestWatcher_RefreshAfterBurst(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var calls atomic.Int32
	startWatcher(t, dir, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "A.cs"), []byte("class A {}"), 0o644))
	}
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresNonCSharp(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var calls atomic.Int32
	startWatcher(t, dir, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	assert.Never(t, func() bool { return calls.Load() > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestWatcher_SkipsBuildDirectories(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "obj", "Debug"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))

	w := startWatcher(t, dir, func(context.Context) error { return nil })
	watched := w.Watching()
	assert.Contains(t, watched, filepath.Join(dir, "src"))
	assert.NotContains(t, watched, filepath.Join(dir, "obj"))
	assert.NotContains(t, watched, filepath.Join(dir, "obj", "Debug"))
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var calls atomic.Int32
	w := startWatcher(t, dir, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	sub := filepath.Join(dir, "Controllers")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.Eventually(t, func() bool { return slices.Contains(w.Watching(), sub) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "Home.cs"), []byte("class Home {}"), 0o644))
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_RefreshErrorKeepsWatching(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var calls atomic.Int32
	startWatcher(t, dir, func(context.Context) error {
		calls.Add(1)
		return errors.New("busy")
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.cs"), []byte("class A {}"), 0o644))
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "B.cs"), []byte("class B {}"), 0o644))
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_ChangeDuringRefreshIsNotLost(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var (
		mu       sync.Mutex
		starts   []time.Time
		inFlight atomic.Int32
		overlap  atomic.Bool
	)
	startWatcher(t, dir, func(context.Context) error {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		defer inFlight.Add(-1)
		mu.Lock()
		starts = append(starts, time.Now())
		first := len(starts) == 1
		mu.Unlock()
		if first {
			time.Sleep(300 * time.Millisecond)
		}
		return nil
	})
	started := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(starts)
	}

	path := filepath.Join(dir, "A.cs")
	require.NoError(t, os.WriteFile(path, []byte("class A {}"), 0o644))
	require.Eventually(t, func() bool { return started() >= 1 }, 2*time.Second, 5*time.Millisecond)

	edited := time.Now()
	require.NoError(t, os.WriteFile(path, []byte("class A { void M() {} }"), 0o644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return starts[len(starts)-1].After(edited)
	}, 3*time.Second, 10*time.Millisecond)
	assert.False(t, overlap.Load(), "refreshes overlapped")
}

func TestWatcher_RetryRequestedByRefresh(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var calls atomic.Int32
	startWatcher(t, dir, func(context.Context) error {
		if calls.Add(1) == 1 {
			return fmt.Errorf("%w: init in progress", ErrRetry)
		}
		return nil
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.cs"), []byte("class A {}"), 0o644))
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestNew_MissingRoot(t *testing.T) {
	t.Parallel()
	_, err := New(filepath.Join(t.TempDir(), "nope"), 0, func(context.Context) error { return nil }, nil)
	require.Error(t, err)
}
