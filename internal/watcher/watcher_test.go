package watcher_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwkit/rauctl/internal/watcher"
)

func TestWatcher_EmitsBundleAfterSettle(t *testing.T) {
	dir := t.TempDir()
	bundlePath := filepath.Join(dir, "update.raucb")

	w, err := watcher.New(watcher.Config{
		Dir:         dir,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	defer func() { _ = w.Stop() }()

	bundles, err := w.Start()
	require.NoError(t, err, "failed to start watcher")

	// Rapid writes simulate a bundle still being copied in
	for i := 0; i < 5; i++ {
		err := os.WriteFile(bundlePath, []byte(fmt.Sprintf("chunk%d", i)), 0644)
		require.NoError(t, err, "failed to write bundle")
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case got := <-bundles:
		assert.Equal(t, bundlePath, got)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected bundle notification but got timeout")
	}

	// Writes coalesce into a single emission
	select {
	case <-bundles:
		t.Fatal("unexpected second notification")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()

	w, err := watcher.New(watcher.Config{
		Dir:         dir,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	defer func() { _ = w.Stop() }()

	bundles, err := w.Start()
	require.NoError(t, err, "failed to start watcher")

	err = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0644)
	require.NoError(t, err, "failed to write file")

	select {
	case got := <-bundles:
		t.Fatalf("should not notify for non-bundle file, got %s", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_MultipleBundles(t *testing.T) {
	dir := t.TempDir()

	w, err := watcher.New(watcher.Config{
		Dir:         dir,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	defer func() { _ = w.Stop() }()

	bundles, err := w.Start()
	require.NoError(t, err, "failed to start watcher")

	first := filepath.Join(dir, "a.raucb")
	second := filepath.Join(dir, "b.raucb")
	require.NoError(t, os.WriteFile(first, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(second, []byte("b"), 0644))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case path := <-bundles:
			got[path] = true
		case <-time.After(500 * time.Millisecond):
			t.Fatal("expected two bundle notifications")
		}
	}
	assert.True(t, got[first], "missing first bundle")
	assert.True(t, got[second], "missing second bundle")
}

func TestWatcher_Stop(t *testing.T) {
	dir := t.TempDir()

	w, err := watcher.New(watcher.Config{
		Dir:         dir,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")

	_, err = w.Start()
	require.NoError(t, err, "failed to start watcher")

	done := make(chan struct{})
	go func() {
		err := w.Stop()
		assert.NoError(t, err, "Stop returned error")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Stop() timed out - possible deadlock")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := watcher.DefaultConfig("/data/incoming")

	assert.Equal(t, "/data/incoming", cfg.Dir)
	assert.Equal(t, 2*time.Second, cfg.DebounceDur)
}
