package workspace

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/internal/logging"
)

func collectEvents(t *testing.T, bus *event.Bus, types ...event.Type) (func() []event.Event, func()) {
	t.Helper()
	var mu sync.Mutex
	var got []event.Event
	var unsubs []func()
	for _, typ := range types {
		unsubs = append(unsubs, bus.Subscribe(typ, func(ev event.Event) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		}))
	}
	snapshot := func() []event.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]event.Event(nil), got...)
	}
	cleanup := func() {
		for _, u := range unsubs {
			u()
		}
	}
	return snapshot, cleanup
}

func TestBranch_NonGitDir(t *testing.T) {
	assert.Empty(t, Branch(t.TempDir()))
}

func TestWatcherFileChanged(t *testing.T) {
	dir := t.TempDir()
	bus := event.NewBus()
	defer bus.Close()

	w, err := NewWatcher(dir, bus, logging.Nop())
	require.NoError(t, err)
	defer w.Stop()

	snapshot, cleanup := collectEvents(t, bus, event.FileChanged)
	defer cleanup()

	w.Start()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))

	require.Eventually(t, func() bool {
		for _, ev := range snapshot() {
			if d, ok := ev.Data.(event.FileData); ok && d.Path == "notes.txt" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherIgnoresHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	bus := event.NewBus()
	defer bus.Close()

	w, err := NewWatcher(dir, bus, logging.Nop())
	require.NoError(t, err)
	defer w.Stop()

	snapshot, cleanup := collectEvents(t, bus, event.FileChanged)
	defer cleanup()

	w.Start()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "visible.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		for _, ev := range snapshot() {
			if d, ok := ev.Data.(event.FileData); ok && d.Path == "visible.txt" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	for _, ev := range snapshot() {
		if d, ok := ev.Data.(event.FileData); ok {
			assert.NotEqual(t, ".hidden", d.Path)
		}
	}
}

func TestCurrentFile(t *testing.T) {
	dir := t.TempDir()
	bus := event.NewBus()
	defer bus.Close()

	w, err := NewWatcher(dir, bus, logging.Nop())
	require.NoError(t, err)
	defer w.Stop()

	snapshot, cleanup := collectEvents(t, bus, event.FileOpened)
	defer cleanup()

	require.Empty(t, w.CurrentFile())
	w.SetCurrentFile("main.go")
	w.SetCurrentFile("main.go") // no duplicate event
	w.SetCurrentFile("other.go")

	require.Equal(t, "other.go", w.CurrentFile())
	events := snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "main.go", events[0].Data.(event.FileData).Path)
	assert.Equal(t, "other.go", events[1].Data.(event.FileData).Path)
}

func TestWatcherMergeState(t *testing.T) {
	dir := createTempGitRepo(t)
	bus := event.NewBus()
	defer bus.Close()

	w, err := NewWatcher(dir, bus, logging.Nop())
	require.NoError(t, err)
	defer w.Stop()

	require.False(t, w.MergeInProgress())
	snapshot, cleanup := collectEvents(t, bus, event.MergeStarted, event.MergeEnded)
	defer cleanup()

	w.Start()

	mergeHead := filepath.Join(dir, ".git", "MERGE_HEAD")
	require.NoError(t, os.WriteFile(mergeHead, []byte("0000000000000000000000000000000000000000\n"), 0o644))
	require.Eventually(t, w.MergeInProgress, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(mergeHead))
	require.Eventually(t, func() bool { return !w.MergeInProgress() }, 3*time.Second, 20*time.Millisecond)

	var started, ended bool
	for _, ev := range snapshot() {
		switch ev.Type {
		case event.MergeStarted:
			started = true
		case event.MergeEnded:
			ended = true
		}
	}
	assert.True(t, started)
	assert.True(t, ended)
}

func createTempGitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	cmd := exec.Command("git", "init")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("git init failed: %v: %s", err, out)
	}
	return dir
}

func TestWatcherSeesConfigDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".actiongate"), 0o755))
	bus := event.NewBus()
	defer bus.Close()

	w, err := NewWatcher(dir, bus, logging.Nop())
	require.NoError(t, err)
	defer w.Stop()

	snapshot, cleanup := collectEvents(t, bus, event.FileChanged)
	defer cleanup()

	w.Start()
	conf := filepath.Join(dir, ".actiongate", "actiongate.jsonc")
	require.NoError(t, os.WriteFile(conf, []byte("{}"), 0o644))

	want := filepath.Join(".actiongate", "actiongate.jsonc")
	require.Eventually(t, func() bool {
		for _, ev := range snapshot() {
			if d, ok := ev.Data.(event.FileData); ok && d.Path == want {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}
