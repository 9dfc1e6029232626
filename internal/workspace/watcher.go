// Package workspace tracks the state of the project directory: which file
// the operator has open, what the git branch is, and whether a merge is in
// progress. Changes are published on the event bus so registrations and
// pending approvals can react to them.
package workspace

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/actiongate/actiongate/internal/event"
)

// Watcher monitors the work directory and its git metadata.
type Watcher struct {
	watcher *fsnotify.Watcher
	bus     *event.Bus
	log     zerolog.Logger
	workDir string
	gitDir  string

	mu            sync.RWMutex
	currentBranch string
	merging       bool
	currentFile   string
	started       bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a watcher for the given work directory. The directory
// does not need to be a git repository; git state tracking is simply
// disabled when it is not.
func NewWatcher(workDir string, bus *event.Bus, log zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(workDir); err != nil {
		fw.Close()
		return nil, err
	}

	// The workDir watch is not recursive, so the project config directory
	// needs its own entry for edits under it to surface.
	confDir := filepath.Join(workDir, ".actiongate")
	if fi, err := os.Stat(confDir); err == nil && fi.IsDir() {
		if err := fw.Add(confDir); err != nil {
			log.Warn().Err(err).Str("dir", confDir).Msg("cannot watch config directory")
		}
	}

	gitDir := findGitDir(workDir)
	if gitDir != "" {
		// Watching the directory rather than HEAD itself; on some systems
		// watching the file directly misses atomic renames.
		if err := fw.Add(gitDir); err != nil {
			log.Warn().Err(err).Str("gitDir", gitDir).Msg("cannot watch git directory")
			gitDir = ""
		}
	}

	w := &Watcher{
		watcher: fw,
		bus:     bus,
		log:     log,
		workDir: workDir,
		gitDir:  gitDir,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if gitDir != "" {
		w.currentBranch = Branch(workDir)
		w.merging = mergeHeadExists(gitDir)
		log.Info().Str("branch", w.currentBranch).Bool("merging", w.merging).Msg("workspace watcher initialized")
	}
	return w, nil
}

// Start begins watching. Calling Start more than once is harmless.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if w.gitDir != "" && strings.HasPrefix(ev.Name, w.gitDir) {
				w.checkGitState()
				continue
			}
			if isHidden(filepath.Base(ev.Name)) {
				continue
			}
			w.publishFileChanged(ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("workspace watcher error")
		}
	}
}

func (w *Watcher) publishFileChanged(path string) {
	rel, err := filepath.Rel(w.workDir, path)
	if err != nil {
		rel = path
	}
	w.bus.PublishSync(event.Event{
		Type: event.FileChanged,
		Data: event.FileData{Path: rel},
	})
}

func (w *Watcher) checkGitState() {
	branch := Branch(w.workDir)
	merging := mergeHeadExists(w.gitDir)

	w.mu.Lock()
	branchChanged := branch != w.currentBranch
	mergeChanged := merging != w.merging
	w.currentBranch = branch
	w.merging = merging
	w.mu.Unlock()

	if !branchChanged && !mergeChanged {
		return
	}

	data := event.GitStateData{Branch: branch, Merging: merging}
	if mergeChanged {
		t := event.MergeEnded
		if merging {
			t = event.MergeStarted
		}
		w.log.Info().Bool("merging", merging).Msg("merge state changed")
		w.bus.PublishSync(event.Event{Type: t, Data: data})
	}
	if branchChanged {
		w.log.Info().Str("branch", branch).Msg("branch changed")
	}
	w.bus.PublishSync(event.Event{Type: event.GitStateChanged, Data: data})
}

// SetCurrentFile records the file the operator is looking at and announces
// the change. Path is relative to the work directory.
func (w *Watcher) SetCurrentFile(path string) {
	w.mu.Lock()
	changed := path != w.currentFile
	w.currentFile = path
	w.mu.Unlock()
	if changed {
		w.bus.PublishSync(event.Event{
			Type: event.FileOpened,
			Data: event.FileData{Path: path},
		})
	}
}

// CurrentFile returns the file most recently opened, or "" when none is.
func (w *Watcher) CurrentFile() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentFile
}

// CurrentBranch returns the tracked branch name, or "" outside a git repo.
func (w *Watcher) CurrentBranch() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentBranch
}

// MergeInProgress reports whether a git merge is underway.
func (w *Watcher) MergeInProgress() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.merging
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}

// findGitDir resolves the repository's git directory, handling worktrees
// where .git is a file rather than a directory.
func findGitDir(workDir string) string {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	gitDir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(workDir, gitDir)
	}
	return gitDir
}

// Branch returns the current git branch for a directory, or "" when the
// directory is not a repository.
func Branch(workDir string) string {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func mergeHeadExists(gitDir string) bool {
	if gitDir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(gitDir, "MERGE_HEAD"))
	return err == nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
