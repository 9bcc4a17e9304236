// Package watcher reports changed assembly files under the resolver search
// roots so stale cached locations can be dropped.
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ilview/internal/shared/observability"
)

// Root is a directory to watch. Only recursive roots watch subdirectories.
type Root struct {
	Path      string
	Recursive bool
}

type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	debounce   time.Duration
	exclude    func(path string) bool
	extensions map[string]bool
	onChange   func([]string)
	callbackMu sync.Mutex

	rootsMu sync.Mutex
	roots   []Root

	pending   map[string]time.Time
	pendingMu sync.Mutex
	timer     *time.Timer
}

// NewWatcher reports batches of changed .dll and .exe paths to onChange.
// exclude may be nil.
func NewWatcher(debounce time.Duration, exclude func(string) bool, onChange func([]string)) (*Watcher, error) {
	if onChange == nil {
		return nil, os.ErrInvalid
	}
	if exclude == nil {
		exclude = func(string) bool { return false }
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsWatcher:  fsw,
		debounce:   debounce,
		exclude:    exclude,
		extensions: map[string]bool{".dll": true, ".exe": true},
		onChange:   onChange,
		pending:    make(map[string]time.Time),
	}, nil
}

func (w *Watcher) SetDebounce(debounce time.Duration) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.debounce = debounce
}

// Watch adds the roots and starts delivering events.
func (w *Watcher) Watch(roots []Root) error {
	for _, root := range roots {
		if err := w.add(root); err != nil {
			return err
		}
	}
	go w.run()
	return nil
}

func (w *Watcher) add(root Root) error {
	w.rootsMu.Lock()
	w.roots = append(w.roots, root)
	w.rootsMu.Unlock()

	if !root.Recursive {
		return w.fsWatcher.Add(root.Path)
	}
	return w.watchRecursive(root.Path)
}

func (w *Watcher) watchRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != dir && w.exclude(path) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// underRecursiveRoot reports whether a new directory should be followed.
func (w *Watcher) underRecursiveRoot(path string) bool {
	w.rootsMu.Lock()
	defer w.rootsMu.Unlock()
	for _, root := range w.roots {
		if !root.Recursive {
			continue
		}
		rel, err := filepath.Rel(root.Path, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()

			if event.Op&fsnotify.Create == fsnotify.Create {
				info, err := os.Stat(event.Name)
				if err == nil && info.IsDir() {
					if w.underRecursiveRoot(event.Name) && !w.exclude(event.Name) {
						if err := w.watchRecursive(event.Name); err != nil {
							slog.Warn("failed to watch new directory", "path", event.Name, "error", err)
						} else {
							w.enqueueExistingFiles(event.Name)
						}
					}
					continue
				}
			}

			if w.shouldExcludeFile(event.Name) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.scheduleChange(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleChange(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[path] = time.Now()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flushChanges)
}

func (w *Watcher) flushChanges() {
	w.pendingMu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]time.Time)
	w.pendingMu.Unlock()

	if len(paths) > 0 {
		w.callbackMu.Lock()
		defer w.callbackMu.Unlock()
		w.onChange(paths)
	}
}

func (w *Watcher) shouldExcludeFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if !w.extensions[ext] {
		return true
	}
	return w.exclude(path)
}

func (w *Watcher) Close() error {
	w.pendingMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pendingMu.Unlock()
	return w.fsWatcher.Close()
}

func (w *Watcher) enqueueExistingFiles(root string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if w.shouldExcludeFile(path) {
			return nil
		}
		w.scheduleChange(path)
		return nil
	})
}
