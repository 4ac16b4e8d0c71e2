// Package watcher watches seed directories and hands settled files to an import callback.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Handler is called once per settled file. Calls are serialized.
type Handler func(ctx context.Context, path string)

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger for the watcher.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must stay quiet before it is handled.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRecursive makes the watcher descend into subdirectories.
func WithRecursive(recursive bool) Option {
	return func(w *Watcher) { w.recursive = recursive }
}

// Watcher feeds new and rewritten seed files to a Handler. Removing a file
// does not remove the entries it contributed.
type Watcher struct {
	dirs       []string
	extensions []string
	handle     Handler
	debounce   time.Duration
	recursive  bool
	logger     *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	timers  map[string]*time.Timer
	ready   chan string
	done    chan struct{}
	workers sync.WaitGroup
}

// New creates a watcher over dirs. Only files whose extension is in
// extensions are handled; an empty list accepts every file.
func New(dirs, extensions []string, handle Handler, opts ...Option) *Watcher {
	w := &Watcher{
		dirs:       cleanDirs(dirs),
		extensions: extensions,
		handle:     handle,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		timers:     make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func cleanDirs(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	seen := make(map[string]bool)
	for _, d := range dirs {
		if abs, err := filepath.Abs(d); err == nil {
			d = abs
		}
		d = filepath.Clean(d)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// Directories returns the watched seed directories.
func (w *Watcher) Directories() []string {
	return append([]string(nil), w.dirs...)
}

// Start begins watching. Missing directories are created. The watcher runs
// until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range w.dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			_ = fsw.Close()
			return err
		}
		if err := w.watchTree(fsw, dir); err != nil {
			_ = fsw.Close()
			return err
		}
	}
	w.fsw = fsw
	w.ready = make(chan string, 64)
	w.done = make(chan struct{})
	w.logger.Info("Watching seed directories",
		zap.Strings("dirs", w.dirs),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))

	w.workers.Add(2)
	go w.loop(ctx, fsw, w.done)
	go w.dispatch(ctx, w.ready, w.done)
	return nil
}

func (w *Watcher) watchTree(fsw *fsnotify.Watcher, dir string) error {
	if !w.recursive {
		return fsw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && ignored(path) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer w.workers.Done()
	for {
		select {
		case <-ctx.Done():
			go w.Stop()
			return
		case <-done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if ignored(path) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if w.recursive {
				w.logger.Debug("New seed subdirectory", zap.String("path", path))
				if err := w.watchTree(fsw, path); err != nil {
					w.logger.Warn("Failed to watch directory", zap.String("path", path), zap.Error(err))
				}
				w.enqueueTree(path)
			}
			return
		}
		if w.accepts(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
	}
}

// schedule (re)starts the quiet period for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	ready, done := w.ready, w.done
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case ready <- path:
		case <-done:
		}
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) dispatch(ctx context.Context, ready <-chan string, done chan struct{}) {
	defer w.workers.Done()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case path := <-ready:
			w.logger.Debug("Seed file settled", zap.String("path", path))
			w.handle(ctx, path)
		}
	}
}

func (w *Watcher) enqueueTree(dir string) {
	for _, path := range w.files(dir) {
		w.schedule(path)
	}
}

// SyncExisting handles every matching file already present in the watched
// directories, in lexical order, before returning.
func (w *Watcher) SyncExisting(ctx context.Context) error {
	for _, dir := range w.dirs {
		for _, path := range w.files(dir) {
			if err := ctx.Err(); err != nil {
				return err
			}
			w.handle(ctx, path)
		}
	}
	return nil
}

func (w *Watcher) files(dir string) []string {
	var paths []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && (!w.recursive || ignored(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !ignored(path) && w.accepts(path) {
			paths = append(paths, path)
		}
		return nil
	})
	return paths
}

func (w *Watcher) accepts(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range w.extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// ignored reports hidden files and editor or spreadsheet lock files.
func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") || strings.HasSuffix(base, "~")
}

// Stop stops watching and waits for an in-flight handler to return.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	close(w.done)
	w.mu.Unlock()
	w.workers.Wait()
}
