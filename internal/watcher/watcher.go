// Package watcher notifies about file changes in debounced batches. The
// CLI uses it to re-dispatch an event whenever a file feeding one of its
// fields changes.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/qor5/web/internal/debounce"
	"github.com/qor5/web/internal/logging"
)

// FileWatcher watches paths and hands debounced change batches to its
// handlers.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	batcher  *debounce.Batcher[ChangeEvent]
	filters  []FileFilter
	handlers []ChangeHandler
	files    map[string]bool
	mutex    sync.RWMutex
	logger   logging.Logger
	ctx      context.Context
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter determines if a file should be watched
type FileFilter func(path string) bool

// ChangeHandler handles one debounced batch.
type ChangeHandler func(ctx context.Context, events []ChangeEvent) error

// NewFileWatcher creates a watcher that waits for debounceDelay of quiet
// before delivering a batch.
func NewFileWatcher(debounceDelay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	fw := &FileWatcher{
		watcher: w,
		files:   make(map[string]bool),
		logger:  logger.WithComponent("watcher"),
		ctx:     context.Background(),
	}
	fw.batcher = debounce.NewBatcher(debounceDelay, fw.deliver)
	return fw, nil
}

func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddPath watches a directory, or a single file.
func (fw *FileWatcher) AddPath(path string) error {
	cleanPath, err := validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	return fw.watcher.Add(cleanPath)
}

// AddFile watches one file through its directory, so editors that replace
// the file on save are still seen. Once a file is added, events for other
// paths are ignored.
func (fw *FileWatcher) AddFile(path string) error {
	cleanPath, err := validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	abs, err := filepath.Abs(cleanPath)
	if err != nil {
		return fmt.Errorf("getting absolute path: %w", err)
	}

	fw.mutex.Lock()
	fw.files[abs] = true
	fw.mutex.Unlock()
	return fw.watcher.Add(filepath.Dir(abs))
}

// AddRecursive adds a directory and all subdirectories to watch
func (fw *FileWatcher) AddRecursive(root string) error {
	cleanRoot, err := validatePath(root)
	if err != nil {
		return fmt.Errorf("invalid root path: %w", err)
	}

	return filepath.Walk(cleanRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if !NoGitFilter(path) {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

// validatePath cleans path and rejects traversal outside the given root.
func validatePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	cleanPath := filepath.Clean(path)
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path contains directory traversal: %s", path)
	}
	return cleanPath, nil
}

// Start runs the watch loop until ctx is done or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.mutex.Lock()
	fw.ctx = ctx
	fw.mutex.Unlock()

	go fw.watchLoop(ctx)
	return nil
}

// Stop drops pending changes and closes the underlying watcher.
func (fw *FileWatcher) Stop() error {
	fw.batcher.Stop()
	return fw.watcher.Close()
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	fw.mutex.RLock()
	filters := fw.filters
	files := fw.files
	fw.mutex.RUnlock()

	if len(files) > 0 {
		abs, err := filepath.Abs(event.Name)
		if err != nil || !files[abs] {
			return
		}
	}
	for _, filter := range filters {
		if !filter(event.Name) {
			return
		}
	}

	var modTime time.Time
	var size int64
	if info, err := os.Stat(event.Name); err == nil {
		modTime = info.ModTime()
		size = info.Size()
	}

	fw.batcher.Add(ChangeEvent{
		Type:    eventType(event.Op),
		Path:    event.Name,
		ModTime: modTime,
		Size:    size,
	})
}

func eventType(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventTypeCreated
	case op.Has(fsnotify.Write):
		return EventTypeModified
	case op.Has(fsnotify.Remove):
		return EventTypeDeleted
	case op.Has(fsnotify.Rename):
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}

func (fw *FileWatcher) deliver(batch []ChangeEvent) {
	events := Coalesce(batch)

	fw.mutex.RLock()
	handlers := fw.handlers
	ctx := fw.ctx
	fw.mutex.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, events); err != nil {
			fw.logger.Warn(ctx, err, "File watcher handler error", "events", len(events))
		}
	}
}

// Coalesce keeps the last event per path, ordered by path.
func Coalesce(batch []ChangeEvent) []ChangeEvent {
	last := make(map[string]ChangeEvent, len(batch))
	for _, e := range batch {
		last[e.Path] = e
	}
	events := make([]ChangeEvent, 0, len(last))
	for _, e := range last {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}

// ExtFilter accepts paths with one of the given extensions.
func ExtFilter(exts ...string) FileFilter {
	return func(path string) bool {
		ext := filepath.Ext(path)
		for _, e := range exts {
			if ext == e {
				return true
			}
		}
		return false
	}
}

// NoTempFilter rejects editor swap and backup files.
func NoTempFilter(path string) bool {
	base := filepath.Base(path)
	return !strings.HasSuffix(base, "~") &&
		!strings.HasSuffix(base, ".swp") &&
		!strings.HasPrefix(base, ".#")
}

func NoGitFilter(path string) bool {
	return filepath.Base(path) != ".git" && !strings.Contains(filepath.ToSlash(path), "/.git/")
}
