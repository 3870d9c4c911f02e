// Package watch triggers a pipeline run whenever the manifest file changes.
// Editors write manifests in bursts, so changes are debounced before firing.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback is called with the manifest path after a debounced change
type ChangeCallback func(manifestPath string)

// ManifestWatcher monitors a manifest file for edits
type ManifestWatcher struct {
	watcher  *fsnotify.Watcher
	callback ChangeCallback
	path     string
	debounce time.Duration

	timer  *time.Timer
	dirty  bool
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewManifestWatcher creates a watcher for the given manifest path. The
// parent directory is watched because editors replace files on save.
func NewManifestWatcher(path string, callback ChangeCallback) (*ManifestWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &ManifestWatcher{
		watcher:  watcher,
		callback: callback,
		path:     abs,
		debounce: 500 * time.Millisecond,
	}, nil
}

// SetDebounce sets the debounce duration for batching file changes
func (mw *ManifestWatcher) SetDebounce(d time.Duration) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.debounce = d
}

// Start begins watching for file changes
func (mw *ManifestWatcher) Start(ctx context.Context) {
	ctx, mw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-mw.watcher.Events:
				if !ok {
					return
				}
				mw.handleEvent(event)
			case _, ok := <-mw.watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Stop stops watching for file changes
func (mw *ManifestWatcher) Stop() {
	if mw.cancel != nil {
		mw.cancel()
	}
	mw.watcher.Close()
}

func (mw *ManifestWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != mw.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	mw.mu.Lock()
	defer mw.mu.Unlock()

	mw.dirty = true
	if mw.timer != nil {
		mw.timer.Stop()
	}
	mw.timer = time.AfterFunc(mw.debounce, mw.flush)
}

func (mw *ManifestWatcher) flush() {
	mw.mu.Lock()
	fire := mw.dirty
	mw.dirty = false
	mw.mu.Unlock()

	if fire && mw.callback != nil {
		mw.callback(mw.path)
	}
}
