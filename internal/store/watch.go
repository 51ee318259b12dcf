package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watcher monitors the specification source on disk and replaces the store
// contents whenever documents change. Stop must be called to release
// filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// Watch wires fsnotify around the file store's source and reloads the
// registry on any relevant change. Reload failures are reported through
// onError and leave the current registry intact.
func Watch(ctx context.Context, files *FileStore, target *Store, onError func(error)) (*Watcher, error) {
	if files == nil || target == nil {
		return nil, errors.New("store: watch requires a file store and a target store")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("store: watch: %w", err)
	}

	folder, file := files.Source()
	watchPath := folder
	if watchPath == "" {
		// Watch the containing directory so editors that replace the file
		// (rename + create) still trigger a reload.
		watchPath = filepath.Dir(file)
	}
	if err := watcher.Add(watchPath); err != nil {
		cancel()
		if closeErr := watcher.Close(); closeErr != nil && onError != nil {
			onError(fmt.Errorf("store: watch close: %w", closeErr))
		}
		return nil, fmt.Errorf("store: watch %s: %w", watchPath, err)
	}

	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("store: watch close: %w", err))
			}
		}()

		var timer *time.Timer
		var timerC <-chan time.Time
		reload := func() {
			specs, err := files.LoadAll(watchCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if onError != nil {
					onError(err)
				}
				return
			}
			target.ReplaceAll(specs)
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(watchDebounce)
				}
			case <-timerC:
				timer = nil
				timerC = nil
				reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if err != nil && onError != nil {
					onError(fmt.Errorf("store: watch: %w", err))
				}
			}
		}
	}()

	return w, nil
}
