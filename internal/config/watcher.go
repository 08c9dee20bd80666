// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher monitors the configuration file and invokes a reload callback with
// the freshly parsed configuration whenever the file changes. Reload failures
// are logged and the previous configuration stays in effect, so readers never
// observe a half-updated state.
type Watcher struct {
	configPath string
	reload     func(*Config)

	watcher *fsnotify.Watcher
	stop    chan struct{}
	mu      sync.Mutex

	// debounce absorbs editor write bursts (truncate+write, rename-swap)
	debounce time.Duration
}

// NewWatcher creates a configuration file watcher. The reload callback runs
// on the watcher goroutine; it must not block for long.
func NewWatcher(configPath string, reload func(*Config)) (*Watcher, error) {
	return &Watcher{
		configPath: configPath,
		reload:     reload,
		stop:       make(chan struct{}),
		debounce:   200 * time.Millisecond,
	}, nil
}

// Start begins watching the configuration file until the context is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()

	// Watch the directory rather than the file so atomic rename-swap saves
	// keep being observed.
	if err := fw.Add(filepath.Dir(w.configPath)); err != nil {
		fw.Close()
		return err
	}

	go w.loop(ctx, fw)
	log.Debugf("config watcher started for %s", w.configPath)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			cfg, err := LoadConfig(w.configPath)
			if err != nil {
				log.Warnf("config reload skipped, file invalid: %v", err)
				continue
			}
			log.Infof("configuration reloaded from %s", w.configPath)
			w.reload(cfg)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			log.Warnf("config watcher error: %v", err)
		}
	}
}

// Stop terminates the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
