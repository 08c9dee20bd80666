// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// logDirCleanInterval is how often the background cleaner re-checks the
// logs directory.
const logDirCleanInterval = 5 * time.Minute

var logDirCleanerStop chan struct{}

// configureLogDirCleanerLocked starts (or restarts) the background cleaner
// that keeps the total size of the logs directory within maxTotalSizeMB by
// deleting the oldest rotated files. The active log file is never deleted.
// A maxTotalSizeMB of 0 or less disables the cleaner. Caller must hold
// writerMu.
func configureLogDirCleanerLocked(logDir string, maxTotalSizeMB int, protectedPath string) {
	stopLogDirCleanerLocked()

	if maxTotalSizeMB <= 0 || logDir == "" {
		return
	}

	maxTotalBytes := int64(maxTotalSizeMB) * 1024 * 1024
	stop := make(chan struct{})
	logDirCleanerStop = stop

	go func() {
		cleanLogDir(logDir, maxTotalBytes, protectedPath)
		ticker := time.NewTicker(logDirCleanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				cleanLogDir(logDir, maxTotalBytes, protectedPath)
			}
		}
	}()
}

// stopLogDirCleanerLocked stops the background cleaner if one is running.
// Caller must hold writerMu.
func stopLogDirCleanerLocked() {
	if logDirCleanerStop != nil {
		close(logDirCleanerStop)
		logDirCleanerStop = nil
	}
}

type logFileInfo struct {
	path    string
	size    int64
	modTime time.Time
}

// cleanLogDir deletes the oldest .log files in dir until the directory's
// total size is at or below maxTotalBytes. protectedPath is skipped so the
// file currently being written is never removed. Returns the number of
// files deleted.
func cleanLogDir(dir string, maxTotalBytes int64, protectedPath string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	var files []logFileInfo
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, logFileInfo{
			path:    filepath.Join(dir, e.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		total += info.Size()
	}

	if total <= maxTotalBytes {
		return 0
	}

	// Oldest first.
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	deleted := 0
	for _, f := range files {
		if total <= maxTotalBytes {
			break
		}
		if f.path == protectedPath {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			log.Warnf("Failed to delete old log file %s: %v", f.path, err)
			continue
		}
		total -= f.size
		deleted++
	}
	if deleted > 0 {
		log.Debugf("Log cleanup removed %d old file(s) from %s", deleted, dir)
	}
	return deleted
}
