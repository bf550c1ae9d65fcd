// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package hostctx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/whisper/internal/logging"
)

// CodeSource reports the user's current code. An empty result means no
// code has been written; the caller substitutes its no-code sentinel.
type CodeSource interface {
	Code(ctx context.Context) (string, error)
}

// StaticCode is fixed code.
type StaticCode string

// Code implements CodeSource.
func (c StaticCode) Code(context.Context) (string, error) {
	return normalizeCode(string(c), ""), nil
}

// normalizeCode returns "" for blank code or untouched starter code.
func normalizeCode(code, starter string) string {
	if strings.TrimSpace(code) == "" {
		return ""
	}
	if starter != "" && strings.TrimSpace(code) == strings.TrimSpace(starter) {
		return ""
	}
	return code
}

// =============================================================================
// FILE CODE
// =============================================================================

// FileCode tracks a source file the user edits in their own editor. The
// latest content is cached and refreshed from fsnotify events, so Code
// never blocks on disk.
type FileCode struct {
	path    string
	starter string

	mu       sync.RWMutex
	snapshot string
	err      error

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// NewFileCode starts watching path. starter is the editor's template code;
// content equal to it counts as no code. A missing file is not an error
// until it is read.
func NewFileCode(path, starter string) (*FileCode, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so atomic saves (write temp, rename) are seen.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	fc := &FileCode{
		path:    abs,
		starter: starter,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	fc.reload()

	fc.wg.Add(1)
	go fc.processEvents()
	return fc, nil
}

// Code implements CodeSource.
func (fc *FileCode) Code(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	if fc.err != nil {
		return "", fc.err
	}
	return normalizeCode(fc.snapshot, fc.starter), nil
}

// Close stops watching. It is safe to call more than once.
func (fc *FileCode) Close() error {
	fc.closeOnce.Do(func() {
		close(fc.done)
		fc.closeErr = fc.watcher.Close()
		fc.wg.Wait()
	})
	return fc.closeErr
}

func (fc *FileCode) reload() {
	data, err := os.ReadFile(fc.path)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	switch {
	case errors.Is(err, os.ErrNotExist):
		fc.snapshot, fc.err = "", nil
	case err != nil:
		fc.err = fmt.Errorf("read code: %w", err)
	default:
		fc.snapshot, fc.err = string(data), nil
	}
}

func (fc *FileCode) processEvents() {
	defer fc.wg.Done()
	for {
		select {
		case <-fc.done:
			return

		case event, ok := <-fc.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fc.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				fc.reload()
				logging.Debug("hostctx: reloaded %s (%s)", fc.path, event.Op)
			}

		case err, ok := <-fc.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("hostctx: watcher error: %v", err)
		}
	}
}
