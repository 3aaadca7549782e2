package vault

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/granola-companion/internal/checksum"
	"github.com/starford/granola-companion/internal/models"
)

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the vault root and turns changes made
// outside the vault API (for example by the sync process writing files
// directly) into host events, until ctx is cancelled.
//
// Writes the vault made itself are recognised by checksum and not echoed.
// fsnotify reports a rename as a Rename of the old path plus a Create of the
// new one, so external moves surface as delete + create; a debounced
// reconciliation pass catches moves of whole directories.
func (v *Vault) Watch(ctx context.Context, root string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	v.logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			v.logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if err := v.Reconcile(); err != nil {
				v.logger.Warn("reconcile: failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name
			if isHidden(root, absPath) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						v.logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						v.logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					v.indexNewDir(root, absPath)
					continue
				}
			}

			if ev.Op&fsnotify.Rename != 0 {
				scheduleReconcile()
			}

			if !strings.HasSuffix(absPath, ".md") {
				continue
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				v.externalWrite(rel)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				v.externalRemove(rel)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			v.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// externalWrite records a file written outside the vault API. Unknown paths
// become create events; known paths with new content get their metadata
// recomputed. Content matching the cache is an echo and is ignored.
func (v *Vault) externalWrite(rel string) {
	data, err := v.store.Read(rel)
	if err != nil {
		v.logger.Debug("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	cs := checksum.Sum(data)

	v.mu.Lock()
	e, ok := v.files[rel]
	if ok && e.checksum == cs {
		v.mu.Unlock()
		return
	}
	if ok {
		e.checksum = cs
		v.mu.Unlock()
		v.scheduleMetadata(rel)
		return
	}
	f := models.NewFile(rel)
	v.files[rel] = &entry{file: f, checksum: cs}
	v.mu.Unlock()

	v.logger.Debug("watcher: external create", slog.String("path", rel))
	v.emit(Event{Kind: EventCreate, File: f})
	v.scheduleMetadata(rel)
}

// externalRemove drops a path removed (or moved away) outside the vault API.
func (v *Vault) externalRemove(rel string) {
	if ok, _ := v.store.Exists(rel); ok {
		return
	}
	v.mu.Lock()
	e, ok := v.files[rel]
	if !ok {
		v.mu.Unlock()
		return
	}
	delete(v.files, rel)
	v.mu.Unlock()

	v.logger.Debug("watcher: external delete", slog.String("path", rel))
	v.emit(Event{Kind: EventDelete, File: e.file})
}

// Reconcile compares the cache with the disk: entries without a file are
// removed and files the cache does not know, or knows with other content,
// are picked up.
func (v *Vault) Reconcile() error {
	metas, err := v.store.List("")
	if err != nil {
		return err
	}
	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}

	v.mu.RLock()
	var stale []string
	known := make(map[string]string, len(v.files))
	for p, e := range v.files {
		known[p] = e.checksum
		if _, ok := disk[p]; !ok {
			stale = append(stale, p)
		}
	}
	v.mu.RUnlock()

	for _, p := range stale {
		v.externalRemove(p)
	}
	for p, cs := range disk {
		if known[p] == cs {
			continue
		}
		v.externalWrite(p)
	}
	return nil
}

// indexNewDir picks up any .md files found in a newly created directory.
func (v *Vault) indexNewDir(root, dirPath string) {
	_ = filepath.WalkDir(dirPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		v.externalWrite(filepath.ToSlash(rel))
		return nil
	})
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

// isHidden reports whether absPath lies in a dot-directory under root or is a
// dotfile (temporary files written by storage).
func isHidden(root, absPath string) bool {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
