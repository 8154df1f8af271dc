// Package watch feeds file-system changes from the drop directory into
// the ingestion coordinator. The relative file path is the source
// identity, so repeated writes to the same file serialize behind each
// other while unrelated files ingest in parallel.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/ingest"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/store"
)

// Sweep ingests every .md file currently in the drop directory. It runs
// at startup as the bulk-import pass; unchanged files short-circuit on
// their checksum inside the coordinator.
func Sweep(ctx context.Context, co *ingest.Coordinator, provider storage.Provider, logger *slog.Logger) error {
	infos, err := provider.List("")
	if err != nil {
		return err
	}
	for _, fi := range infos {
		data, err := provider.Read(fi.Path)
		if err != nil {
			logger.Warn("sweep: read failed", slog.String("path", fi.Path), slog.String("error", err.Error()))
			continue
		}
		if _, err := co.Ingest(ctx, fi.Path, data); err != nil {
			logger.Warn("sweep: ingest failed", slog.String("path", fi.Path), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Watch starts an fsnotify watcher on the drop directory and processes
// file change events until ctx is cancelled. Created and written .md
// files are ingested; removed or renamed-away files are archived (never
// deleted). New directories created at runtime are added to the watch
// list; renames schedule a short reconciliation pass to catch files
// that moved within the tree.
func Watch(ctx context.Context, co *ingest.Coordinator, st *store.DB, provider storage.Provider, root string, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(ctx, co, st, provider, logger)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					ingestDir(ctx, co, provider, root, absPath, logger)
					continue
				}
			}

			if !strings.HasSuffix(absPath, ".md") {
				continue
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := provider.Read(rel)
				if readErr != nil {
					logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", readErr.Error()))
					continue
				}
				if _, ingErr := co.Ingest(ctx, rel, data); ingErr != nil {
					logger.Warn("watcher: ingest failed", slog.String("path", rel), slog.String("error", ingErr.Error()))
				}

			case ev.Op&fsnotify.Remove != 0:
				archive(ctx, co, rel, logger)

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only; the new path
				// arrives as a separate Create event if it stays inside the
				// watched tree. Archive the old identity now and reconcile
				// shortly after for stragglers.
				archive(ctx, co, rel, logger)
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func archive(ctx context.Context, co *ingest.Coordinator, rel string, logger *slog.Logger) {
	if err := co.Archive(ctx, rel); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		logger.Warn("watcher: archive failed", slog.String("path", rel), slog.String("error", err.Error()))
	}
}

// reconcile compares the drop directory against the store: files on disk
// are (re-)ingested, file-sourced notes whose files vanished are
// archived.
func reconcile(ctx context.Context, co *ingest.Coordinator, st *store.DB, provider storage.Provider, logger *slog.Logger) {
	infos, err := provider.List("")
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}
	disk := make(map[string]struct{}, len(infos))
	for _, fi := range infos {
		disk[fi.Path] = struct{}{}
		data, readErr := provider.Read(fi.Path)
		if readErr != nil {
			continue
		}
		if _, ingErr := co.Ingest(ctx, fi.Path, data); ingErr != nil {
			logger.Warn("reconcile: ingest failed", slog.String("path", fi.Path), slog.String("error", ingErr.Error()))
		}
	}

	notes, err := st.All(ctx)
	if err != nil {
		logger.Warn("reconcile: store scan failed", slog.String("error", err.Error()))
		return
	}
	for _, n := range notes {
		if n.Status == models.StatusArchived {
			continue
		}
		if !strings.HasSuffix(n.Source, ".md") {
			continue // not a file-sourced note
		}
		if _, onDisk := disk[n.Source]; !onDisk {
			archive(ctx, co, n.Source, logger)
		}
	}
}

// ingestDir ingests any .md files found in a newly created directory.
func ingestDir(ctx context.Context, co *ingest.Coordinator, provider storage.Provider, root, dirPath string, logger *slog.Logger) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		data, readErr := provider.Read(rel)
		if readErr != nil {
			return nil
		}
		if _, ingErr := co.Ingest(ctx, rel, data); ingErr != nil {
			logger.Warn("watcher: ingest from new dir failed", slog.String("path", rel), slog.String("error", ingErr.Error()))
		}
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
