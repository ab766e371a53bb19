package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"vidpilot/internal/logging"
)

// HandlerFunc processes one detected path.
type HandlerFunc func(ctx context.Context, path string) error

// Watcher reports files created, written or renamed in a folder. A path is handed to
// the handler at most once at a time; events arriving while it is being
// handled are folded into that run.
type Watcher struct {
	folder          string
	processExisting bool
	handler         HandlerFunc
	logger          *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// NewWatcher builds a watcher for folder.
func NewWatcher(folder string, processExisting bool, handler HandlerFunc, logger *slog.Logger) *Watcher {
	return &Watcher{
		folder:          folder,
		processExisting: processExisting,
		handler:         handler,
		logger:          logging.NewComponentLogger(logger, "watcher"),
		pending:         make(map[string]struct{}),
	}
}

// Run watches until ctx ends and waits for in-flight handlers before
// returning.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.folder, 0o755); err != nil {
		return fmt.Errorf("ensure watch folder: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.folder); err != nil {
		return fmt.Errorf("watch %s: %w", w.folder, err)
	}
	defer w.wg.Wait()

	w.logger.Info("watching folder",
		logging.String("folder", w.folder),
		logging.Bool("process_existing", w.processExisting),
	)
	if w.processExisting {
		w.scanExisting(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logging.WarnWithContext(w.logger, "watch event queue overflowed; rescanning folder", "watch_overflow",
					logging.String(logging.FieldImpact, "events may have been dropped"),
				)
				w.scanExisting(ctx)
				continue
			}
			w.logger.Warn("watcher error", logging.Error(err))
		}
	}
}

// handleEvent dispatches creates, writes and renames. Depending on the
// platform a rename reports the old name or the new one, so the path is
// re-stated and only a regular file still present is dispatched.
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.dispatch(ctx, event.Name)
	case event.Has(fsnotify.Rename):
		info, err := os.Stat(event.Name)
		if err != nil || !info.Mode().IsRegular() {
			w.logger.Debug("renamed path no longer present; ignoring", logging.String("path", event.Name))
			return
		}
		w.dispatch(ctx, event.Name)
	}
}

func (w *Watcher) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.folder)
	if err != nil {
		w.logger.Warn("scan watch folder failed", logging.Error(err))
		return
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		w.dispatch(ctx, filepath.Join(w.folder, name))
	}
}

func (w *Watcher) dispatch(ctx context.Context, path string) {
	w.mu.Lock()
	if _, busy := w.pending[path]; busy {
		w.mu.Unlock()
		return
	}
	w.pending[path] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()
		}()
		if err := w.handler(ctx, path); err != nil && ctx.Err() == nil {
			w.logger.Warn("file submission failed",
				logging.String("path", path),
				logging.String(logging.FieldEventType, "watch_submit_failed"),
				logging.Error(err),
			)
		}
	}()
}
