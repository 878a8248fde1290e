package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/slighter12/isocity-host-go/logger"
)

// AssetsPresent reports whether root is a directory holding the entry page.
func AssetsPresent(root, entry string) bool {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return false
	}
	info, err = os.Stat(filepath.Join(root, filepath.FromSlash(entry)))
	return err == nil && !info.IsDir()
}

// AssetWatcher reports when the bundled web build appears or disappears, so a
// rebuilt bundle is picked up without restarting the host.
type AssetWatcher struct {
	root     string
	entry    string
	onChange func(present bool)
	watcher  *fsnotify.Watcher
	present  bool
}

// NewAssetWatcher watches root and its parent directory. The parent must exist.
func NewAssetWatcher(root, entry string, onChange func(present bool)) (*AssetWatcher, error) {
	root = filepath.Clean(root)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create asset watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(root)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(root), err)
	}
	w := &AssetWatcher{
		root:     root,
		entry:    entry,
		onChange: onChange,
		watcher:  watcher,
		present:  AssetsPresent(root, entry),
	}
	w.watchRoot()
	return w, nil
}

// Run delivers presence changes until ctx is done or Close is called.
func (w *AssetWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event.Name) {
				continue
			}
			if event.Name == w.root && event.Has(fsnotify.Create) {
				w.watchRoot()
			}
			w.recheck()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Asset watcher error", "root", w.root, "error", err)
		}
	}
}

func (w *AssetWatcher) Close() error {
	return w.watcher.Close()
}

func (w *AssetWatcher) relevant(name string) bool {
	name = filepath.Clean(name)
	return name == w.root || filepath.Dir(name) == w.root
}

func (w *AssetWatcher) watchRoot() {
	if info, err := os.Stat(w.root); err == nil && info.IsDir() {
		if err := w.watcher.Add(w.root); err != nil {
			logger.Debug("Could not watch web root", "root", w.root, "error", err)
		}
	}
}

func (w *AssetWatcher) recheck() {
	present := AssetsPresent(w.root, w.entry)
	if present == w.present {
		return
	}
	w.present = present
	logger.Info("Web bundle presence changed", "root", w.root, "present", present)
	w.onChange(present)
}
