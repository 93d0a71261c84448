package knowledge

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/aihub/docqa/internal/logger"
)

// DefaultDebounce 同一文件连续事件的合并窗口
const DefaultDebounce = 500 * time.Millisecond

// FolderWatcher 监听目录变化并增量索引：写入或新建的文件重新索引，删除或移走的文件按source_path删除
type FolderWatcher struct {
	pipeline  *IndexingPipeline
	section   string
	ownerID   *int64
	recursive bool
	debounce  time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// NewFolderWatcher 创建目录监听器
func NewFolderWatcher(pipeline *IndexingPipeline, section string, recursive bool, ownerID *int64) *FolderWatcher {
	return &FolderWatcher{
		pipeline:  pipeline,
		section:   section,
		ownerID:   ownerID,
		recursive: recursive,
		debounce:  DefaultDebounce,
		pending:   make(map[string]*time.Timer),
	}
}

// SetDebounce 修改合并窗口
func (w *FolderWatcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Watch 阻塞直到ctx取消
func (w *FolderWatcher) Watch(ctx context.Context, folder string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.addDirs(fsw, folder); err != nil {
		return err
	}
	logger.Info("Watching folder", zap.String("folder", folder), zap.Bool("recursive", w.recursive))

	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Folder watcher error", zap.Error(err))
		}
	}
}

func (w *FolderWatcher) addDirs(fsw *fsnotify.Watcher, root string) error {
	if !w.recursive {
		return fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

func (w *FolderWatcher) handle(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if event.Has(fsnotify.Create) && w.recursive {
				if err := w.addDirs(fsw, event.Name); err != nil {
					logger.Warn("Failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
				}
			}
			return
		}
		if info.Mode().IsRegular() {
			w.schedule(ctx, event.Name, true)
		}
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		w.schedule(ctx, event.Name, false)
	}
}

// schedule 在debounce窗口后执行最后一次事件对应的操作
func (w *FolderWatcher) schedule(ctx context.Context, path string, index bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		if t.Stop() {
			w.wg.Done()
		}
	}

	w.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()

		w.mu.Lock()
		if w.pending[path] == timer {
			delete(w.pending, path)
		}
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if index {
			if _, err := w.pipeline.IndexFile(ctx, path, w.section, w.ownerID); err != nil {
				logger.Warn("Failed to index changed file", zap.String("path", path), zap.Error(err))
			}
			return
		}
		if _, err := w.pipeline.RemoveDocument(ctx, DeleteFilter{SourcePath: StringPtr(path), OwnerID: w.ownerID}); err != nil {
			logger.Warn("Failed to remove deleted file", zap.String("path", path), zap.Error(err))
		}
	})
	w.pending[path] = timer
}

func (w *FolderWatcher) stopPending() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
