package store

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hatlonely/resx/log"
	"github.com/pkg/errors"
)

type FixtureWatcherOptions struct {
	FilePath string `cfg:"filePath" validate:"required"`
}

// FixtureWatcher 监听夹具文件，文件变化时清空 Store 并重新加载
type FixtureWatcher struct {
	store    *Store
	filePath string
	onReload func(error)

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	logger log.Logger
}

// NewFixtureWatcher 创建监听器，onReload 在每次重新加载后调用，可以为 nil
func NewFixtureWatcher(store *Store, options *FixtureWatcherOptions, logger log.Logger, onReload func(error)) (*FixtureWatcher, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if options == nil || options.FilePath == "" {
		return nil, errors.New("filePath is required")
	}
	if logger == nil {
		logger = log.Default()
	}

	filePath, err := filepath.Abs(options.FilePath)
	if err != nil {
		return nil, errors.Wrapf(err, "filepath.Abs failed. filePath: %s", options.FilePath)
	}

	return &FixtureWatcher{
		store:    store,
		filePath: filePath,
		onReload: onReload,
		done:     make(chan struct{}),
		logger:   logger.WithGroup("fixtureWatcher").With("filePath", filePath),
	}, nil
}

// Start 先加载一次夹具，然后在后台监听文件变化
func (w *FixtureWatcher) Start(ctx context.Context) error {
	if err := w.reload(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "fsnotify.NewWatcher failed")
	}
	// 监听目录，编辑器保存时常常是删除后重建文件
	if err := watcher.Add(filepath.Dir(w.filePath)); err != nil {
		_ = watcher.Close()
		return errors.Wrap(err, "watcher.Add failed")
	}
	w.watcher = watcher

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if filepath.Clean(event.Name) != w.filePath {
					continue
				}

				err := w.reload(ctx)
				if err != nil {
					w.logger.Warn("reload fixtures failed", "error", err)
				}
				if w.onReload != nil {
					w.onReload(err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watcher error", "error", err)
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (w *FixtureWatcher) reload(ctx context.Context) error {
	if err := w.store.Reset(ctx); err != nil {
		return errors.WithMessage(err, "store.Reset failed")
	}
	if err := w.store.LoadFile(ctx, w.filePath); err != nil {
		return errors.WithMessage(err, "store.LoadFile failed")
	}
	w.logger.Info("fixtures reloaded")
	return nil
}

func (w *FixtureWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.wg.Wait()
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}
