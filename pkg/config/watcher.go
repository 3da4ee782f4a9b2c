package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/Veraticus/inactivity-detector/pkg/clock"
	"github.com/Veraticus/inactivity-detector/pkg/debounce"
)

// reloadDelay coalesces the burst of events an editor produces on save.
const reloadDelay = 100 * time.Millisecond

// Watcher reloads a config file whenever it changes on disk.
type Watcher struct {
	path     string
	fs       *fsnotify.Watcher
	reload   *debounce.Debouncer[struct{}]
	onChange func(*Config)
	onError  func(error)
	logger   logrus.FieldLogger

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	// held for the whole of a reload, so Close can wait it out
	loadMu sync.Mutex
}

// Watch starts watching path. The parent directory is watched rather than
// the file so that atomic replace-on-save is seen. onChange receives each
// successfully loaded config; onError receives load and watch failures and
// may be nil.
func Watch(path string, logger logrus.FieldLogger, onChange func(*Config), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		fs:       fs,
		onChange: onChange,
		onError:  onError,
		logger:   logger.WithField("path", abs),
		done:     make(chan struct{}),
	}
	w.reload = debounce.New(clock.System, reloadDelay, func(struct{}) { w.load() })

	w.wg.Add(1)
	go w.run()

	w.logger.Debug("watching config file")
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Close stops watching. Pending reloads are dropped and a reload already
// running is waited for, so onChange is never called after Close returns.
// It must not be called from onChange or onError.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.reload.Stop()
		err = w.fs.Close()
		w.wg.Wait()

		w.loadMu.Lock()
		defer w.loadMu.Unlock()
	})
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.WithField("op", event.Op.String()).Debug("config file changed")
			w.reload.Trigger(struct{}{})
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.fail(fmt.Errorf("config watch error: %w", err))
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) load() {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := LoadFile(w.path)
	if err != nil {
		w.fail(err)
		return
	}
	w.logger.Debug("config reloaded")
	w.onChange(cfg)
}

func (w *Watcher) fail(err error) {
	w.logger.WithError(err).Warn("config reload failed")
	if w.onError != nil {
		w.onError(err)
	}
}
