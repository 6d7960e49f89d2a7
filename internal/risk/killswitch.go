package risk

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"marlin/internal/logger"
)

// KillSwitch halts new position opens when a flag file exists. The
// engine polls Active once per loop iteration (cooperative, no mid-step
// cancellation); a file watcher keeps the flag current in live mode
// without per-step stat calls.
type KillSwitch struct {
	path    string
	active  atomic.Bool
	watcher *fsnotify.Watcher
}

func NewKillSwitch(path string) *KillSwitch {
	k := &KillSwitch{path: path}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			k.active.Store(true)
		}
	}
	return k
}

// Active reports whether opening new positions is halted.
func (k *KillSwitch) Active() bool { return k.active.Load() }

// Trip halts new opens programmatically (e.g. on a risk breach).
func (k *KillSwitch) Trip() { k.active.Store(true) }

// Reset clears a programmatic trip; the flag file still wins.
func (k *KillSwitch) Reset() {
	if k.path != "" {
		if _, err := os.Stat(k.path); err == nil {
			return
		}
	}
	k.active.Store(false)
}

// Watch follows the flag file's directory so creation and removal flip
// the switch. Close the returned stop function on shutdown. Backtests
// skip Watch entirely; they only use Trip/Active.
func (k *KillSwitch) Watch() (stop func(), err error) {
	if k.path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(k.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	k.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(k.path) {
					continue
				}
				switch {
				case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Write):
					logger.Warnf("[risk] kill switch engaged via %s", k.path)
					k.active.Store(true)
				case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
					logger.Infof("[risk] kill switch cleared via %s", k.path)
					k.active.Store(false)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warnf("[risk] kill switch watcher: %v", err)
			}
		}
	}()
	return func() { w.Close() }, nil
}
