package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher watches the config file's directory and the identity directory and,
// on any filesystem change in either, reloads the config file and pushes a
// fresh Config to every subscriber without requiring a process restart. It
// does not scan identities itself; identity.Registry re-reads its directory
// on every Load.
type Watcher struct {
	configFile string
	watcher    *fsnotify.Watcher
	subs       []func(*Config)
	debounce   time.Duration
}

// NewWatcher builds a watcher for configFile and authDir. The config file
// may not exist yet: fsnotify watches its containing directory, so a later
// create is still observed. authDir is watched directly and must already
// exist; if it does not, the failure is logged and it goes unwatched.
func NewWatcher(configFile, authDir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{configFile: configFile, watcher: fw, debounce: 300 * time.Millisecond}

	if configFile != "" {
		if err = fw.Add(filepath.Dir(configFile)); err != nil {
			log.WithError(err).Warn("config watcher: could not watch config directory")
		}
	}
	if authDir != "" {
		if err = fw.Add(authDir); err != nil {
			log.WithError(err).Warn("config watcher: could not watch identity directory")
		}
	}
	return w, nil
}

// OnReload registers a callback invoked with the freshly reloaded config
// after any watched path changes. Callbacks run on the watcher's own
// goroutine; they must not block.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.subs = append(w.subs, fn)
}

// Run blocks, reloading and notifying subscribers on every filesystem event,
// debounced so a burst of writes (e.g. an editor's save-as-rename dance)
// triggers one reload rather than many. Returns when the watcher is closed.
func (w *Watcher) Run() {
	var pending *time.Timer
	reload := func() {
		cfg, err := LoadConfig(w.configFile)
		if err != nil {
			log.WithError(err).Warn("config watcher: reload failed, keeping previous config")
			return
		}
		if err = cfg.ExpandAuthDir(); err != nil {
			log.WithError(err).Warn("config watcher: could not expand auth dir")
		}
		for _, sub := range w.subs {
			sub(cfg)
		}
	}

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			log.WithField("event", event.String()).Debug("config watcher: filesystem event")
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.debounce, reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("config watcher: fsnotify error")
		}
	}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
