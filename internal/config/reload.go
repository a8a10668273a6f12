package config

import (
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Watcher watches a configuration file and re-parses its `render` section
// on every write, invoking onReload with the freshly validated section.
// Grounded on the teacher's selectors hot-reload (fsnotify.Watcher over a
// single file, debounced re-read), repointed here at the render defaults
// rather than scraper selectors.
type Watcher struct {
	fsw *fsnotify.Watcher
	log zerolog.Logger
	done chan struct{}
}

// WatchRender starts watching path for writes and calls onReload with a
// freshly parsed, validated RenderConfig each time the file changes.
// Parse or validation failures are logged and the previous live config is
// left untouched, rather than the service falling over on an operator's
// mid-edit typo.
func WatchRender(path string, log zerolog.Logger, onReload func(RenderConfig)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, log: log, done: make(chan struct{})}
	go w.loop(path, onReload)
	return w, nil
}

func (w *Watcher) loop(path string, onReload func(RenderConfig)) {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload(path, onReload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload(path string, onReload func(RenderConfig)) {
	f, err := os.Open(path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("config reload: could not open file, keeping previous render config")
		return
	}
	defer f.Close()

	cfg := Defaults()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("config reload: parse failed, keeping previous render config")
		return
	}

	cfg.Render.validate(w.log)
	w.log.Info().Msg("render config reloaded")
	onReload(cfg.Render)
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
