package config

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// restartRequiredFields lists the registry fields whose edit restartRequired
// reports as needing a restart. Edits to other fields (the member list, the
// workspace root) are only logged as a notice: the running daemon keeps the
// team definition it started with.
var restartRequiredFields = []string{"repo", "schema_version", "github_token_env", "webhook_secret_env"}

// Watcher watches the team registry file for edits while daemon-run is
// alive, logging a notice rather than silently applying changes: detect
// and log, never detect and mutate running state out from under a cycle
// in flight.
type Watcher struct {
	path    string
	fw      *fsnotify.Watcher
	logger  *slog.Logger
	mu      sync.Mutex
	current *Team
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher starts watching the registry file containing team.
func NewWatcher(path string, team Team, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, fw: fw, logger: logger, current: &team, stop: make(chan struct{})}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.onChange()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.Any("error", err))
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) onChange() {
	w.mu.Lock()
	defer w.mu.Unlock()

	reg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("team registry edit failed to parse; keeping previous config", slog.Any("error", err))
		return
	}
	updated, err := reg.Find(w.current.Name)
	if err != nil {
		w.logger.Warn("team registry edit removed the running team; keeping previous config", slog.Any("error", err))
		return
	}

	if restartRequired(*w.current, updated) {
		w.logger.Warn("team registry changed a restart-required field; edit ignored until next `bm daemon start`",
			slog.String("team", updated.Name))
		return
	}

	w.logger.Info("team registry edit changes no restart-required field; the running daemon keeps its startup team definition",
		slog.String("team", updated.Name), slog.Int("members", len(updated.Members)))
	w.current = &updated
}

// restartRequired ignores WorkspaceRoot and Members: they affect discovery
// only.
func restartRequired(old, next Team) bool {
	return old.GitHubTokenEnv != next.GitHubTokenEnv ||
		old.WebhookSecretEnv != next.WebhookSecretEnv ||
		old.SchemaVersion != next.SchemaVersion ||
		old.Repo != next.Repo
}

// Current returns the most recently observed team definition.
func (w *Watcher) Current() Team {
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.current
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	err := w.fw.Close()
	w.wg.Wait()
	return err
}
