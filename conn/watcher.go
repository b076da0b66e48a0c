package conn

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/altuslabsxyz/txman"
)

// Watcher watches the connections file and debounces reloads through a
// ConfigManager.
type Watcher struct {
	viper          *viper.Viper
	configManager  *ConfigManager
	log            txman.Logger
	debounceTimer  *time.Timer
	debounceMu     sync.Mutex
	debouncePeriod time.Duration
}

// NewWatcher creates a watcher over v, which must already have read the
// file the manager reloads from.
func NewWatcher(v *viper.Viper, cm *ConfigManager, logger txman.Logger) *Watcher {
	if logger == nil {
		logger = txman.NopLogger
	}
	return &Watcher{
		viper:          v,
		configManager:  cm,
		log:            logger,
		debouncePeriod: 100 * time.Millisecond,
	}
}

// Start begins watching the connections file for changes.
func (w *Watcher) Start() {
	w.viper.WatchConfig()
	w.viper.OnConfigChange(w.onConfigChange)
	w.log.Info("connections config watcher started",
		"watch_path", w.viper.ConfigFileUsed(),
	)
}

// onConfigChange handles file change events with debouncing.
func (w *Watcher) onConfigChange(e fsnotify.Event) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	if e.Op&fsnotify.Remove == fsnotify.Remove {
		w.log.Error("connections config file removed",
			"file", e.Name,
			"preserved_config", true,
		)
		return
	}

	w.debounceTimer = time.AfterFunc(w.debouncePeriod, func() {
		if err := w.configManager.TryReload(); err != nil {
			if err == ErrRequiresRestart {
				// Already logged in TryReload at warning level
				return
			}
			// Error already logged in TryReload at error level
		}
	})
}
