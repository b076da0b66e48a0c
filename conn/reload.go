package conn

import (
	"errors"
	"fmt"
	"sync"

	"github.com/altuslabsxyz/txman"
)

// ErrRequiresRestart is returned by TryReload when the changed keys
// cannot be applied to a running process.
var ErrRequiresRestart = errors.New("configuration change requires restart")

// ConfigManager holds the live connections configuration and applies
// hot reloads. Pool settings (max_open_conns, max_idle_conns,
// conn_max_lifetime) are reloadable; driver, dsn, the default
// connection name, and the set of connection names are static.
type ConfigManager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
	registry   *Registry
	log        txman.Logger
}

// NewConfigManager creates a ConfigManager with the initial
// configuration.
func NewConfigManager(cfg *Config, configPath string, registry *Registry, logger txman.Logger) *ConfigManager {
	if logger == nil {
		logger = txman.NopLogger
	}
	return &ConfigManager{
		config:     cfg,
		configPath: configPath,
		registry:   registry,
		log:        logger,
	}
}

// Get returns the current configuration (thread-safe read).
func (cm *ConfigManager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// TryReload re-reads the config file, rejects static changes, and
// applies the reloadable pool settings to the live registry. On any
// failure the previous configuration stays in effect.
func (cm *ConfigManager) TryReload() error {
	newCfg, err := Load(cm.configPath)
	if err != nil {
		cm.log.Error("connections config reload failed",
			"error", err,
			"preserved_config", true,
		)
		return fmt.Errorf("parse failed: %w", err)
	}

	cm.mu.RLock()
	oldCfg := cm.config
	static := detectStaticChanges(oldCfg, newCfg)
	cm.mu.RUnlock()

	if len(static) > 0 {
		cm.log.Warn("connections config change requires restart",
			"changed_keys", static,
		)
		return ErrRequiresRestart
	}

	cm.mu.Lock()
	oldCfg = cm.config
	cm.config = newCfg
	cm.mu.Unlock()

	cm.registry.ApplyPoolSettings(newCfg)

	if changed := detectPoolChanges(oldCfg, newCfg); len(changed) > 0 {
		cm.log.Info("connections config reloaded",
			"changed_keys", changed,
		)
	}
	return nil
}

func detectStaticChanges(oldCfg, newCfg *Config) []string {
	var keys []string
	if oldCfg.Default != newCfg.Default {
		keys = append(keys, "default")
	}
	for name, oc := range oldCfg.Connections {
		nc, ok := newCfg.Connections[name]
		if !ok {
			keys = append(keys, "connections."+name)
			continue
		}
		if oc.Driver != nc.Driver {
			keys = append(keys, "connections."+name+".driver")
		}
		if oc.DSN != nc.DSN {
			keys = append(keys, "connections."+name+".dsn")
		}
	}
	for name := range newCfg.Connections {
		if _, ok := oldCfg.Connections[name]; !ok {
			keys = append(keys, "connections."+name)
		}
	}
	return keys
}

func detectPoolChanges(oldCfg, newCfg *Config) []string {
	var keys []string
	for name, oc := range oldCfg.Connections {
		nc, ok := newCfg.Connections[name]
		if !ok {
			continue
		}
		if oc.MaxOpenConns != nc.MaxOpenConns {
			keys = append(keys, "connections."+name+".max_open_conns")
		}
		if oc.MaxIdleConns != nc.MaxIdleConns {
			keys = append(keys, "connections."+name+".max_idle_conns")
		}
		if oc.ConnMaxLifetime != nc.ConnMaxLifetime {
			keys = append(keys, "connections."+name+".conn_max_lifetime")
		}
	}
	return keys
}
