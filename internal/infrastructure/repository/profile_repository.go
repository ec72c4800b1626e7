// Package repository persists connection profiles in the YAML config file
// and keeps the in-memory view current when the file changes on disk.
package repository

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/miguelbaldi/krust/internal/config"
	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/miguelbaldi/krust/internal/utils"
)

// ProfileRepository manages connection profiles backed by a YAML file.
type ProfileRepository struct {
	mu         sync.RWMutex
	configData config.FileConfig
	configPath string
	watcher    *fsnotify.Watcher
}

var _ domain.ProfileRepository = (*ProfileRepository)(nil)

// NewProfileRepository creates a repository for the given config path.
func NewProfileRepository(configPath string) *ProfileRepository {
	return &ProfileRepository{configPath: configPath}
}

// LoadFromFile loads configuration from file.
func (r *ProfileRepository) LoadFromFile() error {
	cfg, err := config.ReadConfig(r.configPath)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.configData = cfg
	r.mu.Unlock()
	return nil
}

// Engine returns the engine tuning section of the loaded file with defaults
// applied.
func (r *ProfileRepository) Engine() config.EngineConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.configData.Engine.WithDefaults()
}

// Save persists a connection profile, replacing any profile with the same
// name.
func (r *ProfileRepository) Save(cfg config.ConnectionProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	found := false
	for i := range r.configData.Profiles {
		if r.configData.Profiles[i].Name == cfg.Name {
			cfg.CreatedAt = r.configData.Profiles[i].CreatedAt
			cfg.UpdatedAt = now
			r.configData.Profiles[i] = cfg
			found = true
			break
		}
	}
	if !found {
		cfg.CreatedAt = now
		cfg.UpdatedAt = now
		r.configData.Profiles = append(r.configData.Profiles, cfg)
	}

	return r.writeToFile()
}

// Delete removes a connection profile by name.
func (r *ProfileRepository) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i := range r.configData.Profiles {
		if r.configData.Profiles[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	r.configData.Profiles = append(r.configData.Profiles[:idx], r.configData.Profiles[idx+1:]...)

	return r.writeToFile()
}

// FindByName retrieves a connection profile by name.
func (r *ProfileRepository) FindByName(name string) (config.ConnectionProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.configData.Profiles {
		if c.Name == name {
			return c, true
		}
	}
	return config.ConnectionProfile{}, false
}

// FindAll retrieves all connection profiles.
func (r *ProfileRepository) FindAll() []config.ConnectionProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]config.ConnectionProfile, len(r.configData.Profiles))
	copy(out, r.configData.Profiles)
	return out
}

// Watch sets a fsnotify watcher on the file for hot reload.
func (r *ProfileRepository) Watch() error {
	abs, err := filepath.Abs(r.configPath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(abs)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := w.Add(dir); err != nil {
		return err
	}

	r.watcher = w

	const debounceDelay = 350 * time.Millisecond

	go func() {
		reload := func() {
			for i := 0; i < 10; i++ {
				if _, err := os.Stat(abs); err == nil {
					break
				}
				time.Sleep(100 * time.Millisecond)
			}

			utils.Logger.Info("config file changed", "path", abs)
			if err := r.LoadFromFile(); err != nil {
				utils.Logger.Error("failed to reload config", "err", err)
			}
		}

		var timer *time.Timer
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					if timer == nil {
						timer = time.AfterFunc(debounceDelay, reload)
					} else {
						if !timer.Stop() {
							select {
							case <-timer.C:
							default:
							}
						}
						timer.Reset(debounceDelay)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				utils.Logger.Error("fsnotify error", "err", err)
			}
		}
	}()

	return nil
}

// Close stops the file watcher.
func (r *ProfileRepository) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// writeToFile persists current in-memory config to file.
func (r *ProfileRepository) writeToFile() error {
	dir := filepath.Dir(r.configPath)
	_ = os.MkdirAll(dir, 0755)
	return config.WriteConfig(r.configPath, r.configData)
}
