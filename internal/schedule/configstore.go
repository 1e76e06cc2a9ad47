package schedule

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/relaymesh/core/pkg/models"
)

// ConfigDir reads/writes one YAML file per schedule. Configs are
// user-authored and immutable at runtime except for the enabled flag,
// which pause/auto-disable flip in place.
type ConfigDir struct {
	dir string
}

// NewConfigDir wraps dir, creating it if necessary.
func NewConfigDir(dir string) (*ConfigDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("schedule: create config dir: %w", err)
	}
	return &ConfigDir{dir: dir}, nil
}

// LoadAll parses every *.yaml/*.yml file in the directory into a
// ScheduleConfig. A file whose schedule_id is empty is rejected.
func (c *ConfigDir) LoadAll() ([]models.ScheduleConfig, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("schedule: read config dir: %w", err)
	}
	var out []models.ScheduleConfig
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		cfg, err := c.load(e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (c *ConfigDir) load(name string) (models.ScheduleConfig, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, name))
	if err != nil {
		return models.ScheduleConfig{}, fmt.Errorf("schedule: read %s: %w", name, err)
	}
	var cfg models.ScheduleConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return models.ScheduleConfig{}, fmt.Errorf("schedule: parse %s: %w", name, err)
	}
	if cfg.ScheduleID == "" {
		return models.ScheduleConfig{}, fmt.Errorf("schedule: %s missing schedule_id", name)
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return cfg, nil
}

// Save writes cfg to its canonical <schedule_id>.yaml path, overwriting
// any existing file.
func (c *ConfigDir) Save(cfg models.ScheduleConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("schedule: marshal config: %w", err)
	}
	path := c.path(cfg.ScheduleID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("schedule: write %s: %w", path, err)
	}
	return nil
}

// Delete removes a schedule's config file. A missing file is not an
// error, so deletes are idempotent.
func (c *ConfigDir) Delete(scheduleID string) error {
	if err := os.Remove(c.path(scheduleID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("schedule: delete config: %w", err)
	}
	return nil
}

func (c *ConfigDir) path(scheduleID string) string {
	return filepath.Join(c.dir, scheduleID+".yaml")
}
