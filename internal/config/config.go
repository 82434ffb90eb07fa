package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models studytrail.yml.
type Config struct {
	Workspace struct {
		ID string `yaml:"id"`
		// Timezone decides which calendar day an action lands on. Check-in
		// idempotency keys on that day, so two callers in different zones
		// must agree on it per workspace.
		Timezone string `yaml:"timezone"`
	} `yaml:"workspace"`
	Completion struct {
		// RequireRecord gates marking a task done on at least one learning
		// record existing for it. Overridable per call.
		RequireRecord bool `yaml:"require_record"`
	} `yaml:"completion"`
	Retry struct {
		// ConflictRetries is how many times a compat update re-fetches and
		// retries after a version conflict before surfacing it.
		ConflictRetries int `yaml:"conflict_retries"`
	} `yaml:"retry"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Location resolves the configured timezone, falling back to local time.
func (c *Config) Location() *time.Location {
	if c == nil || c.Workspace.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Workspace.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.ID == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	if c.Workspace.Timezone != "" {
		if _, err := time.LoadLocation(c.Workspace.Timezone); err != nil {
			return fmt.Errorf("config.workspace.timezone %q: %w", c.Workspace.Timezone, err)
		}
	}
	if c.Retry.ConflictRetries < 0 {
		return fmt.Errorf("config.retry.conflict_retries must be >= 0")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "studytrail.yml")
}

// Default returns the default Config struct for a workspace.
func Default(workspaceID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, workspaceID)), &cfg)
	return &cfg
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with st config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ToYAML serializes the config for storage in the workspace_config table.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `workspace:
  id: %s
  timezone: ""

completion:
  require_record: true

retry:
  conflict_retries: 1
`
