package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// IntegrationConfig describes one allow-listed integration process.
type IntegrationConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
}

// ConfigFile is the structure of integrations.yaml.
type ConfigFile struct {
	Integrations []IntegrationConfig `yaml:"integrations" json:"integrations"`
}

// LoadIntegrations reads a registry file (YAML or JSON) keyed by integration name.
// A missing file yields an empty registry.
func LoadIntegrations(path string) (map[string]IntegrationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]IntegrationConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read integrations config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	registry := make(map[string]IntegrationConfig)
	for _, ic := range cfg.Integrations {
		if ic.Name == "" || ic.Command == "" {
			continue
		}
		registry[ic.Name] = ic
	}
	return registry, nil
}
