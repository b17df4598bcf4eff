// Package file reads flow definitions from disk and persists contexts as JSON files.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/listiago/atendechat/pkg/domain"
)

var flowExtensions = []string{".json", ".yaml", ".yml"}

// Loader implements ports.FlowLoader over a directory laid out as <dir>/<tenant>/<flow>.{json,yaml,yml}.
type Loader struct {
	dir string
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// LoadFlow reads and decodes a flow. Tenant and id default to the path they were read from.
func (l *Loader) LoadFlow(ctx context.Context, tenantID, flowID string) (*domain.FlowDefinition, error) {
	if !validName(tenantID) || !validName(flowID) {
		return nil, fmt.Errorf("invalid flow reference %q/%q: %w", tenantID, flowID, domain.ErrFlowNotFound)
	}
	for _, ext := range flowExtensions {
		path := filepath.Join(l.dir, tenantID, flowID+ext)
		flow, err := ReadFlow(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if flow.ID == "" {
			flow.ID = flowID
		}
		if flow.TenantID == "" {
			flow.TenantID = tenantID
		}
		return flow, nil
	}
	return nil, fmt.Errorf("flow %s/%s: %w", tenantID, flowID, domain.ErrFlowNotFound)
}

// ListFlows returns the flow ids found for a tenant, sorted.
func (l *Loader) ListFlows(ctx context.Context, tenantID string) ([]string, error) {
	if !validName(tenantID) {
		return nil, fmt.Errorf("invalid tenant %q", tenantID)
	}
	entries, err := os.ReadDir(filepath.Join(l.dir, tenantID))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if !isFlowExtension(ext) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ext)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ReadFlow decodes a single flow document. YAML is converted to JSON first,
// so both formats go through the same node codec.
func ReadFlow(path string) (*domain.FlowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	var flow domain.FlowDefinition
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("failed to decode flow %s: %w", path, err)
	}
	return &flow, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func isFlowExtension(ext string) bool {
	for _, e := range flowExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// validName rejects path traversal through tenant or flow ids.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
