package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/listiago/atendechat/pkg/domain"
)

const archiveDir = "archive"

// Store implements ports.ContextStore using the local filesystem.
// Live contexts are JSON files in BasePath; archived ones move to BasePath/archive.
type Store struct {
	BasePath string
}

// NewStore creates a Store with the given base path.
// If basePath is empty, it defaults to ".atendechat/contexts".
func NewStore(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".atendechat", "contexts")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(contextID string, archived bool) string {
	if archived {
		return filepath.Join(s.BasePath, archiveDir, contextID+".json")
	}
	return filepath.Join(s.BasePath, contextID+".json")
}

// Save persists the context atomically: temp file, fsync, rename.
// A context that was archived is rewritten in the archive.
func (s *Store) Save(ctx context.Context, ec *domain.ExecutionContext) error {
	if !validName(ec.ID) {
		return fmt.Errorf("invalid context id %q", ec.ID)
	}

	dest := s.path(ec.ID, false)
	if _, err := os.Stat(s.path(ec.ID, true)); err == nil {
		dest = s.path(ec.ID, true)
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure context directory: %w", err)
	}

	data, err := json.MarshalIndent(ec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "tmp-"+ec.ID+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load reads a live or archived context.
func (s *Store) Load(ctx context.Context, contextID string) (*domain.ExecutionContext, error) {
	if !validName(contextID) {
		return nil, domain.ErrContextNotFound
	}
	data, err := os.ReadFile(s.path(contextID, false))
	if os.IsNotExist(err) {
		data, err = os.ReadFile(s.path(contextID, true))
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrContextNotFound
		}
		return nil, fmt.Errorf("failed to read context file: %w", err)
	}

	var ec domain.ExecutionContext
	if err := json.Unmarshal(data, &ec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	if ec.Variables == nil {
		ec.Variables = make(map[string]any)
	}
	return &ec, nil
}

// Delete removes the context wherever it lives.
func (s *Store) Delete(ctx context.Context, contextID string) error {
	if !validName(contextID) {
		return nil
	}
	for _, archived := range []bool{false, true} {
		if err := os.Remove(s.path(contextID, archived)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete context file: %w", err)
		}
	}
	return nil
}

// List returns the ids of live contexts, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		ids = append(ids, name[:len(name)-len(".json")])
	}
	sort.Strings(ids)
	return ids, nil
}

// Archive moves a live context into the archive directory.
func (s *Store) Archive(ctx context.Context, contextID string) error {
	if !validName(contextID) {
		return domain.ErrContextNotFound
	}
	src := s.path(contextID, false)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			if _, aerr := os.Stat(s.path(contextID, true)); aerr == nil {
				return nil
			}
			return domain.ErrContextNotFound
		}
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.BasePath, archiveDir), 0o755); err != nil {
		return fmt.Errorf("failed to ensure archive directory: %w", err)
	}
	if err := os.Rename(src, s.path(contextID, true)); err != nil {
		return fmt.Errorf("failed to archive context: %w", err)
	}
	return nil
}
