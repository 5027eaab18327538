// Package file persists the rule set as an indented JSON document on local disk.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/jsonc"

	"dicom-router/internal/models"
	"dicom-router/internal/storage"
)

// RuleFile stores rule documents at a fixed path. Writes go through a temp file
// and a rename so a crash never leaves a half-written rule set behind.
type RuleFile struct {
	path string
	mu   sync.Mutex
}

func NewRuleFile(path string) *RuleFile {
	return &RuleFile{path: path}
}

func (f *RuleFile) Path() string {
	return f.path
}

// LoadRules reads the rule file. Comments and trailing commas are accepted so the
// file can be edited by hand.
func (f *RuleFile) LoadRules(ctx context.Context) ([]models.RuleDocument, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNoRules
		}
		return nil, fmt.Errorf("reading rule file %s: %w", f.path, err)
	}

	var docs []models.RuleDocument
	if err := json.Unmarshal(jsonc.ToJSON(data), &docs); err != nil {
		return nil, fmt.Errorf("parsing rule file %s: %w", f.path, err)
	}
	if docs == nil {
		docs = []models.RuleDocument{}
	}
	return docs, nil
}

// SaveRules atomically replaces the rule file with docs, indented by two spaces
func (f *RuleFile) SaveRules(ctx context.Context, docs []models.RuleDocument) error {
	if docs == nil {
		docs = []models.RuleDocument{}
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding rules: %w", err)
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	tmpFile, err := os.CreateTemp(dir, ".rules-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp rule file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing rule file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing rule file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp rule file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("setting rule file mode: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("renaming rule file: %w", err)
	}
	success = true

	// The rename is only durable once the directory entry is flushed.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
