package rules

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// RootCategory is the category of files placed directly in the data directory
const RootCategory = "root"

// LoadDir reads every JSON file under root into documents. The category is the
// name of the directory holding the file and the source is the file name.
// Files that do not parse are logged and skipped.
func LoadDir(root string) ([]Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("data directory not found: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var docs []Document
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			slog.Warn("skipping invalid rules file", "path", path, "error", err)
			return nil
		}
		text, err := json.MarshalIndent(parsed, "", "  ")
		if err != nil {
			return err
		}

		category := RootCategory
		if dir := filepath.Dir(path); filepath.Clean(dir) != filepath.Clean(root) {
			category = filepath.Base(dir)
		}

		docs = append(docs, Document{
			Text:     string(text),
			Source:   d.Name(),
			Category: category,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %s: %w", root, err)
	}
	return docs, nil
}
