// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package route

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Catalog holds the built-in connector templates, keyed by alias.
type Catalog map[string]Connector

// LoadCatalog reads every .json/.jsonc connector template in dir.
// Templates are JSON extended with // comments, /* blocks */, and
// trailing commas. A template without an alias field is keyed by its
// file name stem.
func LoadCatalog(dir string) (Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading catalog directory: %w", err)
	}

	catalog := make(Catalog)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		extension := filepath.Ext(name)
		if extension != ".json" && extension != ".jsonc" {
			continue
		}

		path := filepath.Join(dir, name)
		connector, err := ParseConnectorFile(path)
		if err != nil {
			return nil, err
		}
		if connector.Alias == "" {
			connector.Alias = strings.TrimSuffix(name, extension)
		}
		if _, exists := catalog[connector.Alias]; exists {
			return nil, fmt.Errorf("catalog: duplicate connector alias %q (file %s)", connector.Alias, name)
		}
		catalog[connector.Alias] = *connector
	}
	return catalog, nil
}

// ParseConnectorFile reads a single JSONC connector template.
func ParseConnectorFile(path string) (*Connector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading connector template: %w", err)
	}

	var connector Connector
	if err := json.Unmarshal(jsonc.ToJSON(data), &connector); err != nil {
		return nil, fmt.Errorf("parsing connector template %s: %w", path, err)
	}
	return &connector, nil
}
