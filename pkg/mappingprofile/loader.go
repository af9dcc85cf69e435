package mappingprofile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a profile bundle from path.
//
// The format is determined by extension: .yaml/.yml for YAML, .json for
// JSON. Other extensions try YAML.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("profile file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a profile bundle. path is used for
// format detection and error messages.
func LoadFromBytes(data []byte, path string) (*Bundle, error) {
	if len(data) == 0 {
		return nil, errors.New("profile file is empty")
	}

	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}
	// Raw validation sees unknown fields the typed decode would drop.
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	var b Bundle
	if err := json.Unmarshal(jsonData, &b); err != nil {
		return nil, fmt.Errorf("invalid profile bundle: %w", err)
	}
	return &b, nil
}

// LoadDir loads every .yaml, .yml and .json file of dir, in name order.
func LoadDir(dir string) ([]*Bundle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read profiles dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	bundles := make([]*Bundle, 0, len(names))
	for _, name := range names {
		b, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		bundles = append(bundles, b)
	}
	return bundles, nil
}

func toJSON(data []byte, path string) ([]byte, error) {
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in profile file: %w", err)
		}
		return data, nil
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in profile file: %w", err)
	}
	out, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert profile file to JSON: %w", err)
	}
	return out, nil
}
