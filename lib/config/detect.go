package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

var ErrNoConfigFile = errors.New("no jspm configuration file found")

// FileNames lists the configuration files looked up in the project root, in
// order of precedence.
var FileNames = []string{"jspm.toml", "jspm.json", "jspm.jsonc", "jspm.yaml", "jspm.yml"}

// DetectConfigFile decodes the first configuration file found in root into a
// T and returns the path it was read from.
func DetectConfigFile[T any](root string) (T, string, error) {
	var zero T

	for _, name := range FileNames {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return zero, "", err
		}

		v, err := ReadConfigFile[T](path)
		return v, path, err
	}

	return zero, "", ErrNoConfigFile
}

// ReadConfigFile decodes path into a T, picking the format from its
// extension.
func ReadConfigFile[T any](path string) (T, error) {
	var v T

	data, err := os.ReadFile(path)
	if err != nil {
		return v, err
	}

	switch ext := filepath.Ext(path); ext {
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), &v)
	case ".toml":
		err = toml.Unmarshal(data, &v)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &v)
	default:
		return v, fmt.Errorf("unsupported configuration file %s", path)
	}
	if err != nil {
		return v, fmt.Errorf("parsing %s: %w", path, err)
	}
	return v, nil
}
