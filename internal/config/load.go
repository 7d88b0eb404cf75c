package config

import (
	"os"
	"regexp"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load reads path on top of Default. Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("config file not found: %s", path)
		}
		return nil, errors.Wrapf(err, "cannot read config file %q", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
		return nil, errors.Wrapf(err, "invalid YAML in %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// ExpandEnv replaces ${VAR} with its value and ${VAR:-default} with the
// default when VAR is unset or empty. Unset variables without a default
// expand to the empty string.
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok && value != "" {
			return value
		}
		return groups[2]
	})
}
