package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"sitecrawl/pkg/utils"
)

// Load reads and parses the YAML config at path. Validation is the caller's
// job, so warnings can be logged after the logger is configured.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "reading config file %s: %v", path, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "parsing config file %s: %v", path, err)
	}
	return &cfg, nil
}
