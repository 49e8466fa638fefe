package config

import (
	"errors"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// SourcesFile is the optional sources.yml kept next to config.yml so the scraper
// table can be edited without touching engine settings.
type SourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// OverlaySources replaces cfg.Sources with the ones in path when it lists any.
// A missing file is not an error.
func OverlaySources(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var sf SourcesFile
	if err := yaml.Unmarshal(b, &sf); err != nil {
		return err
	}
	if len(sf.Sources) > 0 {
		cfg.Sources = sf.Sources
	}
	return nil
}
