package indexer

import (
	"os"

	"github.com/0glabs/0g-dirview/classify"
	"github.com/0glabs/0g-dirview/loader"
	"github.com/0glabs/0g-dirview/sorting"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config of an Index. Sort and the two disable flags can be changed on a
// live index through Configure; the rest only applies at construction.
type Config struct {
	Sort sorting.Order `yaml:"sort"`

	// DisableChangeWatching skips every OS subscription. The tree then reflects
	// the disk as of each explicit load and changes show up on Reload only.
	DisableChangeWatching bool `yaml:"disable_change_watching"`

	// DisableCustomIconClassification skips content probing, entries are
	// classified by kind and extension only.
	DisableCustomIconClassification bool `yaml:"disable_custom_icon_classification"`

	// StartPath is resolved and loaded at construction when set.
	StartPath string `yaml:"start_path"`

	Loader   loader.Option   `yaml:"loader"`
	Classify classify.Option `yaml:"classify"`
}

// DefaultConfig watches changes, probes content and sorts by name.
func DefaultConfig() Config {
	return Config{
		Sort:     sorting.DefaultOrder(),
		Classify: classify.DefaultOption(),
	}
}

// LoadConfig reads a YAML config file on top of the defaults.
func LoadConfig(file string) (Config, error) {
	config := DefaultConfig()

	content, err := os.ReadFile(file)
	if err != nil {
		return config, errors.WithMessage(err, "Failed to read config file")
	}

	if err = yaml.Unmarshal(content, &config); err != nil {
		return config, errors.WithMessagef(err, "Failed to parse config file %v", file)
	}

	return config, nil
}
