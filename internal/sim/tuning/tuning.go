// Package tuning loads the calibration constants for a run. The file is
// YAML mapping directly onto engine.Config; absent keys fall back to the
// built-in calibrated defaults.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tmesim/internal/sim/engine"
)

func Load(path string) (engine.Config, error) {
	var cfg engine.Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("tuning.yaml: %w", err)
	}
	return cfg, nil
}
