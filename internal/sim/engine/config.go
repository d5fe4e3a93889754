package engine

import (
	"fmt"

	"tmesim/internal/sim/cells"
	"tmesim/internal/sim/field"
)

// MotionParams calibrates the random-walk movement model. Speeds are in
// micrometers per second.
type MotionParams struct {
	TumorSpeedUmPerSec  float64 `yaml:"tumor_speed_um_per_sec"`
	TCellPD1NegUmPerSec float64 `yaml:"tcell_pd1_neg_um_per_sec"`
	TCellPD1PosUmPerSec float64 `yaml:"tcell_pd1_pos_um_per_sec"`
	DwellSpeedUmPerSec  float64 `yaml:"dwell_speed_um_per_sec"`
	OverlapToleranceUm  float64 `yaml:"overlap_tolerance_um"`
	OverlapRelaxPerTick float64 `yaml:"overlap_relax_per_tick"`
	DivisionJitterFrac  float64 `yaml:"division_jitter_frac"`
}

func (p *MotionParams) applyDefaults() {
	if p.TCellPD1NegUmPerSec == 0 {
		p.TCellPD1NegUmPerSec = 10.0 / 60.0
	}
	if p.TCellPD1PosUmPerSec == 0 {
		p.TCellPD1PosUmPerSec = 5.0 / 60.0
	}
	if p.OverlapToleranceUm == 0 {
		p.OverlapToleranceUm = 0.5
	}
	if p.OverlapRelaxPerTick == 0 {
		p.OverlapRelaxPerTick = 0.5
	}
	if p.DivisionJitterFrac == 0 {
		p.DivisionJitterFrac = 0.1
	}
}

// Config is the full run configuration. Zero values take calibrated
// defaults so a partial tuning file still yields a runnable engine.
type Config struct {
	ID   string `yaml:"id"`
	Seed uint64 `yaml:"seed"`

	DtSec               float64 `yaml:"dt_sec"`
	InteractionMarginUm float64 `yaml:"interaction_margin_um"`
	CrowdingRadiusUm    float64 `yaml:"crowding_radius_um"`

	TumorDiameterUm float64 `yaml:"tumor_diameter_um"`
	TumorMassNg     float64 `yaml:"tumor_mass_ng"`
	TCellDiameterUm float64 `yaml:"tcell_diameter_um"`
	TCellMassNg     float64 `yaml:"tcell_mass_ng"`
	DivisionSplit   float64 `yaml:"division_split"`

	SnapshotEveryTicks uint64 `yaml:"snapshot_every_ticks"`
	LogFieldGrids      bool   `yaml:"log_field_grids"`

	Motion MotionParams      `yaml:"motion"`
	Tumor  cells.TumorParams `yaml:"tumor"`
	TCell  cells.TCellParams `yaml:"tcell"`
	Field  field.Params      `yaml:"field"`
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = "run"
	}
	if c.DtSec == 0 {
		c.DtSec = 60
	}
	if c.InteractionMarginUm == 0 {
		c.InteractionMarginUm = 1
	}
	if c.CrowdingRadiusUm == 0 {
		c.CrowdingRadiusUm = 40
	}
	if c.TumorDiameterUm == 0 {
		c.TumorDiameterUm = 15
	}
	if c.TumorMassNg == 0 {
		c.TumorMassNg = 8
	}
	if c.TCellDiameterUm == 0 {
		c.TCellDiameterUm = 7.5
	}
	if c.TCellMassNg == 0 {
		c.TCellMassNg = 2
	}
	if c.DivisionSplit == 0 {
		c.DivisionSplit = 0.5
	}
	if c.SnapshotEveryTicks == 0 {
		c.SnapshotEveryTicks = 500
	}
	c.Motion.applyDefaults()
	c.Tumor.ApplyDefaults()
	c.TCell.ApplyDefaults()
	c.Field.ApplyDefaults()
}

func (c *Config) validate() error {
	if c.DtSec <= 0 {
		return &ConfigError{Field: "dt_sec", Err: fmt.Errorf("must be positive, got %v", c.DtSec)}
	}
	if c.DivisionSplit <= 0 || c.DivisionSplit >= 1 {
		return &ConfigError{Field: "division_split", Err: fmt.Errorf("must be in (0,1), got %v", c.DivisionSplit)}
	}
	if c.Tumor.RevertThreshold > c.Tumor.QuiesceThreshold {
		return &ConfigError{Field: "tumor.revert_threshold",
			Err: fmt.Errorf("revert threshold %v above quiesce threshold %v", c.Tumor.RevertThreshold, c.Tumor.QuiesceThreshold)}
	}
	if err := c.Field.Validate(); err != nil {
		return &ConfigError{Field: "field", Err: err}
	}
	return nil
}
