// Package series holds the simulation configuration: run geometry, molecule
// globals, per-population parameter tables, and treatment plans. Populations
// carry an explicit subtype tag checked directly by the simulation.
package series

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cartsim.ai/internal/sim/rng"
)

// Subtype tags a population's cell kind.
type Subtype string

const (
	SubtypeCD4    Subtype = "CD4"
	SubtypeCD8    Subtype = "CD8"
	SubtypeTissue Subtype = "TISSUE"
)

type Series struct {
	Name  string `yaml:"name"`
	Seed  int64  `yaml:"seed"`
	Ticks uint64 `yaml:"ticks"` // run length in minutes

	Radius int `yaml:"radius"`
	Height int `yaml:"height"` // vertical layers above/below z=0
	Margin int `yaml:"margin"`

	Location LocationSpec `yaml:"location"`

	Molecules map[string]MoleculeSpec `yaml:"molecules"`

	Globals map[string]float64 `yaml:"globals"`

	Populations []Population `yaml:"populations"`
	Treatments  []Treatment  `yaml:"treatments"`

	ProfileInterval  uint64 `yaml:"profile_interval"`
	SnapshotInterval uint64 `yaml:"snapshot_interval"`
}

// LocationSpec describes one lattice site's geometry and capacity.
type LocationSpec struct {
	Area      float64 `yaml:"area"`      // um^2
	Thickness float64 `yaml:"thickness"` // um
	MaxAgents int     `yaml:"max_agents"`
	GridStep  float64 `yaml:"grid_step"` // um between site centers
}

func (l LocationSpec) Volume() float64 { return l.Area * l.Thickness }

type MoleculeSpec struct {
	Concentration float64 `yaml:"concentration"` // fmol/um^3 for nutrients, molecules/cm^3 for cytokine
}

type Population struct {
	Name     string   `yaml:"name"`
	Subtype  Subtype  `yaml:"subtype"`
	InitFrac float64  `yaml:"init_frac"`
	Params   ParamSet `yaml:"params"`
}

// Treatment inserts a dose of effector agents after a delay, split between
// populations by fraction.
type Treatment struct {
	Delay     uint64    `yaml:"delay"`
	Dose      int       `yaml:"dose"`
	Fractions []DoseArm `yaml:"fractions"`
}

type DoseArm struct {
	Pop  int     `yaml:"pop"`
	Frac float64 `yaml:"frac"`
}

func Load(path string) (*Series, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Series
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("series.yaml: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Series) validate() error {
	if s.Ticks == 0 {
		return fmt.Errorf("series %q: zero run length", s.Name)
	}
	if s.Radius <= 0 {
		return fmt.Errorf("series %q: radius must be positive", s.Name)
	}
	if len(s.Populations) == 0 {
		return fmt.Errorf("series %q: no populations", s.Name)
	}
	for i, p := range s.Populations {
		switch p.Subtype {
		case SubtypeCD4, SubtypeCD8, SubtypeTissue:
		default:
			return fmt.Errorf("series %q: population %d has unknown subtype %q", s.Name, i, p.Subtype)
		}
	}
	for _, t := range s.Treatments {
		for _, arm := range t.Fractions {
			if arm.Pop < 0 || arm.Pop >= len(s.Populations) {
				return fmt.Errorf("series %q: treatment references population %d", s.Name, arm.Pop)
			}
			if s.Populations[arm.Pop].Subtype == SubtypeTissue {
				return fmt.Errorf("series %q: treatment population %d is not an effector population", s.Name, arm.Pop)
			}
		}
	}
	return nil
}

// Param reads a population parameter mean, failing fast on unknown names so
// a typo in a config surfaces at the call site.
func (s *Series) Param(pop int, name string) float64 {
	p, ok := s.Populations[pop].Params[name]
	if !ok {
		panic(fmt.Sprintf("series %q: population %d missing parameter %s", s.Name, pop, name))
	}
	return p.Mu
}

// Global reads a simulation-wide parameter.
func (s *Series) Global(name string) float64 { return s.Globals[name] }

// NextVolume draws an initial (critical) cell volume for a population.
func (s *Series) NextVolume(pop int, r *rng.Stream) float64 {
	return Param{Mu: s.Param(pop, "CELL_VOL_AVG"), Het: s.Param(pop, "CELL_VOL_RANGE") / s.Param(pop, "CELL_VOL_AVG")}.Draw(r)
}

// NextAge draws an initial cell age in minutes, uniform over the configured
// range.
func (s *Series) NextAge(pop int, r *rng.Stream) int {
	lo := s.Param(pop, "CELL_AGE_MIN")
	hi := s.Param(pop, "CELL_AGE_MAX")
	if hi <= lo {
		return int(lo)
	}
	return int(lo + (hi-lo)*r.Float64())
}

// DeathProb evaluates the cumulative death-probability curve for a
// population at the given age.
func (s *Series) DeathProb(pop int, age int) float64 {
	return normCDF(float64(age), s.Param(pop, "DEATH_AGE_AVG"), s.Param(pop, "DEATH_AGE_RANGE"))
}
