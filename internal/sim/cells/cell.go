package cells

import (
	"math"

	"cartsim.ai/internal/sim/engine"
	"cartsim.ai/internal/sim/env"
	"cartsim.ai/internal/sim/series"
)

// CellType is an agent's current state. Neutral is the undecided transition
// state with no biological analog.
type CellType int

const (
	TypeNeutral CellType = iota
	TypeApoptotic
	TypeMigratory
	TypeProliferative
	TypeSenescent
	TypeCytotoxic
	TypeStimulatory
	TypeExhausted
	TypeAnergic
	TypeStarved
	TypePaused
	TypeNecrotic
	TypeQuiescent
)

// idleWindow is the span, in minutes, after which one cumulative
// antigen-binding count decays; after idleDeactivate such windows with no
// binding the activated flag clears.
const (
	idleWindow     = 1440
	idleDeactivate = 7
)

// Cell is one engineered effector agent. Parameter values are drawn once at
// construction from the lineage's distributions; the drawn values recenter
// the distributions handed to daughters.
type Cell struct {
	id      uint64
	pop     int
	subtype series.Subtype
	loc     env.Coord

	typ CellType

	migrating     bool
	proliferating bool
	activated     bool
	boundAntigen  bool
	boundSelf     bool
	doubled       bool

	age        int // minutes
	volume     float64
	critVolume float64
	energy     float64
	deathAge   float64
	divisions  int

	senesFrac       float64
	exhauFrac       float64
	anergFrac       float64
	proliFrac       float64
	energyThreshold float64
	accuracy        float64
	searchAbility   int
	maxAntigen      int

	cars               int
	selfReceptors      int
	selfReceptorsStart int
	carAffinity        float64
	carAlpha, carBeta  float64
	selfAffinity       float64
	selfAlpha          float64
	selfBeta           float64
	contactFrac        float64

	boundAntigenCount int
	boundSelfCount    int
	lastActiveTicker  int

	cycles []float64 // completed cycle lengths in minutes

	params series.ParamSet

	sig *signaling
	met *metabolism

	helper     *Helper
	stopped    bool
	stopHandle *engine.Handle
}

// baseParams clones a population's configured distributions for a founding
// lineage.
func baseParams(ps series.ParamSet) series.ParamSet { return ps.Clone() }

// newEffector draws the agent's heterogeneous parameters, recenters the
// lineage distributions on the drawn values, and attaches the subtype's
// module variants. Biophysical binding constants are read through the mean
// and never drift.
func (s *Sim) newEffector(pop int, loc env.Coord, vol float64, age int, p series.ParamSet) *Cell {
	c := &Cell{
		id:         s.allocID(),
		pop:        pop,
		subtype:    s.Series.Populations[pop].Subtype,
		loc:        loc,
		typ:        TypeNeutral,
		age:        age,
		volume:     vol,
		critVolume: vol,
		params:     p.Clone(),
	}

	c.senesFrac = p["SENES_FRAC"].Draw(s.Rand)
	c.exhauFrac = p["EXHAU_FRAC"].Draw(s.Rand)
	c.anergFrac = p["ANERG_FRAC"].Draw(s.Rand)
	c.proliFrac = p["PROLI_FRAC"].Draw(s.Rand)
	c.energyThreshold = p["ENERGY_THRESHOLD"].Draw(s.Rand)
	c.accuracy = p["ACCURACY"].Draw(s.Rand)
	c.deathAge = p["DEATH_AGE_AVG"].Draw(s.Rand)
	c.divisions = p["DIVISION_POTENTIAL"].DrawInt(s.Rand)
	c.searchAbility = int(p["SEARCH_ABILITY"].Mu)
	c.maxAntigen = p["MAX_ANTIGEN_BINDING"].DrawInt(s.Rand)
	c.cars = p["CARS"].DrawInt(s.Rand)
	c.selfReceptors = p["SELF_RECEPTORS"].DrawInt(s.Rand)
	c.selfReceptorsStart = c.selfReceptors
	c.carAffinity = p["CAR_AFFINITY"].Mu
	c.carAlpha = p["CAR_ALPHA"].Mu
	c.carBeta = p["CAR_BETA"].Mu
	c.selfAffinity = p["SELF_RECEPTOR_AFFINITY"].Mu
	c.selfAlpha = p["SELF_ALPHA"].Mu
	c.selfBeta = p["SELF_BETA"].Mu
	c.contactFrac = p["CONTACT_FRAC"].Mu

	c.params["SENES_FRAC"] = p["SENES_FRAC"].Update(c.senesFrac)
	c.params["EXHAU_FRAC"] = p["EXHAU_FRAC"].Update(c.exhauFrac)
	c.params["ANERG_FRAC"] = p["ANERG_FRAC"].Update(c.anergFrac)
	c.params["PROLI_FRAC"] = p["PROLI_FRAC"].Update(c.proliFrac)
	c.params["ENERGY_THRESHOLD"] = p["ENERGY_THRESHOLD"].Update(c.energyThreshold)
	c.params["ACCURACY"] = p["ACCURACY"].Update(c.accuracy)
	c.params["DEATH_AGE_AVG"] = p["DEATH_AGE_AVG"].Update(c.deathAge)
	c.params["DIVISION_POTENTIAL"] = p["DIVISION_POTENTIAL"].Update(float64(c.divisions))
	c.params["MAX_ANTIGEN_BINDING"] = p["MAX_ANTIGEN_BINDING"].Update(float64(c.maxAntigen))
	c.params["CARS"] = p["CARS"].Update(float64(c.cars))
	c.params["SELF_RECEPTORS"] = p["SELF_RECEPTORS"].Update(float64(c.selfReceptors))

	c.sig = newSignaling(s, c)
	c.met = newMetabolism(s, c)
	return c
}

func (c *Cell) ID() uint64              { return c.id }
func (c *Cell) Pop() int                { return c.pop }
func (c *Cell) Subtype() series.Subtype { return c.subtype }
func (c *Cell) Loc() env.Coord          { return c.loc }
func (c *Cell) Type() CellType          { return c.typ }
func (c *Cell) Age() int                { return c.age }
func (c *Cell) Volume() float64         { return c.volume }
func (c *Cell) CritVolume() float64     { return c.critVolume }
func (c *Cell) Energy() float64         { return c.energy }
func (c *Cell) Divisions() int          { return c.divisions }
func (c *Cell) Activated() bool         { return c.activated }
func (c *Cell) BoundAntigen() bool      { return c.boundAntigen }
func (c *Cell) BoundSelf() bool         { return c.boundSelf }
func (c *Cell) Doubled() bool           { return c.doubled }
func (c *Cell) Helper() *Helper         { return c.helper }
func (c *Cell) Stopped() bool           { return c.stopped }
func (c *Cell) Cycles() []float64       { return c.cycles }
func (c *Cell) Signaling() *Signaling   { return (*Signaling)(c.sig) }
func (c *Cell) Metabolism() *Metabolism { return (*Metabolism)(c.met) }

// env.Occupant.
func (c *Cell) GridID() uint64      { return c.id }
func (c *Cell) GridVolume() float64 { return c.volume }

// maxHeight is the tallest stack of co-located volume this agent tolerates.
func (c *Cell) maxHeight() float64 { return c.params["MAX_HEIGHT"].Mu }

// stepCell runs one tick of the agent state machine: aging, lifespan check,
// module advancement, energy checks, then decision logic for decidable
// states.
func (s *Sim) stepCell(c *Cell, tick uint64) {
	c.age++

	// Death due to age, from the cumulative death-probability curve.
	if float64(c.age) > c.deathAge && c.typ != TypeApoptotic {
		if s.Rand.Float64() < s.Series.DeathProb(c.pop, c.age) {
			s.apoptose(c)
		}
	}

	// Binding-activity decay: one cumulative binding count per idle window,
	// deactivation after seven idle windows.
	c.lastActiveTicker++
	if c.lastActiveTicker%idleWindow == 0 && c.boundAntigenCount != 0 {
		c.boundAntigenCount--
	}
	if c.lastActiveTicker/idleWindow >= idleDeactivate {
		c.activated = false
	}

	c.met.step(s, c)

	// Energy status: below the hard floor is death; negative is starvation
	// unless already terminal or blocked; recovery returns to neutral.
	switch {
	case c.energy < c.energyThreshold && c.typ != TypeApoptotic:
		s.apoptose(c)
	case c.energy < 0 && c.typ != TypeApoptotic && c.typ != TypeSenescent &&
		c.typ != TypeExhausted && c.typ != TypeAnergic && c.typ != TypeStarved:
		s.starve(c)
	case c.typ == TypeStarved && c.energy >= 0:
		c.typ = TypeNeutral
	}

	c.sig.step(s, c)

	if c.typ != TypeNeutral && c.typ != TypePaused {
		return
	}

	if c.divisions == 0 {
		s.senesce(c)
		return
	}

	target := s.bindTarget(c)

	if c.boundAntigen {
		switch {
		case c.boundSelf:
			s.anergy(c)
		case c.boundAntigenCount > c.maxAntigen:
			s.exhaust(c)
		case c.subtype == series.SubtypeCD8:
			s.cytotoxic(c, target)
		default:
			s.stimulate(c, target)
		}
		return
	}

	// No antigen engagement: a lone self engagement simply unbinds.
	if c.boundSelf {
		c.boundSelf = false
	}
	if c.activated {
		s.proliferate(c)
	} else if s.Rand.Float64() > c.proliFrac {
		s.migrate(c)
	} else {
		s.proliferate(c)
	}
}

// senesce retires the agent, with the complementary probability of
// apoptosing instead.
func (s *Sim) senesce(c *Cell) {
	if s.Rand.Float64() > c.senesFrac {
		s.apoptose(c)
		return
	}
	c.typ = TypeSenescent
	c.migrating = false
	c.proliferating = false
	c.boundAntigen = false
	c.boundSelf = false
	c.activated = false
}

// apoptose marks the agent for death and schedules its removal.
func (s *Sim) apoptose(c *Cell) {
	c.typ = TypeApoptotic
	c.migrating = false
	c.proliferating = false
	c.boundAntigen = false
	c.boundSelf = false
	c.activated = false
	s.scheduleRemove(c)
}

func (s *Sim) starve(c *Cell) {
	c.typ = TypeStarved
	c.migrating = false
	c.proliferating = false
	c.boundAntigen = false
	c.boundSelf = false
}

// pause blocks the agent until space or nutrients free up; decision logic
// still runs from the paused state.
func (s *Sim) pause(c *Cell) {
	c.typ = TypePaused
	c.migrating = false
	c.proliferating = false
	c.boundAntigen = false
	c.boundSelf = false
}

func (s *Sim) migrate(c *Cell) {
	c.typ = TypeMigratory
	c.migrating = true
	c.proliferating = false
	c.boundAntigen = false
	c.boundSelf = false
	s.scheduleMove(c)
}

// proliferate creates the tentative daughter immediately; the division
// helper places it once mass has doubled and synthesis time has elapsed.
func (s *Sim) proliferate(c *Cell) {
	c.typ = TypeProliferative
	c.migrating = false
	c.proliferating = true
	c.boundAntigen = false
	c.boundSelf = false

	f := s.Rand.Float64()/10 + 0.45
	daughter := s.newEffector(c.pop, c.loc, c.critVolume*2*f, 0, c.params)
	s.scheduleMake(c, daughter, f)
}

func (s *Sim) cytotoxic(c *Cell, target *Target) {
	c.typ = TypeCytotoxic
	c.activated = true
	c.migrating = false
	c.proliferating = false
	c.lastActiveTicker = 0
	s.scheduleKill(c, target)
}

// stimulate quiesces the bound target and holds the bound state for the
// configured contact time.
func (s *Sim) stimulate(c *Cell, target *Target) {
	c.typ = TypeStimulatory
	c.activated = true
	c.migrating = false
	c.proliferating = false
	c.lastActiveTicker = 0

	if target == nil || target.stopped {
		c.boundAntigen = false
		c.typ = TypeNeutral
		c.helper = nil
		return
	}
	target.quiesce()
	s.scheduleReset(c)
}

func (s *Sim) exhaust(c *Cell) {
	if s.Rand.Float64() > c.exhauFrac {
		s.apoptose(c)
		return
	}
	c.typ = TypeExhausted
	c.migrating = false
	c.proliferating = false
	c.boundAntigen = false
	c.activated = false
}

func (s *Sim) anergy(c *Cell) {
	if s.Rand.Float64() > c.anergFrac {
		s.apoptose(c)
		return
	}
	c.typ = TypeAnergic
	c.migrating = false
	c.proliferating = false
	c.boundAntigen = false
	c.boundSelf = false
	c.activated = false
}

// Snapshot renders the agent's profiler record.
func (c *Cell) Snapshot() AgentSnapshot {
	return AgentSnapshot{
		Subtype: string(c.subtype),
		Pop:     c.pop,
		Type:    int(c.typ),
		Loc:     c.loc,
		Volume:  math.Round(c.volume*100) / 100,
		Age:     c.age,
		Cycles:  append([]float64(nil), c.cycles...),
	}
}
