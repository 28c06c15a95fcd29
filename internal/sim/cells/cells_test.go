package cells

import (
	"reflect"
	"testing"

	"cartsim.ai/internal/sim/env"
	"cartsim.ai/internal/sim/series"
)

func testSeries() *series.Series {
	s := series.Default()
	s.Name = "cells-test"
	s.Radius = 4
	s.Margin = 2
	s.Ticks = 5000
	s.Treatments = nil
	return s
}

func noTumorSeries() *series.Series {
	s := testSeries()
	s.Populations[0].InitFrac = 0
	return s
}

func mustSim(t *testing.T, s *series.Series) *Sim {
	t.Helper()
	sim, err := New(s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sim
}

// addEffector places an effector in the arena without scheduling its step,
// so a test can drive stepCell and helpers directly.
func addEffector(sim *Sim, pop int, loc env.Coord) *Cell {
	p := sim.Series.Populations[pop]
	c := sim.newEffector(pop, loc, sim.Series.NextVolume(pop, sim.Rand), 0, baseParams(p.Params))
	sim.cells[c.id] = c
	sim.Lat.Add(c, loc)
	return c
}

// runEffector places an effector that steps on the schedule like a treated
// agent would.
func runEffector(sim *Sim, pop int, loc env.Coord) *Cell {
	p := sim.Series.Populations[pop]
	c := sim.newEffector(pop, loc, sim.Series.NextVolume(pop, sim.Rand), 0, baseParams(p.Params))
	sim.register(c)
	sim.PopCounts[pop]++
	return c
}

func TestSetup_PlatesTumorOverInterior(t *testing.T) {
	sim := mustSim(t, testSeries())

	interior := 0
	for _, c := range sim.Lat.Locations() {
		if sim.Lat.Interior(c) {
			interior++
		}
	}
	targets := sim.Targets()
	if len(targets) != interior {
		t.Fatalf("plated %d targets over %d interior sites", len(targets), interior)
	}
	if sim.PopCounts[0] != interior {
		t.Fatalf("PopCounts[0] = %d, want %d", sim.PopCounts[0], interior)
	}
	for _, tgt := range targets {
		if !sim.Lat.Interior(tgt.Loc()) {
			t.Fatalf("target %d plated outside the interior at %v", tgt.ID(), tgt.Loc())
		}
	}
	if len(sim.Cells()) != 0 {
		t.Fatalf("effectors present before any treatment: %d", len(sim.Cells()))
	}
}

func TestTreatment_SeedsDoseNearVasculature(t *testing.T) {
	s := testSeries()
	s.Treatments = []series.Treatment{
		{Delay: 5, Dose: 8, Fractions: []series.DoseArm{{Pop: 1, Frac: 0.75}, {Pop: 2, Frac: 0.25}}},
	}
	sim := mustSim(t, s)

	for i := 0; i < 6; i++ {
		if err := sim.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	cs := sim.Cells()
	if len(cs) != 8 {
		t.Fatalf("placed %d effectors, want 8", len(cs))
	}
	if sim.PopCounts[1] != 6 || sim.PopCounts[2] != 2 {
		t.Fatalf("arm split %d/%d, want 6/2", sim.PopCounts[1], sim.PopCounts[2])
	}
	minRadius := int(s.Global("MIN_RADIUS_SEED"))
	for _, c := range cs {
		if env.HexDist(c.Loc()) < minRadius {
			t.Fatalf("effector %d seeded at %v inside the minimum radius", c.ID(), c.Loc())
		}
		if !sim.Lat.NearSite(c.Loc()) {
			t.Fatalf("effector %d seeded at %v away from vasculature", c.ID(), c.Loc())
		}
	}
}

func TestTreatment_TooFewLocationsFails(t *testing.T) {
	s := testSeries()
	// The seeding annulus cannot hold this dose.
	s.Treatments = []series.Treatment{
		{Delay: 2, Dose: 500, Fractions: []series.DoseArm{{Pop: 1, Frac: 1}}},
	}
	sim := mustSim(t, s)

	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = sim.Step()
	}
	if err == nil {
		t.Fatalf("oversized dose did not fail the run")
	}
}

func TestRun_SameSeedSameTrajectory(t *testing.T) {
	mk := func() *Sim {
		s := testSeries()
		s.Treatments = []series.Treatment{
			{Delay: 2, Dose: 6, Fractions: []series.DoseArm{{Pop: 1, Frac: 0.5}, {Pop: 2, Frac: 0.5}}},
		}
		sim := mustSim(t, s)
		for i := 0; i < 40; i++ {
			if err := sim.Step(); err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
		}
		return sim
	}

	a, err := mk().ExportCheckpoint("run")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	b, err := mk().ExportCheckpoint("run")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed diverged after 40 ticks")
	}
}

func TestCollectMetrics(t *testing.T) {
	sim := mustSim(t, testSeries())
	runEffector(sim, 1, env.Coord{U: 4, V: 0})

	m := sim.CollectMetrics()
	if m.Cells != 1 {
		t.Fatalf("cells = %d, want 1", m.Cells)
	}
	if m.Targets != len(sim.Targets()) {
		t.Fatalf("targets = %d, want %d", m.Targets, len(sim.Targets()))
	}
	if m.ByPop[1] != 1 {
		t.Fatalf("by_pop[1] = %d, want 1", m.ByPop[1])
	}
	if m.ByType["neutral"] == 0 {
		t.Fatalf("no neutral agents counted")
	}
}

func TestLocationOpen_CapacityLimits(t *testing.T) {
	sim := mustSim(t, noTumorSeries())
	loc := env.Coord{}
	maxHeight := sim.Series.Populations[0].Params["MAX_HEIGHT"].Mu

	if !sim.locationOpen(loc, 175, maxHeight) {
		t.Fatalf("empty site should be open")
	}

	// Volume cap: one bulky occupant plus a large newcomer overflows the
	// site's volume at the height limit.
	tgt := sim.newTarget(0, loc)
	sim.Lat.Add(tgt, loc)
	if sim.locationOpen(loc, 5000, maxHeight) {
		t.Fatalf("site should reject volume above the height limit")
	}
	if !sim.locationOpen(loc, 175, maxHeight) {
		t.Fatalf("site should still accept a small agent")
	}

	// Agent-count cap.
	for i := 0; i < sim.Lat.Spec().MaxAgents-1; i++ {
		extra := sim.newTarget(0, loc)
		extra.volume = 10
		sim.Lat.Add(extra, loc)
	}
	if sim.locationOpen(loc, 10, maxHeight) {
		t.Fatalf("site at max agents should be closed")
	}
}

// On a single-layer lattice the per-layer winner is returned directly, with
// no draw over the vertical slots, so a clear glucose optimum always wins.
func TestBestLocation_SingleLayerPicksWinner(t *testing.T) {
	sim := mustSim(t, noTumorSeries())
	c := addEffector(sim, 1, env.Coord{})
	c.accuracy = 1 // score on glucose alone

	gluc := sim.Lat.Field("GLUCOSE")
	best := env.Coord{U: 1, V: 0}
	gluc.SetVal(c.loc, 0)
	for _, n := range sim.Lat.Neighbors(c.loc) {
		if n != best {
			gluc.SetVal(n, 0)
		}
	}

	for i := 0; i < 20; i++ {
		got, ok := sim.bestLocation(c, c.volume)
		if !ok {
			t.Fatalf("no free location around %v", c.loc)
		}
		if got != best {
			t.Fatalf("selection %d returned %v, want the glucose-rich %v", i, got, best)
		}
	}
}

// A lone proliferative effector doubles its mass, waits out synthesis, and
// divides into two viable agents with the shared division budget.
func TestLoneEffector_Divides(t *testing.T) {
	sim := mustSim(t, noTumorSeries())
	c := runEffector(sim, 1, env.Coord{})
	c.proliFrac = 1 // always choose proliferation over migration
	startDivisions := c.divisions

	divided := false
	for i := 0; i < 6000; i++ {
		if err := sim.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if len(sim.Cells()) == 2 {
			divided = true
			break
		}
	}
	if !divided {
		t.Fatalf("no division within 6000 ticks")
	}

	cs := sim.Cells()
	parent, daughter := cs[0], cs[1]
	if parent.ID() != c.ID() {
		parent, daughter = daughter, parent
	}
	if parent.Type() != TypeNeutral {
		t.Fatalf("parent type after division = %v", parent.Type())
	}
	if parent.Divisions() != startDivisions-1 || daughter.Divisions() != startDivisions-1 {
		t.Fatalf("division budget %d/%d, want both %d",
			parent.Divisions(), daughter.Divisions(), startDivisions-1)
	}
	if len(parent.Cycles()) != 1 || parent.Cycles()[0] <= 0 {
		t.Fatalf("cycle length not recorded: %v", parent.Cycles())
	}
	if daughter.met.mass < 0.85*daughter.met.critMass || daughter.met.mass > 1.15*daughter.met.critMass {
		t.Fatalf("daughter mass %v far from its critical mass %v",
			daughter.met.mass, daughter.met.critMass)
	}
	if sim.PopCounts[1] != 2 {
		t.Fatalf("PopCounts[1] = %d after division", sim.PopCounts[1])
	}
}

// statEffectors spreads fresh effectors over the interior so no site's
// glucose is contended during a single decision step.
func statEffectors(sim *Sim, n int) []*Cell {
	var interior []env.Coord
	for _, loc := range sim.Lat.Locations() {
		if sim.Lat.Interior(loc) {
			interior = append(interior, loc)
		}
	}
	out := make([]*Cell, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, addEffector(sim, 1, interior[i%len(interior)]))
	}
	return out
}

// Undecided agents with binding and activation out of the picture split
// between proliferation and migration at the proliferation fraction.
func TestDecision_ProliferationFraction(t *testing.T) {
	sim := mustSim(t, noTumorSeries())
	cs := statEffectors(sim, 240)

	proli := 0
	for _, c := range cs {
		c.proliFrac = 0.3
		sim.stepCell(c, 1)
		switch c.Type() {
		case TypeProliferative:
			proli++
		case TypeMigratory:
		default:
			t.Fatalf("agent %d decided %v, want proliferative or migratory", c.ID(), c.Type())
		}
	}

	got := float64(proli) / float64(len(cs))
	if got < 0.18 || got > 0.42 {
		t.Fatalf("proliferation fraction %.3f over %d trials, want near 0.3", got, len(cs))
	}
}

// Agents with an exhausted division budget senesce at the senescence
// fraction and apoptose otherwise.
func TestDecision_SenescenceFraction(t *testing.T) {
	sim := mustSim(t, noTumorSeries())
	cs := statEffectors(sim, 240)

	senes, apopt := 0, 0
	for _, c := range cs {
		c.divisions = 0
		c.senesFrac = 0.7
		sim.stepCell(c, 1)
		switch c.Type() {
		case TypeSenescent:
			senes++
		case TypeApoptotic:
			apopt++
		default:
			t.Fatalf("agent %d decided %v, want senescent or apoptotic", c.ID(), c.Type())
		}
	}
	if senes+apopt != len(cs) {
		t.Fatalf("decisions %d+%d over %d trials", senes, apopt, len(cs))
	}

	got := float64(senes) / float64(len(cs))
	if got < 0.58 || got > 0.82 {
		t.Fatalf("senescence fraction %.3f over %d trials, want near 0.7", got, len(cs))
	}
}
