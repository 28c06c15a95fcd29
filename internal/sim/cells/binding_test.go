package cells

import (
	"testing"

	"cartsim.ai/internal/sim/env"
)

// forcedAlpha saturates a receptor's hill response so its score is exactly
// one and engagement no longer depends on the draw.
const forcedAlpha = 1000

func bindingPair(t *testing.T) (*Sim, *Cell, *Target) {
	t.Helper()
	sim := mustSim(t, noTumorSeries())
	loc := env.Coord{}
	tgt := sim.newTarget(0, loc)
	sim.Lat.Add(tgt, loc)
	c := addEffector(sim, 1, loc)
	return sim, c, tgt
}

func TestBindTarget_AntigenOnly(t *testing.T) {
	sim, c, tgt := bindingPair(t)
	c.carAlpha = forcedAlpha
	tgt.selfTargets = 0
	startSelf := c.selfReceptors

	got := sim.bindTarget(c)
	if got != tgt {
		t.Fatalf("bound %v, want the co-located target", got)
	}
	if !c.boundAntigen || c.boundSelf {
		t.Fatalf("flags antigen=%v self=%v, want antigen only", c.boundAntigen, c.boundSelf)
	}
	if c.boundAntigenCount != 1 {
		t.Fatalf("antigen count = %d, want 1", c.boundAntigenCount)
	}
	if c.selfReceptors <= startSelf {
		t.Fatalf("self receptors did not upregulate: %d -> %d", startSelf, c.selfReceptors)
	}
}

func TestBindTarget_BothReceptors(t *testing.T) {
	sim, c, tgt := bindingPair(t)
	c.carAlpha = forcedAlpha
	c.selfAlpha = forcedAlpha

	if got := sim.bindTarget(c); got != tgt {
		t.Fatalf("bound %v, want the co-located target", got)
	}
	if !c.boundAntigen || !c.boundSelf {
		t.Fatalf("flags antigen=%v self=%v, want both", c.boundAntigen, c.boundSelf)
	}
	if c.boundSelfCount != 1 {
		t.Fatalf("self count = %d, want 1", c.boundSelfCount)
	}
}

func TestBindTarget_SelfOnly(t *testing.T) {
	sim, c, tgt := bindingPair(t)
	c.selfAlpha = forcedAlpha
	tgt.carAntigens = 0
	startSelf := c.selfReceptors

	if got := sim.bindTarget(c); got != tgt {
		t.Fatalf("bound %v, want the co-located target", got)
	}
	if c.boundAntigen || !c.boundSelf {
		t.Fatalf("flags antigen=%v self=%v, want self only", c.boundAntigen, c.boundSelf)
	}
	if c.selfReceptors != startSelf {
		t.Fatalf("self receptors upregulated without antigen engagement")
	}
}

func TestBindTarget_NoEngagement(t *testing.T) {
	sim, c, tgt := bindingPair(t)
	tgt.carAntigens = 0
	tgt.selfTargets = 0

	if got := sim.bindTarget(c); got != nil {
		t.Fatalf("bound %v with zero ligand densities", got)
	}
	if c.boundAntigen || c.boundSelf {
		t.Fatalf("flags set without engagement")
	}
}

func TestBindTarget_NoNeighbors(t *testing.T) {
	sim := mustSim(t, noTumorSeries())
	c := addEffector(sim, 1, env.Coord{})
	c.boundAntigen = true
	c.boundSelf = true

	if got := sim.bindTarget(c); got != nil {
		t.Fatalf("bound %v with no neighbors", got)
	}
	if c.boundAntigen || c.boundSelf {
		t.Fatalf("stale engagement flags survived an empty neighborhood")
	}
}

func TestStepCell_CytotoxicEngagement(t *testing.T) {
	sim, c, tgt := bindingPair(t)
	c.carAlpha = forcedAlpha
	c.selfAlpha = 0

	sim.stepCell(c, 1)

	if c.typ != TypeCytotoxic {
		t.Fatalf("type = %v, want cytotoxic", c.typ)
	}
	if !c.activated {
		t.Fatalf("engagement did not activate the agent")
	}
	if c.helper == nil || c.helper.Kind != HelperKill {
		t.Fatalf("helper = %+v, want kill", c.helper)
	}
	if c.helper.TargetID != tgt.id {
		t.Fatalf("kill armed against %d, want %d", c.helper.TargetID, tgt.id)
	}

	// The kill resolves on the next schedule step; the agent stays bound
	// under a chained reset until the contact time runs out.
	if err := sim.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if tgt.Type() != TypeApoptotic {
		t.Fatalf("target type after kill fire = %v", tgt.Type())
	}
	if got := c.sig.amts[sigGranzyme]; got != 0 {
		t.Fatalf("granzyme after kill = %v, want 0", got)
	}
	if len(sim.Lysed) != 1 {
		t.Fatalf("lysis records = %d, want 1", len(sim.Lysed))
	}
	if c.helper == nil || c.helper.Kind != HelperReset {
		t.Fatalf("helper after kill = %+v, want chained reset", c.helper)
	}
	if c.typ != TypeCytotoxic || !c.boundAntigen {
		t.Fatalf("bound state released early: type %v bound %v", c.typ, c.boundAntigen)
	}

	for c.helper != nil && sim.Sched.Time() < 400 {
		if err := sim.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if c.typ != TypeNeutral || c.boundAntigen {
		t.Fatalf("agent not released after contact time: type %v bound %v", c.typ, c.boundAntigen)
	}
}

func TestStepCell_StimulatoryEngagement(t *testing.T) {
	sim, _, tgt := bindingPair(t)
	c := addEffector(sim, 2, tgt.loc) // CD4
	c.carAlpha = forcedAlpha
	c.selfAlpha = 0

	sim.stepCell(c, 1)

	if c.typ != TypeStimulatory {
		t.Fatalf("type = %v, want stimulatory", c.typ)
	}
	if tgt.Type() != TypeQuiescent {
		t.Fatalf("target type = %v, want quiescent", tgt.Type())
	}
	if c.helper == nil || c.helper.Kind != HelperReset {
		t.Fatalf("helper = %+v, want reset", c.helper)
	}
}

func TestStepCell_DualEngagementAnergizes(t *testing.T) {
	sim, c, _ := bindingPair(t)
	c.carAlpha = forcedAlpha
	c.selfAlpha = forcedAlpha
	c.anergFrac = 1

	sim.stepCell(c, 1)

	if c.typ != TypeAnergic {
		t.Fatalf("type = %v, want anergic", c.typ)
	}
	if c.activated || c.boundAntigen || c.boundSelf {
		t.Fatalf("anergic agent kept engagement state")
	}
}

func TestStepCell_OverstimulationExhausts(t *testing.T) {
	sim, c, _ := bindingPair(t)
	c.carAlpha = forcedAlpha
	c.selfAlpha = 0
	c.boundAntigenCount = c.maxAntigen
	c.exhauFrac = 1

	sim.stepCell(c, 1)

	if c.typ != TypeExhausted {
		t.Fatalf("type = %v, want exhausted", c.typ)
	}
}

func TestStepCell_ExhaustedBudgetSenesces(t *testing.T) {
	sim, c, _ := bindingPair(t)
	c.divisions = 0
	c.senesFrac = 1

	sim.stepCell(c, 1)
	if c.typ != TypeSenescent {
		t.Fatalf("type = %v, want senescent", c.typ)
	}

	sim2, c2, _ := bindingPair(t)
	c2.divisions = 0
	c2.senesFrac = 0

	sim2.stepCell(c2, 1)
	if c2.typ != TypeApoptotic {
		t.Fatalf("type = %v, want apoptotic", c2.typ)
	}
	if c2.helper == nil || c2.helper.Kind != HelperRemove {
		t.Fatalf("apoptotic agent has no removal helper")
	}
}
