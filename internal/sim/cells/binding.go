package cells

import "math"

// avogadroUM converts a molar affinity to molecules in a lattice-site
// volume given in um^3 (1e-15 L per um^3 times Avogadro's number).
const avogadroUM = 1e-15 * 6.022e23

// bindTarget stochastically engages the agent's two receptor systems
// against neighboring targets. Neighbors are shuffled on the shared stream,
// so the outcome is a function of the deterministic draw sequence, not of
// container order. Up to searchAbility candidates are examined; engaging
// either receptor ends the search at that candidate.
func (s *Sim) bindTarget(c *Cell) *Target {
	locVolume := s.Lat.Spec().Volume()
	kdCAR := c.carAffinity * locVolume * avogadroUM
	kdSelf := c.selfAffinity * locVolume * avogadroUM

	occ := s.Lat.Neighborhood(c.loc)
	candidates := make([]*Target, 0, len(occ))
	others := 0
	for _, o := range occ {
		if o.GridID() == c.id {
			continue
		}
		others++
		if t, ok := s.targets[o.GridID()]; ok && t.alive() {
			candidates = append(candidates, t)
		} else {
			candidates = append(candidates, nil) // same-subtype or dead neighbor, skipped in order
		}
	}

	if others == 0 {
		c.boundAntigen = false
		c.boundSelf = false
		return nil
	}

	s.Rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	maxSearch := others
	if c.searchAbility < maxSearch {
		maxSearch = c.searchAbility
	}

	for i := 0; i < maxSearch; i++ {
		t := candidates[i]
		if t == nil {
			continue
		}

		hillCAR := (t.carAntigens * c.contactFrac / (kdCAR*c.carBeta + t.carAntigens*c.contactFrac)) *
			(float64(c.cars) / 50000) * c.carAlpha
		hillSelf := (t.selfTargets * c.contactFrac / (kdSelf*c.selfBeta + t.selfTargets*c.contactFrac)) *
			(float64(c.selfReceptors) / float64(c.selfReceptorsStart)) * c.selfAlpha

		scoreCAR := 2/(1+math.Exp(-hillCAR)) - 1
		scoreSelf := 2/(1+math.Exp(-hillSelf)) - 1

		randAntigen := s.Rand.Float64()
		randSelf := s.Rand.Float64()

		switch {
		case scoreCAR >= randAntigen && scoreSelf < randSelf:
			c.boundAntigen = true
			c.boundSelf = false
			c.boundAntigenCount++
			c.upregulateSelfReceptors(s)
			return t
		case scoreCAR >= randAntigen && scoreSelf >= randSelf:
			c.boundAntigen = true
			c.boundSelf = true
			c.boundAntigenCount++
			c.boundSelfCount++
			c.upregulateSelfReceptors(s)
			return t
		case scoreCAR < randAntigen && scoreSelf >= randSelf:
			c.boundAntigen = false
			c.boundSelf = true
			c.boundSelfCount++
			return t
		default:
			c.boundAntigen = false
			c.boundSelf = false
		}
	}

	c.boundAntigen = false
	c.boundSelf = false
	return nil
}

// upregulateSelfReceptors models inhibitory-receptor upregulation after
// antigen engagement: the current count inflates by a multiplicative jitter
// around 1.0, and the lineage distribution is recentered so daughters
// inherit the shift.
func (c *Cell) upregulateSelfReceptors(s *Sim) {
	c.selfReceptors += int(float64(c.selfReceptorsStart) * (0.95 + s.Rand.Float64()/10))
	c.params["SELF_RECEPTORS"] = c.params["SELF_RECEPTORS"].Update(float64(c.selfReceptors))
}
