package cells

import "cartsim.ai/internal/sim/env"

// locationOpen checks whether a site can take additional volume: the agent
// count cap and the stacked-height limit both hold after the addition.
func (s *Sim) locationOpen(loc env.Coord, vol, maxHeight float64) bool {
	if !s.Lat.Contains(loc) {
		return false
	}
	if s.Lat.CountAt(loc) >= s.Lat.Spec().MaxAgents {
		return false
	}
	return (s.Lat.TotalVolumeAt(loc)+vol)/s.Lat.Spec().Area <= maxHeight
}

// freeLocations lists the agent's current site and every adjacent site with
// room for it, in the lattice's fixed neighbor order.
func (s *Sim) freeLocations(c *Cell, vol float64) []env.Coord {
	var out []env.Coord
	if s.locationOpen(c.loc, 0, c.maxHeight()) {
		out = append(out, c.loc)
	}
	for _, n := range s.Lat.Neighbors(c.loc) {
		if s.locationOpen(n, vol, c.maxHeight()) {
			out = append(out, n)
		}
	}
	return out
}

// livingTargetsAt counts bindable targets at a site.
func (s *Sim) livingTargetsAt(loc env.Coord) int {
	n := 0
	for _, o := range s.Lat.At(loc) {
		if t, ok := s.targets[o.GridID()]; ok && t.alive() {
			n++
		}
	}
	return n
}

// bestLocation scores the free sites around the agent and tracks the
// winner per vertical layer: same, above, below. The score mixes local
// glucose with noise weighted by the agent's accuracy, plus a term for
// targets present at the site. When the layer below holds a winner all
// three slots are drawn uniformly; otherwise the in-layer winner is
// returned directly, so a single-layer lattice selects deterministically.
func (s *Sim) bestLocation(c *Cell, vol float64) (env.Coord, bool) {
	free := s.freeLocations(c, vol)
	if len(free) == 0 {
		return env.Coord{}, false
	}

	gluc := s.Lat.Field("GLUCOSE")
	inds := [3]int{}
	scores := [3]float64{}
	for i, loc := range free {
		val := c.accuracy*gluc.Frac(loc) + (1-c.accuracy)*s.Rand.Float64() +
			float64(s.livingTargetsAt(loc))
		k := 0
		switch loc.Z {
		case c.loc.Z + 1:
			k = 1
		case c.loc.Z - 1:
			k = 2
		}
		if val > scores[k] {
			scores[k] = val
			inds[k] = i
		}
	}

	k := 0
	if inds[2] != 0 {
		k = s.Rand.IntN(3)
	}
	return free[inds[k]], true
}
