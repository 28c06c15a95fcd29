package cells

import (
	"math"

	"cartsim.ai/internal/sim/engine"
	"cartsim.ai/internal/sim/env"
	"cartsim.ai/internal/sim/series"
)

// scheduleTreatment arms a dose insertion at the configured delay. Dosing
// runs in the helper phase so the tick's agent decisions are already
// settled when new effectors appear.
func (s *Sim) scheduleTreatment(t series.Treatment) {
	s.Sched.ScheduleOnce(t.Delay, engine.OrderingHelpers, func(uint64) {
		s.treat(t)
	})
}

// treat inserts a dose of effector agents near vasculature sites. Candidate
// locations keep below the damage threshold and outside the minimum seeding
// radius, then sort into occupancy buckets so effectors land where tissue
// already is; buckets are shuffled internally and walked most-occupied
// first. Running out of candidates before placing the dose is an invariant
// failure.
func (s *Sim) treat(t series.Treatment) {
	maxDamage := s.Series.Global("MAX_DAMAGE_SEED")
	minRadius := int(s.Series.Global("MIN_RADIUS_SEED"))

	var buckets [4][]env.Coord
	for _, loc := range s.Lat.Locations() {
		if !s.Lat.NearSite(loc) || s.Lat.Damage(loc) > maxDamage || env.HexDist(loc) < minRadius {
			continue
		}
		n := s.Lat.CountAt(loc)
		if n > 3 {
			n = 3
		}
		buckets[n] = append(buckets[n], loc)
	}

	var order []env.Coord
	for n := 3; n >= 0; n-- {
		b := buckets[n]
		s.Rand.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })
		order = append(order, b...)
	}

	// Per-arm counts round up, then the combined draw order is shuffled and
	// truncated to the dose.
	var pops []int
	for _, arm := range t.Fractions {
		n := int(math.Ceil(arm.Frac * float64(t.Dose)))
		for i := 0; i < n; i++ {
			pops = append(pops, arm.Pop)
		}
	}
	s.Rand.Shuffle(len(pops), func(i, j int) { pops[i], pops[j] = pops[j], pops[i] })
	if len(pops) > t.Dose {
		pops = pops[:t.Dose]
	}

	placed := 0
	for _, loc := range order {
		if placed == len(pops) {
			break
		}
		pop := pops[placed]
		p := s.Series.Populations[pop]
		vol := s.Series.NextVolume(pop, s.Rand)
		if !s.locationOpen(loc, vol, p.Params["MAX_HEIGHT"].Mu) {
			continue
		}
		c := s.newEffector(pop, loc, vol, s.Series.NextAge(pop, s.Rand), baseParams(p.Params))
		s.register(c)
		s.PopCounts[pop]++
		placed++
	}
	if placed < len(pops) {
		s.failf("invariant: treatment at tick %d placed %d of %d agents before exhausting seed locations",
			s.Sched.Time(), placed, len(pops))
	}
}
