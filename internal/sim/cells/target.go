package cells

import (
	"math"

	"cartsim.ai/internal/sim/engine"
	"cartsim.ai/internal/sim/env"
)

// Target is a tissue/tumor cell: the minimal victim surface the effector
// core needs. It presents antigen and inhibitory ligand densities, occupies
// lattice volume, and can be quiesced or killed; the full tissue state
// machine lives outside this core.
type Target struct {
	id  uint64
	pop int
	loc env.Coord

	typ    CellType
	age    int
	volume float64

	carAntigens float64
	selfTargets float64
	maxHeight   float64

	stopped     bool
	removal     *engine.Handle
	removalTick uint64
}

func (s *Sim) newTarget(pop int, loc env.Coord) *Target {
	p := s.Series.Populations[pop].Params
	t := &Target{
		id:          s.allocID(),
		pop:         pop,
		loc:         loc,
		typ:         TypeNeutral,
		age:         s.Series.NextAge(pop, s.Rand),
		volume:      s.Series.NextVolume(pop, s.Rand),
		carAntigens: p["CAR_ANTIGENS"].Draw(s.Rand),
		selfTargets: p["SELF_TARGETS"].Draw(s.Rand),
		maxHeight:   p["MAX_HEIGHT"].Mu,
	}
	s.targets[t.id] = t
	return t
}

func (t *Target) ID() uint64           { return t.id }
func (t *Target) Pop() int             { return t.pop }
func (t *Target) Loc() env.Coord       { return t.loc }
func (t *Target) Type() CellType       { return t.typ }
func (t *Target) Stopped() bool        { return t.stopped }
func (t *Target) CARAntigens() float64 { return t.carAntigens }
func (t *Target) SelfTargets() float64 { return t.selfTargets }

// env.Occupant.
func (t *Target) GridID() uint64      { return t.id }
func (t *Target) GridVolume() float64 { return t.volume }

// alive reports whether the target can still be bound or counted toward
// location scoring.
func (t *Target) alive() bool {
	return !t.stopped && t.typ != TypeApoptotic && t.typ != TypeNecrotic
}

// quiesce is the stimulatory effect: the target stops cycling.
func (t *Target) quiesce() {
	if t.alive() {
		t.typ = TypeQuiescent
	}
}

// killTarget applies lethal damage: the target turns apoptotic and its
// removal is scheduled after the configured death time with jitter.
func (s *Sim) killTarget(t *Target) {
	if !t.alive() {
		return
	}
	t.typ = TypeApoptotic
	p := s.Series.Populations[t.pop].Params
	delay := p["DEATH_TIME"].Mu + math.Round(p["DEATH_RANGE"].Mu*s.Rand.Jitter())
	if delay < 1 {
		delay = 1
	}
	s.armTargetRemoval(t, s.Sched.Time()+uint64(delay))
}

func (s *Sim) armTargetRemoval(t *Target, end uint64) {
	id := t.id
	t.removalTick = end
	t.removal = s.Sched.ScheduleOnce(s.fireTick(end), engine.OrderingHelpers, func(uint64) {
		tgt, ok := s.targets[id]
		if !ok || tgt.stopped {
			return
		}
		tgt.stopped = true
		s.Lat.Remove(tgt, tgt.loc)
		delete(s.targets, id)
	})
}

// Snapshot renders the target's profiler record.
func (t *Target) Snapshot() AgentSnapshot {
	return AgentSnapshot{
		Subtype: "TISSUE",
		Pop:     t.pop,
		Type:    int(t.typ),
		Loc:     t.loc,
		Volume:  math.Round(t.volume*100) / 100,
		Age:     t.age,
	}
}
