package cells

import (
	"math"

	"cartsim.ai/internal/sim/engine"
	"cartsim.ai/internal/sim/env"
)

// HelperKind names the deferred action a helper completes.
type HelperKind int

const (
	HelperRemove HelperKind = iota
	HelperMove
	HelperMake
	HelperKill
	HelperReset
)

// Helper is a deferred continuation of an agent decision. It holds arena
// identifiers, never pointers, so a fire against an agent that stopped in
// the meantime resolves to nothing and detaches. An agent carries at most
// one helper; scheduling a new one cancels the old.
type Helper struct {
	Kind     HelperKind
	CellID   uint64
	TargetID uint64
	Begin    uint64
	End      uint64

	handle *engine.Handle

	// Division bookkeeping.
	daughter  *Cell
	synthTime int
	ticker    int
	frac      float64
}

func (h *Helper) Ticker() int { return h.ticker }

// attach installs a helper as the agent's single outstanding continuation,
// cancelling any previous one.
func (s *Sim) attach(c *Cell, h *Helper) {
	if c.helper != nil && c.helper.handle != nil {
		c.helper.handle.Stop()
	}
	c.helper = h
}

// detach clears the agent's helper if it is the one firing.
func (s *Sim) detach(c *Cell, h *Helper) {
	if c.helper == h {
		c.helper = nil
	}
}

// delayTicks draws a jittered delay, floored at one tick.
func (s *Sim) delayTicks(mean, span float64) uint64 {
	d := mean + math.Round(span*s.Rand.Jitter())
	if d < 1 {
		d = 1
	}
	return uint64(d)
}

// fireTick clamps a restored deadline into the schedulable future.
func (s *Sim) fireTick(end uint64) uint64 {
	if end <= s.Sched.Time() {
		return s.Sched.Time() + 1
	}
	return end
}

// scheduleRemove clears an apoptotic agent after the configured death time.
func (s *Sim) scheduleRemove(c *Cell) {
	delay := s.delayTicks(c.params["DEATH_TIME"].Mu, c.params["DEATH_RANGE"].Mu)
	s.armRemove(c, s.Sched.Time()+delay)
}

func (s *Sim) armRemove(c *Cell, end uint64) {
	h := &Helper{Kind: HelperRemove, CellID: c.id, Begin: s.Sched.Time(), End: end}
	h.handle = s.Sched.ScheduleOnce(s.fireTick(end), engine.OrderingHelpers, func(uint64) {
		cell, ok := s.cell(h.CellID)
		if !ok {
			return
		}
		s.detach(cell, h)
		s.removeCell(cell)
	})
	s.attach(c, h)
}

// scheduleMove relocates a migratory agent once it has covered one grid
// step at its drawn migration speed. No open destination pauses the agent
// instead.
func (s *Sim) scheduleMove(c *Cell) {
	rate := c.params["MIGRA_RATE"].Mu + c.params["MIGRA_RANGE"].Mu*s.Rand.Jitter()
	delay := uint64(1)
	if rate > 0 {
		delay = uint64(math.Max(1, math.Round(s.Lat.GridStep()/rate)))
	}
	s.armMove(c, s.Sched.Time()+delay)
}

func (s *Sim) armMove(c *Cell, end uint64) {
	h := &Helper{Kind: HelperMove, CellID: c.id, Begin: s.Sched.Time(), End: end}
	h.handle = s.Sched.ScheduleOnce(s.fireTick(end), engine.OrderingHelpers, func(uint64) {
		cell, ok := s.cell(h.CellID)
		if !ok {
			return
		}
		s.detach(cell, h)
		if cell.typ != TypeMigratory {
			return
		}
		loc, found := s.bestLocation(cell, cell.volume)
		if !found {
			s.pause(cell)
			return
		}
		if loc != cell.loc {
			s.Lat.Move(cell, cell.loc, loc)
			cell.loc = loc
		}
		cell.typ = TypeNeutral
		cell.migrating = false
	})
	s.attach(c, h)
}

// scheduleMake drives a division to completion: every tick it re-checks
// that the parent is still proliferative and that a free site exists, then
// waits for doubled mass and the drawn synthesis time before placing the
// daughter. A blocked division pauses the parent instead of holding the
// proliferative state open. Completion is atomic: module pools split by
// the division fraction, both sides get the decremented division budget,
// and the parent returns to neutral.
func (s *Sim) scheduleMake(c *Cell, daughter *Cell, f float64) {
	synth := int(s.delayTicks(c.params["SYNTHESIS_TIME"].Mu, c.params["SYNTHESIS_RANGE"].Mu))
	s.armMake(c, daughter, f, synth, 0)
}

func (s *Sim) armMake(c *Cell, daughter *Cell, f float64, synth, ticker int) {
	h := &Helper{
		Kind:      HelperMake,
		CellID:    c.id,
		Begin:     s.Sched.Time(),
		daughter:  daughter,
		synthTime: synth,
		ticker:    ticker,
		frac:      f,
	}
	h.handle = s.Sched.ScheduleRepeating(h.Begin+1, engine.OrderingHelpers, 1, func(tick uint64) {
		cell, ok := s.cell(h.CellID)
		if !ok {
			h.handle.Stop()
			return
		}
		if cell.typ != TypeProliferative || !cell.proliferating {
			h.handle.Stop()
			s.detach(cell, h)
			return
		}

		loc, found := s.bestLocation(cell, h.daughter.volume)
		if !found {
			h.End = tick
			h.handle.Stop()
			s.detach(cell, h)
			s.pause(cell)
			return
		}
		if !cell.doubled {
			return
		}
		if h.ticker <= h.synthTime {
			h.ticker++
			return
		}

		h.End = tick
		h.handle.Stop()
		s.completeDivision(cell, h, loc)
	})
	s.attach(c, h)
}

// completeDivision splits the parent's module state into the daughter,
// places the daughter, and records the completed cycle length.
func (s *Sim) completeDivision(c *Cell, h *Helper, loc env.Coord) {
	d := h.daughter
	f := h.frac

	d.sig.split(c.sig, f)
	d.met.split(c.met, f, d)
	c.volume = c.met.mass / cellDensity
	d.volume = d.met.mass / cellDensity
	c.doubled = false
	d.doubled = false

	d.energy = c.energy * f
	c.energy *= 1 - f

	c.divisions--
	d.divisions = c.divisions
	d.selfReceptors = c.selfReceptors
	d.boundAntigenCount = c.boundAntigenCount
	d.boundSelfCount = c.boundSelfCount
	d.activated = c.activated
	d.lastActiveTicker = c.lastActiveTicker

	d.loc = loc
	s.register(d)
	s.PopCounts[d.pop]++

	c.cycles = append(c.cycles, float64(h.End-h.Begin))
	c.typ = TypeNeutral
	c.proliferating = false
	s.detach(c, h)
}

// scheduleKill resolves a cytotoxic engagement in the same tick's helper
// phase: with a unit of granzyme available the target takes lethal damage
// and the store decrements. The agent then stays bound and a chained reset
// releases the engagement after the drawn contact time. A stopped target
// unbinds the agent right away instead.
func (s *Sim) scheduleKill(c *Cell, t *Target) {
	var id uint64
	if t != nil {
		id = t.id
	}
	s.armKill(c, id)
}

func (s *Sim) armKill(c *Cell, targetID uint64) {
	now := s.Sched.Time()
	h := &Helper{Kind: HelperKill, CellID: c.id, TargetID: targetID, Begin: now, End: now}
	h.handle = s.Sched.ScheduleOnce(now, engine.OrderingHelpers, func(tick uint64) {
		cell, ok := s.cell(h.CellID)
		if !ok {
			return
		}
		s.detach(cell, h)

		tgt, live := s.target(h.TargetID)
		if !live {
			s.resetBinding(cell)
			return
		}
		if tgt.alive() && cell.sig.amts[sigGranzyme] >= 1 {
			s.killTarget(tgt)
			cell.sig.amts[sigGranzyme]--
			s.Lysed = append(s.Lysed, DeathRecord{Tick: tick, Loc: tgt.loc, Cell: tgt.Snapshot()})
		}
		s.scheduleReset(cell)
	})
	s.attach(c, h)
}

// scheduleReset ends a stimulatory contact after the drawn contact time.
func (s *Sim) scheduleReset(c *Cell) {
	delay := s.delayTicks(c.params["BOUND_TIME"].Mu, c.params["BOUND_RANGE"].Mu)
	s.armReset(c, s.Sched.Time()+delay)
}

func (s *Sim) armReset(c *Cell, end uint64) {
	h := &Helper{Kind: HelperReset, CellID: c.id, Begin: s.Sched.Time(), End: end}
	h.handle = s.Sched.ScheduleOnce(s.fireTick(end), engine.OrderingHelpers, func(uint64) {
		cell, ok := s.cell(h.CellID)
		if !ok {
			return
		}
		s.detach(cell, h)
		s.resetBinding(cell)
	})
	s.attach(c, h)
}

// resetBinding releases receptor engagement and returns an engaged agent to
// the undecided state.
func (s *Sim) resetBinding(c *Cell) {
	c.boundAntigen = false
	c.boundSelf = false
	if c.typ == TypeCytotoxic || c.typ == TypeStimulatory {
		c.typ = TypeNeutral
	}
}
