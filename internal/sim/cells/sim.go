// Package cells implements the effector-cell decision engine: the per-agent
// state machine, the stochastic receptor binding engine, the signaling and
// metabolism modules, and the deferred-action helpers that complete
// transitions on later ticks.
package cells

import (
	"fmt"
	"math"
	"sort"

	"cartsim.ai/internal/sim/engine"
	"cartsim.ai/internal/sim/env"
	"cartsim.ai/internal/sim/rng"
	"cartsim.ai/internal/sim/series"
)

// Sim owns the agent arena and wires the environment, scheduler, and random
// stream collaborators together. All agent and helper mutation happens
// synchronously inside the currently executing scheduler step.
type Sim struct {
	Series *series.Series
	Rand   *rng.Stream
	Sched  *engine.Schedule
	Lat    *env.Lattice

	nextID  uint64
	cells   map[uint64]*Cell
	targets map[uint64]*Target

	// Lysed accumulates kill records until a profiler drains them.
	Lysed []DeathRecord

	PopCounts []int

	err error
}

func New(s *series.Series) (*Sim, error) {
	sim := &Sim{
		Series:    s,
		Rand:      rng.New(s.Seed),
		Sched:     engine.New(),
		Lat:       env.New(s),
		cells:     map[uint64]*Cell{},
		targets:   map[uint64]*Target{},
		PopCounts: make([]int, len(s.Populations)),
	}

	sim.scheduleFieldRelax()

	if err := sim.setupAgents(); err != nil {
		return nil, err
	}
	for _, t := range s.Treatments {
		sim.scheduleTreatment(t)
	}
	return sim, nil
}

// scheduleFieldRelax stands in for the external transport solver; it runs
// after cells and helpers at each tick.
func (s *Sim) scheduleFieldRelax() {
	s.Sched.ScheduleRepeating(s.Sched.Time()+1, engine.OrderingProfilers, 1, func(uint64) {
		for _, name := range [4]string{"GLUCOSE", "OXYGEN", "TGFA", "IL-2"} {
			if f := s.Lat.Field(name); f != nil {
				f.Relax()
			}
		}
	})
}

// setupAgents plates the initial populations over the interior lattice,
// shuffled on the shared stream, with per-population counts ceiling-rounded
// from the configured fractions.
func (s *Sim) setupAgents() error {
	var locs []env.Coord
	for _, c := range s.Lat.Locations() {
		if s.Lat.Interior(c) {
			locs = append(locs, c)
		}
	}
	s.Rand.Shuffle(len(locs), func(i, j int) { locs[i], locs[j] = locs[j], locs[i] })

	n := len(locs)
	cum := make([]int, len(s.Series.Populations))
	sum := 0
	for pop, p := range s.Series.Populations {
		sum += int(math.Ceil(p.InitFrac * float64(n)))
		if p.InitFrac == 0 {
			cum[pop] = -1
		} else {
			cum[pop] = sum
		}
	}

	pop := 0
	for i := 0; i < n && pop < len(cum); {
		if cum[pop] == -1 || i == cum[pop] {
			pop++
			continue
		}
		if err := s.seedAgent(pop, locs[i]); err != nil {
			return err
		}
		i++
	}
	return nil
}

func (s *Sim) seedAgent(pop int, loc env.Coord) error {
	p := s.Series.Populations[pop]
	switch p.Subtype {
	case series.SubtypeTissue:
		t := s.newTarget(pop, loc)
		s.Lat.Add(t, loc)
		s.PopCounts[pop]++
	case series.SubtypeCD4, series.SubtypeCD8:
		c := s.newEffector(pop, loc, s.Series.NextVolume(pop, s.Rand), s.Series.NextAge(pop, s.Rand), baseParams(p.Params))
		s.register(c)
		s.PopCounts[pop]++
	default:
		return fmt.Errorf("invariant: population %d has no agent factory", pop)
	}
	return nil
}

// register adds an effector to the arena, the lattice, and the schedule.
func (s *Sim) register(c *Cell) {
	s.cells[c.id] = c
	s.Lat.Add(c, c.loc)
	id := c.id
	c.stopHandle = s.Sched.ScheduleRepeating(s.Sched.Time()+1, engine.OrderingCells, 1, func(tick uint64) {
		if cell, ok := s.cells[id]; ok && !cell.stopped {
			s.stepCell(cell, tick)
		}
	})
}

func (s *Sim) allocID() uint64 {
	s.nextID++
	return s.nextID
}

// cell resolves an arena identifier; a missing or stopped entry is the
// "already stopped" case helpers treat as a no-op.
func (s *Sim) cell(id uint64) (*Cell, bool) {
	c, ok := s.cells[id]
	if !ok || c.stopped {
		return nil, false
	}
	return c, true
}

func (s *Sim) target(id uint64) (*Target, bool) {
	t, ok := s.targets[id]
	if !ok || t.stopped {
		return nil, false
	}
	return t, true
}

// stopCell is the idempotent cancellation point: the agent stops receiving
// ticks and any helper observing it treats later fires as cleanup.
func (s *Sim) stopCell(c *Cell) {
	if c.stopped {
		return
	}
	c.stopped = true
	c.stopHandle.Stop()
}

// removeCell takes a stopped agent out of the lattice and the arena.
func (s *Sim) removeCell(c *Cell) {
	s.stopCell(c)
	s.Lat.Remove(c, c.loc)
	delete(s.cells, c.id)
}

// failf records an invariant violation with the offending agent and tick;
// the run loop aborts on the next check. Results already written by
// completed profiling intervals stay on disk.
func (s *Sim) failf(format string, args ...any) {
	if s.err == nil {
		s.err = fmt.Errorf(format, args...)
	}
}

// Step advances the simulation one tick.
func (s *Sim) Step() error {
	s.Sched.Step()
	return s.err
}

// Run advances until the configured run length or the first invariant
// violation.
func (s *Sim) Run() error {
	for s.Sched.Time() < s.Series.Ticks {
		if err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Cells returns live effectors in ascending identifier order.
func (s *Sim) Cells() []*Cell {
	ids := make([]uint64, 0, len(s.cells))
	for id := range s.cells {
		ids = append(ids, id)
	}
	sortIDs(ids)
	out := make([]*Cell, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.cells[id])
	}
	return out
}

// Targets returns live targets in ascending identifier order.
func (s *Sim) Targets() []*Target {
	ids := make([]uint64, 0, len(s.targets))
	for id := range s.targets {
		ids = append(ids, id)
	}
	sortIDs(ids)
	out := make([]*Target, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.targets[id])
	}
	return out
}

func sortIDs(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// DrainLysed hands accumulated kill records to a profiler and clears the
// buffer.
func (s *Sim) DrainLysed() []DeathRecord {
	out := s.Lysed
	s.Lysed = nil
	return out
}
