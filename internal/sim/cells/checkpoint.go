package cells

import (
	"fmt"

	"cartsim.ai/internal/persistence/snapshot"
	"cartsim.ai/internal/sim/engine"
	"cartsim.ai/internal/sim/env"
	"cartsim.ai/internal/sim/rng"
	"cartsim.ai/internal/sim/series"
)

func coordV1(c env.Coord) snapshot.CoordV1 { return snapshot.CoordV1{U: c.U, V: c.V, Z: c.Z} }
func coordFrom(v snapshot.CoordV1) env.Coord { return env.Coord{U: v.U, V: v.V, Z: v.Z} }

func damageKey(c env.Coord) string { return fmt.Sprintf("%d,%d,%d", c.U, c.V, c.Z) }

// ExportCheckpoint captures the complete resumable state: random stream,
// molecule fields, every agent with its module state and outstanding
// helper, and the undrained lysis buffer.
func (s *Sim) ExportCheckpoint(runID string) (snapshot.CheckpointV1, error) {
	state, err := s.Rand.State()
	if err != nil {
		return snapshot.CheckpointV1{}, fmt.Errorf("rand state: %w", err)
	}

	cp := snapshot.CheckpointV1{
		Header: snapshot.Header{
			Version: 1,
			RunID:   runID,
			Series:  s.Series.Name,
			Tick:    s.Sched.Time(),
		},
		Seed:      s.Rand.Seed(),
		RandState: state,
		NextID:    s.nextID,
		PopCounts: append([]int(nil), s.PopCounts...),
		Fields:    map[string][]float64{},
	}

	for name := range s.Series.Molecules {
		if f := s.Lat.Field(name); f != nil {
			cp.Fields[name] = f.Export()
		}
	}
	for _, loc := range s.Lat.Locations() {
		if d := s.Lat.Damage(loc); d != 0 {
			if cp.Damage == nil {
				cp.Damage = map[string]float64{}
			}
			cp.Damage[damageKey(loc)] = d
		}
	}

	for _, c := range s.Cells() {
		cp.Cells = append(cp.Cells, exportCell(c))
	}
	for _, t := range s.Targets() {
		cp.Targets = append(cp.Targets, snapshot.TargetV1{
			ID:          t.id,
			Pop:         t.pop,
			Loc:         coordV1(t.loc),
			Type:        int(t.typ),
			Age:         t.age,
			Volume:      t.volume,
			CARAntigens: t.carAntigens,
			SelfTargets: t.selfTargets,
			RemovalTick: t.removalTick,
		})
	}
	for _, d := range s.Lysed {
		cp.Lysed = append(cp.Lysed, snapshot.LysisV1{
			Tick:    d.Tick,
			Loc:     coordV1(d.Loc),
			Subtype: d.Cell.Subtype,
			Pop:     d.Cell.Pop,
			Type:    d.Cell.Type,
			Volume:  d.Cell.Volume,
			Age:     d.Cell.Age,
		})
	}
	return cp, nil
}

func exportCell(c *Cell) snapshot.CellV1 {
	v := snapshot.CellV1{
		ID:      c.id,
		Pop:     c.pop,
		Subtype: string(c.subtype),
		Loc:     coordV1(c.loc),
		Type:    int(c.typ),

		Migrating:     c.migrating,
		Proliferating: c.proliferating,
		Activated:     c.activated,
		BoundAntigen:  c.boundAntigen,
		BoundSelf:     c.boundSelf,
		Doubled:       c.doubled,

		Age:        c.age,
		Volume:     c.volume,
		CritVolume: c.critVolume,
		Energy:     c.energy,
		DeathAge:   c.deathAge,
		Divisions:  c.divisions,

		SenesFrac:       c.senesFrac,
		ExhauFrac:       c.exhauFrac,
		AnergFrac:       c.anergFrac,
		ProliFrac:       c.proliFrac,
		EnergyThreshold: c.energyThreshold,
		Accuracy:        c.accuracy,
		SearchAbility:   c.searchAbility,
		MaxAntigen:      c.maxAntigen,

		CARs:               c.cars,
		SelfReceptors:      c.selfReceptors,
		SelfReceptorsStart: c.selfReceptorsStart,

		BoundAntigenCount: c.boundAntigenCount,
		BoundSelfCount:    c.boundSelfCount,
		LastActiveTicker:  c.lastActiveTicker,

		Cycles: append([]float64(nil), c.cycles...),
		Params: map[string]snapshot.ParamV1{},

		Signaling: snapshot.SignalingV1{
			Amts:         append([]float64(nil), c.sig.amts[:]...),
			History:      append([]float64(nil), c.sig.history[:]...),
			Ticker:       c.sig.ticker,
			ActiveTicker: c.sig.activeTicker,
		},
		Metabolism: snapshot.MetabolismV1{
			Glucose:  c.met.glucose,
			Pyruvate: c.met.pyruvate,
			Lactate:  c.met.lactate,
			Mass:     c.met.mass,
			CritMass: c.met.critMass,
		},
	}
	for name, p := range c.params {
		v.Params[name] = snapshot.ParamV1{Mu: p.Mu, Het: p.Het, Frac: p.Frac}
	}
	if h := c.helper; h != nil {
		hv := &snapshot.HelperV1{
			Kind:      int(h.Kind),
			TargetID:  h.TargetID,
			Begin:     h.Begin,
			End:       h.End,
			SynthTime: h.synthTime,
			Ticker:    h.ticker,
			Frac:      h.frac,
		}
		if h.daughter != nil {
			d := exportCell(h.daughter)
			hv.Daughter = &d
		}
		v.Helper = hv
	}
	return v
}

// Resume rebuilds a simulation from a checkpoint against the same series
// configuration. The random stream, fields, agents, and helpers pick up
// exactly where the export left them; treatments still in the future stay
// armed.
func Resume(cfg *series.Series, cp snapshot.CheckpointV1) (*Sim, error) {
	if cp.Header.Series != cfg.Name {
		return nil, fmt.Errorf("checkpoint is for series %q, not %q", cp.Header.Series, cfg.Name)
	}
	r, err := rng.Restore(cp.Seed, cp.RandState)
	if err != nil {
		return nil, fmt.Errorf("rand state: %w", err)
	}

	sched := engine.New()
	sched.Resume(cp.Header.Tick)

	sim := &Sim{
		Series:    cfg,
		Rand:      r,
		Sched:     sched,
		Lat:       env.New(cfg),
		nextID:    cp.NextID,
		cells:     map[uint64]*Cell{},
		targets:   map[uint64]*Target{},
		PopCounts: make([]int, len(cfg.Populations)),
	}
	copy(sim.PopCounts, cp.PopCounts)

	sim.scheduleFieldRelax()

	for name, vals := range cp.Fields {
		if f := sim.Lat.Field(name); f != nil {
			f.Import(vals)
		}
	}
	for key, d := range cp.Damage {
		var c env.Coord
		if _, err := fmt.Sscanf(key, "%d,%d,%d", &c.U, &c.V, &c.Z); err == nil {
			sim.Lat.SetDamage(c, d)
		}
	}

	// Targets first, so kill helpers resolve their identifiers.
	for _, tv := range cp.Targets {
		t := &Target{
			id:          tv.ID,
			pop:         tv.Pop,
			loc:         coordFrom(tv.Loc),
			typ:         CellType(tv.Type),
			age:         tv.Age,
			volume:      tv.Volume,
			carAntigens: tv.CARAntigens,
			selfTargets: tv.SelfTargets,
			maxHeight:   cfg.Param(tv.Pop, "MAX_HEIGHT"),
		}
		sim.targets[t.id] = t
		sim.Lat.Add(t, t.loc)
		if t.typ == TypeApoptotic && tv.RemovalTick > 0 {
			sim.armTargetRemoval(t, tv.RemovalTick)
		}
	}

	for _, cv := range cp.Cells {
		c := sim.importCell(cv)
		sim.cells[c.id] = c
		sim.Lat.Add(c, c.loc)
		id := c.id
		c.stopHandle = sim.Sched.ScheduleRepeating(sim.Sched.Time()+1, engine.OrderingCells, 1, func(tick uint64) {
			if cell, ok := sim.cells[id]; ok && !cell.stopped {
				sim.stepCell(cell, tick)
			}
		})
	}
	for _, cv := range cp.Cells {
		if cv.Helper != nil {
			sim.rearmHelper(sim.cells[cv.ID], cv.Helper)
		}
	}

	for _, lv := range cp.Lysed {
		sim.Lysed = append(sim.Lysed, DeathRecord{
			Tick: lv.Tick,
			Loc:  coordFrom(lv.Loc),
			Cell: AgentSnapshot{
				Subtype: lv.Subtype,
				Pop:     lv.Pop,
				Type:    lv.Type,
				Loc:     coordFrom(lv.Loc),
				Volume:  lv.Volume,
				Age:     lv.Age,
			},
		})
	}

	for _, t := range cfg.Treatments {
		if t.Delay > sched.Time() {
			sim.scheduleTreatment(t)
		}
	}
	return sim, nil
}

// importCell rebuilds an agent without consuming any random draws: drawn
// values come back from the checkpoint, and module rate constants rebuild
// from the recentered lineage distributions.
func (s *Sim) importCell(v snapshot.CellV1) *Cell {
	params := make(series.ParamSet, len(v.Params))
	for name, p := range v.Params {
		params[name] = series.Param{Mu: p.Mu, Het: p.Het, Frac: p.Frac}
	}

	c := &Cell{
		id:      v.ID,
		pop:     v.Pop,
		subtype: series.Subtype(v.Subtype),
		loc:     coordFrom(v.Loc),
		typ:     CellType(v.Type),

		migrating:     v.Migrating,
		proliferating: v.Proliferating,
		activated:     v.Activated,
		boundAntigen:  v.BoundAntigen,
		boundSelf:     v.BoundSelf,
		doubled:       v.Doubled,

		age:        v.Age,
		volume:     v.Volume,
		critVolume: v.CritVolume,
		energy:     v.Energy,
		deathAge:   v.DeathAge,
		divisions:  v.Divisions,

		senesFrac:       v.SenesFrac,
		exhauFrac:       v.ExhauFrac,
		anergFrac:       v.AnergFrac,
		proliFrac:       v.ProliFrac,
		energyThreshold: v.EnergyThreshold,
		accuracy:        v.Accuracy,
		searchAbility:   v.SearchAbility,
		maxAntigen:      v.MaxAntigen,

		cars:               v.CARs,
		selfReceptors:      v.SelfReceptors,
		selfReceptorsStart: v.SelfReceptorsStart,

		boundAntigenCount: v.BoundAntigenCount,
		boundSelfCount:    v.BoundSelfCount,
		lastActiveTicker:  v.LastActiveTicker,

		cycles: append([]float64(nil), v.Cycles...),
		params: params,
	}
	c.carAffinity = params["CAR_AFFINITY"].Mu
	c.carAlpha = params["CAR_ALPHA"].Mu
	c.carBeta = params["CAR_BETA"].Mu
	c.selfAffinity = params["SELF_RECEPTOR_AFFINITY"].Mu
	c.selfAlpha = params["SELF_ALPHA"].Mu
	c.selfBeta = params["SELF_BETA"].Mu
	c.contactFrac = params["CONTACT_FRAC"].Mu

	c.sig = newSignaling(s, c)
	copy(c.sig.amts[:], v.Signaling.Amts)
	copy(c.sig.history[:], v.Signaling.History)
	c.sig.ticker = v.Signaling.Ticker
	c.sig.activeTicker = v.Signaling.ActiveTicker

	c.met = &metabolism{
		glucose:          v.Metabolism.Glucose,
		pyruvate:         v.Metabolism.Pyruvate,
		lactate:          v.Metabolism.Lactate,
		mass:             v.Metabolism.Mass,
		critMass:         v.Metabolism.CritMass,
		metaPref:         params["META_PREF"].Mu,
		metaPrefIL2:      params["META_PREF_IL2"].Mu,
		metaPrefActive:   params["META_PREF_ACTIVE"].Mu,
		glucUptakeRate:   params["GLUC_UPTAKE_RATE"].Mu,
		uptakeRateIL2:    params["GLUC_UPTAKE_RATE_IL2"].Mu,
		uptakeRateActive: params["GLUC_UPTAKE_RATE_ACTIVE"].Mu,
		fracMass:         params["FRAC_MASS"].Mu,
		fracMassActive:   params["FRAC_MASS_ACTIVE"].Mu,
		ratioGlucPyru:    params["RATIO_GLUC_TO_PYRU"].Mu,
		lactateRate:      params["LACTATE_RATE"].Mu,
		autophagyRate:    params["AUTOPHAGY_RATE"].Mu,
		minMassFrac:      params["MIN_MASS_FRAC"].Mu,
		switchDelay:      int(params["META_SWITCH_DELAY"].Mu),
	}
	return c
}

func (s *Sim) rearmHelper(c *Cell, hv *snapshot.HelperV1) {
	switch HelperKind(hv.Kind) {
	case HelperRemove:
		s.armRemove(c, hv.End)
	case HelperMove:
		s.armMove(c, hv.End)
	case HelperKill:
		s.armKill(c, hv.TargetID)
	case HelperReset:
		s.armReset(c, hv.End)
	case HelperMake:
		if hv.Daughter != nil {
			s.armMake(c, s.importCell(*hv.Daughter), hv.Frac, hv.SynthTime, hv.Ticker)
		}
	}
}
