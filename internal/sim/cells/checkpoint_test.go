package cells

import (
	"reflect"
	"testing"

	"cartsim.ai/internal/persistence/snapshot"
	"cartsim.ai/internal/sim/series"
)

// clearHelperBegins zeroes helper arming ticks, which restart at the resume
// tick rather than the original arming tick.
func clearHelperBegins(cp *snapshot.CheckpointV1) {
	var walk func(h *snapshot.HelperV1)
	walk = func(h *snapshot.HelperV1) {
		if h == nil {
			return
		}
		h.Begin = 0
		if h.Daughter != nil {
			walk(h.Daughter.Helper)
		}
	}
	for i := range cp.Cells {
		walk(cp.Cells[i].Helper)
	}
}

func TestCheckpoint_ResumeRestoresState(t *testing.T) {
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

	cp, err := sim.ExportCheckpoint("run")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if cp.Header.Tick != 40 || cp.Header.Series != s.Name {
		t.Fatalf("header = %+v", cp.Header)
	}
	if len(cp.Cells) == 0 || len(cp.Targets) == 0 {
		t.Fatalf("checkpoint missing agents: %d cells, %d targets", len(cp.Cells), len(cp.Targets))
	}

	resumed, err := Resume(testSeriesWithTreatments(s), cp)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Sched.Time() != 40 {
		t.Fatalf("resumed at tick %d, want 40", resumed.Sched.Time())
	}

	cp2, err := resumed.ExportCheckpoint("run")
	if err != nil {
		t.Fatalf("re-export: %v", err)
	}
	clearHelperBegins(&cp)
	clearHelperBegins(&cp2)
	if !reflect.DeepEqual(cp, cp2) {
		t.Fatalf("resumed state diverged from the exported one")
	}
}

// testSeriesWithTreatments builds a fresh series equal to the given one, the
// way a resuming process re-reads its configuration.
func testSeriesWithTreatments(src *series.Series) *series.Series {
	s := testSeries()
	s.Treatments = append([]series.Treatment(nil), src.Treatments...)
	return s
}

func TestCheckpoint_ResumeRejectsWrongSeries(t *testing.T) {
	sim := mustSim(t, testSeries())
	cp, err := sim.ExportCheckpoint("run")
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	other := testSeries()
	other.Name = "other-series"
	if _, err := Resume(other, cp); err == nil {
		t.Fatalf("resume accepted a checkpoint from a different series")
	}
}

func TestCheckpoint_ResumedRunMatchesUninterrupted(t *testing.T) {
	mk := func() (*Sim, *series.Series) {
		s := testSeries()
		s.Treatments = []series.Treatment{
			{Delay: 2, Dose: 4, Fractions: []series.DoseArm{{Pop: 1, Frac: 1}}},
		}
		return mustSim(t, s), s
	}

	// Uninterrupted run to tick 30.
	full, _ := mk()
	for i := 0; i < 30; i++ {
		if err := full.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}

	// Interrupted at tick 20, resumed, and run to tick 30.
	half, s := mk()
	for i := 0; i < 20; i++ {
		if err := half.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	cp, err := half.ExportCheckpoint("run")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	resumed, err := Resume(s, cp)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := resumed.Step(); err != nil {
			t.Fatalf("resumed step: %v", err)
		}
	}

	a := full.CollectMetrics()
	b := resumed.CollectMetrics()
	if a.Cells != b.Cells || a.Targets != b.Targets || a.Lysed != b.Lysed {
		t.Fatalf("resumed run diverged: %+v vs %+v", a, b)
	}
	for _, cf := range full.Cells() {
		cr, ok := resumed.cells[cf.id]
		if !ok {
			t.Fatalf("agent %d missing after resume", cf.id)
		}
		if cf.loc != cr.loc || cf.typ != cr.typ || cf.age != cr.age {
			t.Fatalf("agent %d diverged: %v/%v/%d vs %v/%v/%d",
				cf.id, cf.loc, cf.typ, cf.age, cr.loc, cr.typ, cr.age)
		}
	}
}
