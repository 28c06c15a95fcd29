package cells

import "cartsim.ai/internal/sim/env"

// AgentSnapshot is the profiler record for one agent at one tick.
type AgentSnapshot struct {
	Subtype string    `json:"subtype"`
	Pop     int       `json:"pop"`
	Type    int       `json:"type"`
	Loc     env.Coord `json:"loc"`
	Volume  float64   `json:"volume"`
	Age     int       `json:"age"`
	Cycles  []float64 `json:"cycles,omitempty"`
}

// DeathRecord captures a lysed target at the moment lethal damage landed.
type DeathRecord struct {
	Tick uint64        `json:"tick"`
	Loc  env.Coord     `json:"loc"`
	Cell AgentSnapshot `json:"cell"`
}

// Metrics aggregates live counts for the observer stream and profilers.
type Metrics struct {
	Tick    uint64         `json:"tick"`
	Cells   int            `json:"cells"`
	Targets int            `json:"targets"`
	ByType  map[string]int `json:"by_type"`
	ByPop   []int          `json:"by_pop"`
	Lysed   int            `json:"lysed"`
	Pending int            `json:"pending"`
}

var typeNames = map[CellType]string{
	TypeNeutral:       "neutral",
	TypeApoptotic:     "apoptotic",
	TypeMigratory:     "migratory",
	TypeProliferative: "proliferative",
	TypeSenescent:     "senescent",
	TypeCytotoxic:     "cytotoxic",
	TypeStimulatory:   "stimulatory",
	TypeExhausted:     "exhausted",
	TypeAnergic:       "anergic",
	TypeStarved:       "starved",
	TypePaused:        "paused",
	TypeNecrotic:      "necrotic",
	TypeQuiescent:     "quiescent",
}

// Name returns the lowercase state label used in logs and metrics.
func (t CellType) Name() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "unknown"
}

// CollectMetrics builds the live-count summary for the current tick.
func (s *Sim) CollectMetrics() Metrics {
	m := Metrics{
		Tick:    s.Sched.Time(),
		Cells:   len(s.cells),
		Targets: len(s.targets),
		ByType:  map[string]int{},
		ByPop:   make([]int, len(s.Series.Populations)),
		Lysed:   len(s.Lysed),
		Pending: s.Sched.Pending(),
	}
	for _, c := range s.cells {
		m.ByType[c.typ.Name()]++
		m.ByPop[c.pop]++
	}
	for _, t := range s.targets {
		m.ByType[t.typ.Name()]++
		m.ByPop[t.pop]++
	}
	return m
}
