// Package snapshot defines the versioned checkpoint format: a JSON header
// line for quick inspection followed by a gob body, zstd-compressed. The
// simulation exports into and imports from these structs; this package only
// owns the format and the file IO.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Series  string `json:"series"`
	Tick    uint64 `json:"tick"`
}

type CheckpointV1 struct {
	Header Header `json:"header"`

	Seed      int64  `json:"seed"`
	RandState []byte `json:"rand_state"`
	NextID    uint64 `json:"next_id"`
	PopCounts []int  `json:"pop_counts"`

	// Molecule fields in the lattice's fixed location order.
	Fields map[string][]float64 `json:"fields"`
	Damage map[string]float64   `json:"damage,omitempty"`

	Cells   []CellV1   `json:"cells"`
	Targets []TargetV1 `json:"targets"`

	Lysed []LysisV1 `json:"lysed,omitempty"`
}

type CoordV1 struct {
	U int `json:"u"`
	V int `json:"v"`
	Z int `json:"z"`
}

type CellV1 struct {
	ID      uint64  `json:"id"`
	Pop     int     `json:"pop"`
	Subtype string  `json:"subtype"`
	Loc     CoordV1 `json:"loc"`
	Type    int     `json:"type"`

	Migrating     bool `json:"migrating,omitempty"`
	Proliferating bool `json:"proliferating,omitempty"`
	Activated     bool `json:"activated,omitempty"`
	BoundAntigen  bool `json:"bound_antigen,omitempty"`
	BoundSelf     bool `json:"bound_self,omitempty"`
	Doubled       bool `json:"doubled,omitempty"`

	Age        int     `json:"age"`
	Volume     float64 `json:"volume"`
	CritVolume float64 `json:"crit_volume"`
	Energy     float64 `json:"energy"`
	DeathAge   float64 `json:"death_age"`
	Divisions  int     `json:"divisions"`

	SenesFrac       float64 `json:"senes_frac"`
	ExhauFrac       float64 `json:"exhau_frac"`
	AnergFrac       float64 `json:"anerg_frac"`
	ProliFrac       float64 `json:"proli_frac"`
	EnergyThreshold float64 `json:"energy_threshold"`
	Accuracy        float64 `json:"accuracy"`
	SearchAbility   int     `json:"search_ability"`
	MaxAntigen      int     `json:"max_antigen"`

	CARs               int `json:"cars"`
	SelfReceptors      int `json:"self_receptors"`
	SelfReceptorsStart int `json:"self_receptors_start"`

	BoundAntigenCount int `json:"bound_antigen_count"`
	BoundSelfCount    int `json:"bound_self_count"`
	LastActiveTicker  int `json:"last_active_ticker"`

	Cycles []float64 `json:"cycles,omitempty"`

	Params map[string]ParamV1 `json:"params"`

	Signaling  SignalingV1  `json:"signaling"`
	Metabolism MetabolismV1 `json:"metabolism"`

	Helper *HelperV1 `json:"helper,omitempty"`
}

type ParamV1 struct {
	Mu   float64 `json:"mu"`
	Het  float64 `json:"het"`
	Frac bool    `json:"frac,omitempty"`
}

type SignalingV1 struct {
	Amts         []float64 `json:"amts"`
	History      []float64 `json:"history"`
	Ticker       int       `json:"ticker"`
	ActiveTicker int       `json:"active_ticker"`
}

type MetabolismV1 struct {
	Glucose  float64 `json:"glucose"`
	Pyruvate float64 `json:"pyruvate"`
	Lactate  float64 `json:"lactate"`
	Mass     float64 `json:"mass"`
	CritMass float64 `json:"crit_mass"`
}

type HelperV1 struct {
	Kind      int     `json:"kind"`
	TargetID  uint64  `json:"target_id,omitempty"`
	Begin     uint64  `json:"begin"`
	End       uint64  `json:"end,omitempty"`
	SynthTime int     `json:"synth_time,omitempty"`
	Ticker    int     `json:"ticker,omitempty"`
	Frac      float64 `json:"frac,omitempty"`
	Daughter  *CellV1 `json:"daughter,omitempty"`
}

type TargetV1 struct {
	ID          uint64  `json:"id"`
	Pop         int     `json:"pop"`
	Loc         CoordV1 `json:"loc"`
	Type        int     `json:"type"`
	Age         int     `json:"age"`
	Volume      float64 `json:"volume"`
	CARAntigens float64 `json:"car_antigens"`
	SelfTargets float64 `json:"self_targets"`
	RemovalTick uint64  `json:"removal_tick,omitempty"`
}

type LysisV1 struct {
	Tick    uint64  `json:"tick"`
	Loc     CoordV1 `json:"loc"`
	Subtype string  `json:"subtype"`
	Pop     int     `json:"pop"`
	Type    int     `json:"type"`
	Volume  float64 `json:"volume"`
	Age     int     `json:"age"`
}

func WriteCheckpoint(path string, cp CheckpointV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(cp.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&cp); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadCheckpoint(path string) (CheckpointV1, error) {
	var cp CheckpointV1
	f, err := os.Open(path)
	if err != nil {
		return cp, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return cp, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is advisory; the gob body carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&cp); err != nil {
		return cp, fmt.Errorf("gob decode: %w", err)
	}
	return cp, nil
}

// ReadHeader decodes only the JSON header line, for listing checkpoints
// without decoding bodies.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReaderSize(dec, 64*1024).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("checkpoint header: %w", err)
	}
	return h, nil
}
