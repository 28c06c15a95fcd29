package snapshot

import (
	"path/filepath"
	"reflect"
	"testing"
)

func sampleCheckpoint() CheckpointV1 {
	daughter := CellV1{
		ID: 3, Pop: 1, Subtype: "CD8", Loc: CoordV1{U: 1, V: -1},
		Age: 0, Volume: 170, CritVolume: 170, Divisions: 9,
		Params: map[string]ParamV1{"SENES_FRAC": {Mu: 0.5, Het: 0.05, Frac: true}},
		Signaling: SignalingV1{
			Amts:    []float64{0, 0, 2000, 2000, 0, 0, 0, 1},
			History: make([]float64, 180),
		},
		Metabolism: MetabolismV1{Glucose: 0.2, Mass: 179.5, CritMass: 179.5},
	}
	return CheckpointV1{
		Header:    Header{Version: 1, RunID: "run-1", Series: "test", Tick: 1440},
		Seed:      1337,
		RandState: []byte{1, 2, 3, 4},
		NextID:    3,
		PopCounts: []int{61, 1, 0},
		Fields: map[string][]float64{
			"GLUCOSE": {30.45, 29.9},
			"IL-2":    {0, 12.5},
		},
		Damage: map[string]float64{"0,1,0": 0.25},
		Cells: []CellV1{{
			ID: 2, Pop: 1, Subtype: "CD8", Loc: CoordV1{U: 0, V: 1},
			Type: 3, Proliferating: true,
			Age: 700, Volume: 340, CritVolume: 175, Energy: 0,
			DeathAge: 60480, Divisions: 10,
			SenesFrac: 0.5, ExhauFrac: 0.51, AnergFrac: 0.49, ProliFrac: 0.5,
			EnergyThreshold: -1000, Accuracy: 0.8,
			SearchAbility:   3, MaxAntigen: 10,
			CARs: 50000, SelfReceptors: 3600, SelfReceptorsStart: 3600,
			Cycles: []float64{690},
			Params: map[string]ParamV1{"CARS": {Mu: 50000}},
			Signaling: SignalingV1{
				Amts:    []float64{1, 0, 2000, 1999, 1, 0.5, 0.5, 0.7},
				History: make([]float64, 180),
				Ticker:  700,
			},
			Metabolism: MetabolismV1{Glucose: 1.5, Pyruvate: 0.2, Lactate: 3, Mass: 359, CritMass: 184.8},
			Helper: &HelperV1{
				Kind: 2, Begin: 701, SynthTime: 640, Ticker: 650, Frac: 0.48,
				Daughter: &daughter,
			},
		}},
		Targets: []TargetV1{{
			ID: 1, Pop: 0, Loc: CoordV1{U: -1, V: 0}, Type: 1,
			Age: 4000, Volume: 1990, CARAntigens: 5012, SelfTargets: 3581,
			RemovalTick: 2500,
		}},
		Lysed: []LysisV1{{Tick: 1400, Loc: CoordV1{U: 2, V: 0}, Subtype: "TISSUE", Volume: 2010, Age: 3999}},
	}
}

func TestCheckpoint_WriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tick00001440.ckpt.zst")
	want := sampleCheckpoint()

	if err := WriteCheckpoint(path, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadCheckpoint(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestCheckpoint_ReadHeaderWithoutBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tick00001440.ckpt.zst")
	want := sampleCheckpoint()
	if err := WriteCheckpoint(path, want); err != nil {
		t.Fatalf("write: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h != want.Header {
		t.Fatalf("header = %+v, want %+v", h, want.Header)
	}
}

func TestCheckpoint_ReadMissingFile(t *testing.T) {
	if _, err := ReadCheckpoint(filepath.Join(t.TempDir(), "absent.ckpt.zst")); err == nil {
		t.Fatalf("read of a missing checkpoint did not fail")
	}
}
