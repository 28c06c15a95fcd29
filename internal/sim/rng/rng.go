// Package rng provides the single deterministic random stream shared by the
// whole simulation. Every shuffle, probability draw, and jitter consumes from
// one stream in a stable call order, so two runs with the same seed produce
// identical trajectories.
package rng

import "math/rand/v2"

type Stream struct {
	seed int64
	pcg  *rand.PCG
	r    *rand.Rand
}

func New(seed int64) *Stream {
	pcg := rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)
	return &Stream{seed: seed, pcg: pcg, r: rand.New(pcg)}
}

func (s *Stream) Seed() int64 { return s.seed }

// Float64 returns a uniform draw in [0,1).
func (s *Stream) Float64() float64 { return s.r.Float64() }

// NormFloat64 returns a standard normal draw.
func (s *Stream) NormFloat64() float64 { return s.r.NormFloat64() }

func (s *Stream) IntN(n int) int { return s.r.IntN(n) }

// Jitter returns a uniform draw in [-1,1), used for timing ranges.
func (s *Stream) Jitter() float64 { return 2*s.Float64() - 1 }

// Shuffle permutes n elements using the shared stream. The result depends
// only on the draw sequence, never on container iteration order.
func (s *Stream) Shuffle(n int, swap func(i, j int)) { s.r.Shuffle(n, swap) }

// State serializes the generator state for checkpointing.
func (s *Stream) State() ([]byte, error) { return s.pcg.MarshalBinary() }

// Restore rebuilds a stream from a checkpointed generator state.
func Restore(seed int64, state []byte) (*Stream, error) {
	s := New(seed)
	if err := s.pcg.UnmarshalBinary(state); err != nil {
		return nil, err
	}
	return s, nil
}
