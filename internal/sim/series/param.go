package series

import (
	"math"

	"cartsim.ai/internal/sim/rng"
)

// Param is a population-level parameter distribution. Each agent draws its
// value once at construction; the drawn value becomes the mean of the
// distribution handed to daughter agents, so heritable traits drift
// generation to generation. Biophysical constants (affinities, contact
// fraction) carry zero heterogeneity and are read through Mu instead.
type Param struct {
	Mu   float64 `yaml:"mu"`
	Het  float64 `yaml:"het"`
	Frac bool    `yaml:"frac,omitempty"`
}

// Draw samples a value from a normal centered on Mu with stdev Mu*Het,
// truncated at two standard deviations. Fractional parameters are clamped
// to [0,1].
func (p Param) Draw(r *rng.Stream) float64 {
	if p.Het == 0 {
		return p.Mu
	}
	sigma := math.Abs(p.Mu) * p.Het
	v := p.Mu + sigma*r.NormFloat64()
	if v > p.Mu+2*sigma {
		v = p.Mu + 2*sigma
	} else if v < p.Mu-2*sigma {
		v = p.Mu - 2*sigma
	}
	if p.Frac {
		v = math.Min(1, math.Max(0, v))
	}
	return v
}

// DrawInt samples and rounds to the nearest integer.
func (p Param) DrawInt(r *rng.Stream) int {
	return int(math.Round(p.Draw(r)))
}

// Update returns the distribution recentered on a drawn value, used for
// daughter inheritance.
func (p Param) Update(mu float64) Param {
	p.Mu = mu
	return p
}

// ParamSet maps parameter names to distributions for one agent lineage.
type ParamSet map[string]Param

// Clone copies the set so a daughter's recentered distributions do not
// mutate the parent's.
func (ps ParamSet) Clone() ParamSet {
	out := make(ParamSet, len(ps))
	for k, v := range ps {
		out[k] = v
	}
	return out
}

// normCDF is the cumulative distribution of a normal, used for the
// death-age probability curve.
func normCDF(x, mu, sigma float64) float64 {
	if sigma <= 0 {
		if x < mu {
			return 0
		}
		return 1
	}
	return 0.5 * (1 + math.Erf((x-mu)/(sigma*math.Sqrt2)))
}
