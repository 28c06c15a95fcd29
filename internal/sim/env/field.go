package env

// Field holds one diffusible molecule as an amount per lattice site. The
// full reaction/diffusion solver is an external collaborator; Relax is a
// stand-in that keeps source sites clamped and smooths toward neighbors, so
// the consuming interface (local value, local average, write-back) behaves
// the way the solver's would.
type Field struct {
	lat      *Lattice
	baseline float64 // initial amount per site
	vals     map[Coord]float64
}

func newField(l *Lattice, concentration float64) *Field {
	f := &Field{lat: l, baseline: concentration * l.spec.Volume(), vals: map[Coord]float64{}}
	for _, c := range l.Locations() {
		f.vals[c] = f.baseline
	}
	return f
}

func (f *Field) Baseline() float64 { return f.baseline }

// Val returns the amount at a site.
func (f *Field) Val(c Coord) float64 { return f.vals[c] }

// AverageVal returns the amount averaged over a site and its neighbors.
func (f *Field) AverageVal(c Coord) float64 {
	sum := f.vals[c]
	n := 1
	for _, nb := range f.lat.Neighbors(c) {
		sum += f.vals[nb]
		n++
	}
	return sum / float64(n)
}

// Frac returns the local amount as a fraction of the baseline, clamped to
// [0,1]; used for location scoring.
func (f *Field) Frac(c Coord) float64 {
	if f.baseline <= 0 {
		return 0
	}
	v := f.vals[c] / f.baseline
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SetVal writes an amount back to a site, visible to the very next reader.
func (f *Field) SetVal(c Coord, v float64) {
	if v < 0 {
		v = 0
	}
	f.vals[c] = v
}

// AddVal accumulates an amount at a site.
func (f *Field) AddVal(c Coord, dv float64) { f.SetVal(c, f.vals[c]+dv) }

// Relax advances the stand-in transport step: source sites are reset to the
// baseline, then each site moves a fixed fraction toward its neighborhood
// average. Iteration follows the lattice's fixed location order.
func (f *Field) Relax() {
	for _, c := range f.lat.Sites() {
		if f.baseline > 0 {
			f.vals[c] = f.baseline
		}
	}
	const d = 0.2
	next := make(map[Coord]float64, len(f.vals))
	for _, c := range f.lat.Locations() {
		next[c] = f.vals[c] + d*(f.AverageVal(c)-f.vals[c])
	}
	f.vals = next
}

// Export returns site amounts in the lattice's fixed location order.
func (f *Field) Export() []float64 {
	locs := f.lat.Locations()
	out := make([]float64, len(locs))
	for i, c := range locs {
		out[i] = f.vals[c]
	}
	return out
}

// Import restores site amounts written by Export.
func (f *Field) Import(vals []float64) {
	locs := f.lat.Locations()
	for i, c := range locs {
		if i < len(vals) {
			f.vals[c] = vals[i]
		}
	}
}
