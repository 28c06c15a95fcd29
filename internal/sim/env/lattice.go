// Package env is the spatial environment collaborator: a layered hexagonal
// lattice tracking agent occupancy, diffusible molecule fields, and
// vasculature source sites. The simulation consumes it through a narrow
// surface: occupancy queries, neighbor enumeration, capacity checks, field
// reads/writes, and a move/add notification hook.
package env

import (
	"sort"

	"cartsim.ai/internal/sim/series"
)

// Coord addresses one lattice site in axial hex coordinates plus a vertical
// layer.
type Coord struct {
	U int `json:"u"`
	V int `json:"v"`
	Z int `json:"z"`
}

// Occupant is the minimal view the lattice needs of an agent.
type Occupant interface {
	GridID() uint64
	GridVolume() float64
}

type Lattice struct {
	radius int
	height int
	margin int
	spec   series.LocationSpec

	occupants map[Coord][]Occupant
	fields    map[string]*Field
	sites     map[Coord]bool
	damage    map[Coord]float64

	// onChange fires whenever an agent is added or moved, so source/sink
	// bookkeeping can update. old is nil for additions.
	onChange func(old *Coord, new Coord)
}

func New(s *series.Series) *Lattice {
	l := &Lattice{
		radius:    s.Radius + s.Margin,
		height:    s.Height,
		margin:    s.Margin,
		spec:      s.Location,
		occupants: map[Coord][]Occupant{},
		fields:    map[string]*Field{},
		sites:     map[Coord]bool{},
		damage:    map[Coord]float64{},
	}
	for name, m := range s.Molecules {
		l.fields[name] = newField(l, m.Concentration)
	}
	// Constant-source sites ring the lattice interior, standing in for
	// vasculature.
	for _, c := range l.Locations() {
		if HexDist(c) == s.Radius {
			l.sites[c] = true
		}
	}
	return l
}

// HexDist is the hex grid distance from the origin, in rings.
func HexDist(c Coord) int {
	u, v := c.U, c.V
	w := -u - v
	d := abs(u)
	if abs(v) > d {
		d = abs(v)
	}
	if abs(w) > d {
		d = abs(w)
	}
	return d
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func (l *Lattice) Spec() series.LocationSpec { return l.spec }
func (l *Lattice) GridStep() float64         { return l.spec.GridStep }

func (l *Lattice) Contains(c Coord) bool {
	return HexDist(c) <= l.radius && abs(c.Z) < l.height
}

// Interior reports whether a site is inside the usable radius (outside the
// margin).
func (l *Lattice) Interior(c Coord) bool {
	return HexDist(c) <= l.radius-l.margin && abs(c.Z) < l.height
}

// Locations enumerates all sites in a fixed order, so iteration never
// perturbs the deterministic draw sequence.
func (l *Lattice) Locations() []Coord {
	var out []Coord
	for z := -(l.height - 1); z <= l.height-1; z++ {
		for u := -l.radius; u <= l.radius; u++ {
			for v := -l.radius; v <= l.radius; v++ {
				c := Coord{U: u, V: v, Z: z}
				if HexDist(c) <= l.radius {
					out = append(out, c)
				}
			}
		}
	}
	return out
}

var hexOffsets = [6][2]int{{1, 0}, {1, -1}, {0, -1}, {-1, 0}, {-1, 1}, {0, 1}}

// Neighbors returns the in-plane hex neighbors plus the sites directly above
// and below, in a fixed order.
func (l *Lattice) Neighbors(c Coord) []Coord {
	out := make([]Coord, 0, 8)
	for _, o := range hexOffsets {
		n := Coord{U: c.U + o[0], V: c.V + o[1], Z: c.Z}
		if l.Contains(n) {
			out = append(out, n)
		}
	}
	for _, dz := range [2]int{1, -1} {
		n := Coord{U: c.U, V: c.V, Z: c.Z + dz}
		if l.Contains(n) {
			out = append(out, n)
		}
	}
	return out
}

func (l *Lattice) At(c Coord) []Occupant { return l.occupants[c] }
func (l *Lattice) CountAt(c Coord) int   { return len(l.occupants[c]) }

// Neighborhood collects the occupants at a site and all adjacent sites.
func (l *Lattice) Neighborhood(c Coord) []Occupant {
	out := append([]Occupant(nil), l.occupants[c]...)
	for _, n := range l.Neighbors(c) {
		out = append(out, l.occupants[n]...)
	}
	return out
}

// TotalVolumeAt sums occupant volumes at a site, used for capacity checks.
func (l *Lattice) TotalVolumeAt(c Coord) float64 {
	var v float64
	for _, o := range l.occupants[c] {
		v += o.GridVolume()
	}
	return v
}

func (l *Lattice) Add(o Occupant, c Coord) {
	l.occupants[c] = append(l.occupants[c], o)
	if l.onChange != nil {
		l.onChange(nil, c)
	}
}

func (l *Lattice) Remove(o Occupant, c Coord) {
	occ := l.occupants[c]
	for i, x := range occ {
		if x.GridID() == o.GridID() {
			l.occupants[c] = append(occ[:i], occ[i+1:]...)
			return
		}
	}
}

func (l *Lattice) Move(o Occupant, from, to Coord) {
	l.Remove(o, from)
	l.occupants[to] = append(l.occupants[to], o)
	if l.onChange != nil {
		old := from
		l.onChange(&old, to)
	}
}

func (l *Lattice) OnChange(fn func(old *Coord, new Coord)) { l.onChange = fn }

func (l *Lattice) Field(name string) *Field { return l.fields[name] }

func (l *Lattice) Sites() []Coord {
	var out []Coord
	for c := range l.sites {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.U != b.U {
			return a.U < b.U
		}
		return a.V < b.V
	})
	return out
}

func (l *Lattice) IsSite(c Coord) bool { return l.sites[c] }

// NearSite reports whether a site or one of its neighbors is a source site.
func (l *Lattice) NearSite(c Coord) bool {
	if l.sites[c] {
		return true
	}
	for _, n := range l.Neighbors(c) {
		if l.sites[n] {
			return true
		}
	}
	return false
}

func (l *Lattice) Damage(c Coord) float64       { return l.damage[c] }
func (l *Lattice) SetDamage(c Coord, d float64) { l.damage[c] = d }
