package cells

import "math"

// Stoichiometry and energetics of the two ATP pathways, in fmol per fmol.
// Oxidative phosphorylation is favored when oxygen allows; glycolysis
// backfills any deficit.
const (
	energyFromGlyc   = 2.0
	energyFromOxphos = 15.0
	pyruPerGluc      = 2.0
	oxyPerPyru       = 3.0

	// cellDensity converts between dry mass (pg) and volume (um^3).
	cellDensity = 1.056
	// massToGluc is the glucose cost of one unit of mass, fmol per pg.
	massToGluc = 3.0

	// Per-volume energy demand rates, fmol ATP per um^3 per minute.
	basalEnergy = 1e-3
	proliEnergy = 1e-3
	migraEnergy = 2e-4

	// epsEnergy snaps near-zero energy balances so accumulated float error
	// never flips the starvation checks.
	epsEnergy = 1e-10
	// epsGradient floors uptake gradients.
	epsGradient = 1e-10
)

// metabolism tracks an agent's internal nutrient pools, energy balance, and
// dry mass. Rates shift with delayed cytokine engagement and activation.
type metabolism struct {
	glucose  float64 // internal pool, fmol
	pyruvate float64
	lactate  float64

	mass     float64 // pg
	critMass float64

	metaPref       float64
	metaPrefIL2    float64
	metaPrefActive float64

	glucUptakeRate   float64
	uptakeRateIL2    float64
	uptakeRateActive float64

	fracMass       float64
	fracMassActive float64
	ratioGlucPyru  float64
	lactateRate    float64
	autophagyRate  float64
	minMassFrac    float64
	switchDelay    int
}

// Metabolism is the read-only view exported for profilers and tests.
type Metabolism metabolism

func (m *Metabolism) Glucose() float64  { return m.glucose }
func (m *Metabolism) Pyruvate() float64 { return m.pyruvate }
func (m *Metabolism) Lactate() float64  { return m.lactate }
func (m *Metabolism) Mass() float64     { return m.mass }
func (m *Metabolism) CritMass() float64 { return m.critMass }

// newMetabolism draws the heterogeneous rates from the cell's lineage
// distributions, so daughters inherit their parent's drift, and recenters
// those distributions on the drawn values.
func newMetabolism(s *Sim, c *Cell) *metabolism {
	p := c.params
	m := &metabolism{
		mass:             c.volume * cellDensity,
		critMass:         c.critVolume * cellDensity,
		metaPref:         p["META_PREF"].Draw(s.Rand),
		metaPrefIL2:      p["META_PREF_IL2"].Mu,
		metaPrefActive:   p["META_PREF_ACTIVE"].Mu,
		glucUptakeRate:   p["GLUC_UPTAKE_RATE"].Draw(s.Rand),
		uptakeRateIL2:    p["GLUC_UPTAKE_RATE_IL2"].Mu,
		uptakeRateActive: p["GLUC_UPTAKE_RATE_ACTIVE"].Mu,
		fracMass:         p["FRAC_MASS"].Mu,
		fracMassActive:   p["FRAC_MASS_ACTIVE"].Mu,
		ratioGlucPyru:    p["RATIO_GLUC_TO_PYRU"].Mu,
		lactateRate:      p["LACTATE_RATE"].Mu,
		autophagyRate:    p["AUTOPHAGY_RATE"].Mu,
		minMassFrac:      p["MIN_MASS_FRAC"].Mu,
		switchDelay:      int(p["META_SWITCH_DELAY"].Mu),
	}
	c.params["META_PREF"] = p["META_PREF"].Update(m.metaPref)
	c.params["GLUC_UPTAKE_RATE"] = p["GLUC_UPTAKE_RATE"].Update(m.glucUptakeRate)
	return m
}

// step runs one minute of metabolism: take up glucose along the external
// gradient, generate energy oxphos-first with a glycolytic backfill, settle
// the energy balance, then grow or shrink mass.
func (m *metabolism) step(s *Sim, c *Cell) {
	locVolume := s.Lat.Spec().Volume()
	gluc := s.Lat.Field("GLUCOSE")
	oxy := s.Lat.Field("OXYGEN")

	// Cytokine engagement pushes metabolism toward glycolysis and raises
	// uptake; the shift lags binding by the switch delay.
	boundFrac := c.sig.delayed(m.switchDelay) / c.sig.receptors
	pref := m.metaPref + m.metaPrefIL2*boundFrac
	uptakeRate := m.glucUptakeRate + m.uptakeRateIL2*boundFrac
	fracMass := m.fracMass
	if c.activated {
		pref += m.metaPrefActive
		uptakeRate += m.uptakeRateActive
		fracMass += m.fracMassActive
	}
	if pref > 1 {
		pref = 1
	}

	// Uptake across the cell surface, proportional to the concentration
	// gradient between site and internal pool.
	area := math.Cbrt(36*math.Pi) * math.Pow(c.volume, 2.0/3.0)
	extConc := gluc.Val(c.loc) / locVolume
	intConc := m.glucose / c.volume
	grad := extConc - intConc
	if grad < epsGradient {
		grad = 0
	}
	uptake := uptakeRate * area * grad
	if avail := gluc.Val(c.loc); uptake > avail {
		uptake = avail
	}
	m.glucose += uptake
	gluc.AddVal(c.loc, -uptake)

	// Energy demand scales with volume and the agent's current program.
	req := basalEnergy * c.volume
	if c.proliferating {
		req += proliEnergy * c.volume
	}
	if c.migrating {
		req += migraEnergy * c.volume
	}

	// The preference is the glycolytic share of demand; a configured
	// fraction of the pyruvate feeds oxphos and the rest leaks as lactate.
	glucGlyc := req * pref / energyFromGlyc
	if glucGlyc > m.glucose {
		glucGlyc = m.glucose
	}
	m.glucose -= glucGlyc
	gen := glucGlyc * energyFromGlyc
	m.pyruvate += glucGlyc * pyruPerGluc * m.ratioGlucPyru
	m.lactate += glucGlyc * pyruPerGluc * (1 - m.ratioGlucPyru)

	// Oxphos burns pyruvate up to the oxidative demand share, capped by
	// site oxygen.
	pyruNeed := req * (1 - pref) / energyFromOxphos
	pyruBurn := math.Min(pyruNeed, m.pyruvate)
	if oxyCap := oxy.Val(c.loc) / oxyPerPyru; pyruBurn > oxyCap {
		pyruBurn = oxyCap
	}
	m.pyruvate -= pyruBurn
	oxy.AddVal(c.loc, -pyruBurn*oxyPerPyru)
	gen += pyruBurn * energyFromOxphos

	// Backfill any oxidative shortfall with extra glycolysis.
	if deficit := req - gen; deficit > 0 && m.glucose > 0 {
		extra := math.Min(deficit/energyFromGlyc, m.glucose)
		m.glucose -= extra
		gen += extra * energyFromGlyc
		m.pyruvate += extra * pyruPerGluc * m.ratioGlucPyru
		m.lactate += extra * pyruPerGluc * (1 - m.ratioGlucPyru)
	}

	// Pyruvate that keeps piling up converts to lactate.
	conv := m.lactateRate * m.pyruvate
	m.pyruvate -= conv
	m.lactate += conv

	c.energy += gen - req
	if math.Abs(c.energy) < epsEnergy {
		c.energy = 0
	}

	// Mass update: build when fed, autophagy when starving or coasting
	// above the maintenance ceiling outside a division. Never both.
	switch {
	case c.energy >= 0 && m.glucose > 0 && ((c.proliferating && m.mass < 2*m.critMass) || m.mass < m.critMass):
		delta := fracMass * m.glucose / massToGluc
		m.glucose -= delta * massToGluc
		m.mass += delta
	case (c.energy < 0 && m.mass > m.minMassFrac*m.critMass) ||
		(c.energy >= 0 && m.mass > 1.01*m.critMass && !c.proliferating):
		delta := m.autophagyRate * m.mass
		m.mass -= delta
		m.glucose += delta * massToGluc
	}

	c.volume = m.mass / cellDensity
	c.doubled = m.mass >= 2*m.critMass
}

// split divides the nutrient pools and mass between parent and daughter by
// the division fraction; each side's critical mass comes from its own
// critical volume.
func (m *metabolism) split(parent *metabolism, f float64, c *Cell) {
	m.glucose = parent.glucose * f
	m.pyruvate = parent.pyruvate * f
	m.mass = parent.mass * f
	m.critMass = c.critVolume * cellDensity

	parent.glucose *= 1 - f
	parent.pyruvate *= 1 - f
	parent.mass *= 1 - f
}
