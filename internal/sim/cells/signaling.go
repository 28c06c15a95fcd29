package cells

import (
	"math"

	"cartsim.ai/internal/sim/series"
)

// Species indices for the cytokine signaling network. The network has two
// receptor-complex forms (two-chain, three-chain) that reversibly bind free
// cytokine; two-chain complexes convert to three-chain at a rate
// proportional to total ligand-bound complex, with slow recycling back.
const (
	sigBoundTotal = iota // cytokine bound to either complex
	sigExternal          // free cytokine in the surrounding shell
	sigReceptorTotal
	sigTwoChain
	sigThreeChain
	sigBoundTwoChain
	sigBoundThreeChain
	sigGranzyme // lytic effector, CD8 only

	numSpecies = 8
)

const (
	// stepDivider sets the internal sub-steps per module second.
	stepDivider  = 3.0
	sigStepSize  = 1.0 / stepDivider
	sigWindowSec = 60.0

	// kConvert converts two-chain to three-chain complex; kRecycle runs the
	// slow reverse path.
	kConvert = 1e-3 / stepDivider
	kRecycle = 1e-5 / stepDivider

	// granzymePerIL2 is the lytic effector yield per unit delayed bound
	// cytokine fraction.
	granzymePerIL2 = 0.005

	// historyLen fixes the circular bound-cytokine buffer; production logic
	// reads delayed values from it, never the current instant.
	historyLen = 180
)

// signaling is the per-agent cytokine module. The subtype tag selects the
// production rule applied after the shared integration step: CD8 agents
// accumulate granzyme, CD4 agents produce cytokine back into the
// environment.
type signaling struct {
	subtype series.Subtype

	amts    [numSpecies]float64
	history [historyLen]float64
	ticker  int // monotonically increasing; wraps via modulo on access

	activeTicker int
	extIL2       float64 // molecules available in the local site
	shellFrac    float64

	shellThickness float64
	receptors      float64
	konMin         float64
	konMax         float64
	koff           float64

	// CD8.
	granzSynthDelay int

	// CD4.
	il2SynthDelay  int
	prodRateIL2    float64
	prodRateActive float64
}

// Signaling is the read-only view exported for profilers and tests.
type Signaling signaling

func (g *Signaling) Granzyme() float64      { return g.amts[sigGranzyme] }
func (g *Signaling) BoundTotal() float64    { return g.amts[sigBoundTotal] }
func (g *Signaling) ReceptorTotal() float64 { return g.amts[sigReceptorTotal] }
func (g *Signaling) Species() [numSpecies]float64 { return g.amts }

func newSignaling(s *Sim, c *Cell) *signaling {
	p := s.Series.Populations[c.pop].Params
	g := &signaling{
		subtype:        c.subtype,
		shellThickness: p["SHELL_THICKNESS"].Mu,
		receptors:      p["IL2_RECEPTORS"].Mu,
		konMin:         p["IL2_BINDING_ON_RATE_MIN"].Mu,
		konMax:         p["IL2_BINDING_ON_RATE_MAX"].Mu,
		koff:           p["IL2_BINDING_OFF_RATE"].Mu,
	}
	g.amts[sigReceptorTotal] = g.receptors
	g.amts[sigTwoChain] = g.receptors

	switch c.subtype {
	case series.SubtypeCD8:
		g.granzSynthDelay = int(p["GRANZ_SYNTHESIS_DELAY"].Mu)
		g.amts[sigGranzyme] = 1
	case series.SubtypeCD4:
		g.il2SynthDelay = int(p["IL2_SYNTHESIS_DELAY"].Mu)
		g.prodRateIL2 = p["IL2_PROD_RATE_IL2"].Mu
		g.prodRateActive = p["IL2_PROD_RATE_ACTIVE"].Mu
	}
	return g
}

// delayed reads the bound-cytokine amount recorded delay ticks ago from the
// circular history.
func (g *signaling) delayed(delay int) float64 {
	i := (g.ticker % historyLen) - delay
	if i < 0 {
		i += historyLen
	}
	return g.history[i]
}

// step advances the module one tick: scale external cytokine by the shell
// volume fraction, integrate the reaction network over the fixed window,
// apply the subtype production rule, then append to the history buffer.
func (g *signaling) step(s *Sim, c *Cell) {
	// Shell volume a fixed thickness outside the cell surface, as a
	// fraction of the lattice-site volume.
	radCell := math.Cbrt((3.0 / 4.0) * (1.0 / math.Pi) * c.volume)
	radShell := radCell + g.shellThickness
	volShell := c.volume * (math.Pow(radShell, 3)/math.Pow(radCell, 3) - 1.0)
	locVolume := s.Lat.Spec().Volume()
	g.shellFrac = volShell / locVolume

	// Cytokine field is stored as an amount per site; the shell sees its
	// volume-fraction share.
	g.extIL2 = s.Lat.Field("IL-2").AverageVal(c.loc)

	if c.activated {
		g.activeTicker++
	} else {
		g.activeTicker = 0
	}

	g.amts[sigExternal] = g.extIL2 * g.shellFrac

	g.integrate(locVolume)

	switch g.subtype {
	case series.SubtypeCD8:
		g.produceGranzyme(c)
		g.settleExternal(s, c)
	case series.SubtypeCD4:
		g.produceIL2(s, c)
	}

	g.history[g.ticker%historyLen] = g.amts[sigBoundTotal]
	g.ticker++
}

// integrate advances the reaction network with classical RK4 over the fixed
// real-time window at fixed sub-steps.
func (g *signaling) integrate(locVolume float64) {
	kon2 := g.konMin / locVolume / 60 / stepDivider
	kon3 := g.konMax / locVolume / 60 / stepDivider
	koff := g.koff / 60 / stepDivider

	deriv := func(y [numSpecies]float64) [numSpecies]float64 {
		var d [numSpecies]float64
		boundAll := y[sigBoundTwoChain] + y[sigBoundThreeChain]
		on2 := kon2 * y[sigTwoChain] * y[sigExternal]
		on3 := kon3 * y[sigThreeChain] * y[sigExternal]
		conv := kConvert * boundAll

		d[sigExternal] = koff*y[sigBoundTwoChain] + koff*y[sigBoundThreeChain] - on2 - on3
		d[sigTwoChain] = koff*y[sigBoundTwoChain] - on2 - conv*y[sigTwoChain] +
			kRecycle*(boundAll+y[sigThreeChain])
		d[sigThreeChain] = koff*y[sigBoundThreeChain] - on3 + conv*y[sigTwoChain] -
			kRecycle*y[sigThreeChain]
		d[sigBoundTwoChain] = on2 - koff*y[sigBoundTwoChain] - conv*y[sigBoundTwoChain] -
			kRecycle*y[sigBoundTwoChain]
		d[sigBoundThreeChain] = on3 - koff*y[sigBoundThreeChain] + conv*y[sigBoundTwoChain] -
			kRecycle*y[sigBoundThreeChain]
		d[sigBoundTotal] = d[sigBoundTwoChain] + d[sigBoundThreeChain]
		d[sigReceptorTotal] = d[sigTwoChain] + d[sigThreeChain]
		return d
	}

	y := g.amts
	for t := 0.0; t < sigWindowSec; t += sigStepSize {
		k1 := deriv(y)
		k2 := deriv(axpy(y, k1, sigStepSize/2))
		k3 := deriv(axpy(y, k2, sigStepSize/2))
		k4 := deriv(axpy(y, k3, sigStepSize))
		for i := range y {
			y[i] += sigStepSize / 6 * (k1[i] + 2*k2[i] + 2*k3[i] + k4[i])
		}
	}
	g.amts = y
}

func axpy(y, k [numSpecies]float64, h float64) [numSpecies]float64 {
	var out [numSpecies]float64
	for i := range y {
		out[i] = y[i] + h*k[i]
	}
	return out
}

// produceGranzyme accumulates lytic effector from delayed bound cytokine
// while the agent has been activated past the synthesis delay.
func (g *signaling) produceGranzyme(c *Cell) {
	prior := g.delayed(g.granzSynthDelay)
	if c.activated && g.activeTicker > g.granzSynthDelay {
		g.amts[sigGranzyme] += granzymePerIL2 * (prior / g.receptors)
	}
}

// settleExternal writes unconsumed shell cytokine back to the environment.
func (g *signaling) settleExternal(s *Sim, c *Cell) {
	env := g.extIL2 - (g.extIL2*g.shellFrac - g.amts[sigExternal])
	s.Lat.Field("IL-2").SetVal(c.loc, env)
}

// produceIL2 adds the CD4 production term: a baseline proportional to
// delayed bound cytokine plus an activation term past the synthesis delay,
// fed back into the local environment with the unconsumed remainder.
func (g *signaling) produceIL2(s *Sim, c *Cell) {
	prior := g.delayed(g.il2SynthDelay)
	rate := g.prodRateIL2 * (prior / g.receptors)
	if c.activated && g.activeTicker >= g.il2SynthDelay {
		rate += g.prodRateActive
	}
	env := g.extIL2 - (g.extIL2*g.shellFrac - g.amts[sigExternal]) + rate
	s.Lat.Field("IL-2").SetVal(c.loc, env)
}

// split divides the module between parent and daughter on division: content
// species go multiplicatively by the daughter fraction, then receptor and
// bound totals are recomputed from conservation, never copied.
func (g *signaling) split(parent *signaling, f float64) {
	g.amts[sigThreeChain] = parent.amts[sigThreeChain] * f
	g.amts[sigBoundTwoChain] = parent.amts[sigBoundTwoChain] * f
	g.amts[sigBoundThreeChain] = parent.amts[sigBoundThreeChain] * f
	g.amts[sigTwoChain] = g.receptors - g.amts[sigThreeChain] - g.amts[sigBoundTwoChain] - g.amts[sigBoundThreeChain]
	g.amts[sigBoundTotal] = g.amts[sigBoundTwoChain] + g.amts[sigBoundThreeChain]
	g.amts[sigReceptorTotal] = g.amts[sigTwoChain] + g.amts[sigThreeChain]
	g.history = parent.history
	g.ticker = parent.ticker

	parent.amts[sigThreeChain] *= 1 - f
	parent.amts[sigBoundTwoChain] *= 1 - f
	parent.amts[sigBoundThreeChain] *= 1 - f
	parent.amts[sigTwoChain] = parent.receptors - parent.amts[sigThreeChain] -
		parent.amts[sigBoundTwoChain] - parent.amts[sigBoundThreeChain]
	parent.amts[sigBoundTotal] = parent.amts[sigBoundTwoChain] + parent.amts[sigBoundThreeChain]
	parent.amts[sigReceptorTotal] = parent.amts[sigTwoChain] + parent.amts[sigThreeChain]

	if g.subtype == series.SubtypeCD8 {
		g.amts[sigGranzyme] = parent.amts[sigGranzyme] * f
		parent.amts[sigGranzyme] *= 1 - f
	}
}
