package series

// Default returns a series with the reference parameter set: one tumor
// target population plus CD4 and CD8 effector populations, dosed at one
// simulated day. Values are means in minutes, um, fmol, and molecules.
func Default() *Series {
	return &Series{
		Name:   "default",
		Seed:   1337,
		Ticks:  20160, // 14 days
		Radius: 8,
		Height: 1,
		Margin: 2,
		Location: LocationSpec{
			Area:      700,
			Thickness: 8.7,
			MaxAgents: 6,
			GridStep:  30,
		},
		Molecules: map[string]MoleculeSpec{
			"GLUCOSE": {Concentration: 5e-3},
			"OXYGEN":  {Concentration: 5e-2},
			"TGFA":    {Concentration: 0},
			"IL-2":    {Concentration: 0},
		},
		Globals: map[string]float64{
			"MAX_DAMAGE_SEED": 0.5,
			"MIN_RADIUS_SEED": 5,
		},
		Populations: []Population{
			{
				Name:     "tumor",
				Subtype:  SubtypeTissue,
				InitFrac: 1.0,
				Params:   tissueParams(),
			},
			{
				Name:    "cart-cd8",
				Subtype: SubtypeCD8,
				Params:  cd8Params(),
			},
			{
				Name:    "cart-cd4",
				Subtype: SubtypeCD4,
				Params:  cd4Params(),
			},
		},
		Treatments: []Treatment{
			{Delay: 1440, Dose: 40, Fractions: []DoseArm{{Pop: 1, Frac: 0.75}, {Pop: 2, Frac: 0.25}}},
		},
		ProfileInterval:  720,
		SnapshotInterval: 1440,
	}
}

func effectorParams() ParamSet {
	return ParamSet{
		// State-transition fractions and thresholds.
		"SENES_FRAC":       {Mu: 0.5, Het: 0.05, Frac: true},
		"EXHAU_FRAC":       {Mu: 0.5, Het: 0.05, Frac: true},
		"ANERG_FRAC":       {Mu: 0.5, Het: 0.05, Frac: true},
		"PROLI_FRAC":       {Mu: 0.5, Het: 0.05, Frac: true},
		"ENERGY_THRESHOLD": {Mu: -1000, Het: 0},
		"ACCURACY":         {Mu: 0.8, Het: 0.05, Frac: true},

		// Lifespan and proliferative capacity.
		"DEATH_AGE_AVG":      {Mu: 60480, Het: 0.05},
		"DEATH_AGE_RANGE":    {Mu: 10080, Het: 0},
		"DIVISION_POTENTIAL": {Mu: 10, Het: 0},
		"CELL_VOL_AVG":       {Mu: 175, Het: 0},
		"CELL_VOL_RANGE":     {Mu: 10, Het: 0},
		"CELL_AGE_MIN":       {Mu: 0, Het: 0},
		"CELL_AGE_MAX":       {Mu: 10080, Het: 0},
		"MAX_HEIGHT":         {Mu: 8.7, Het: 0},

		// Receptor binding. Biophysical constants, excluded from drift.
		"SEARCH_ABILITY":         {Mu: 3, Het: 0},
		"MAX_ANTIGEN_BINDING":    {Mu: 10, Het: 0},
		"CARS":                   {Mu: 50000, Het: 0},
		"SELF_RECEPTORS":         {Mu: 3600, Het: 0},
		"CAR_AFFINITY":           {Mu: 1e-7, Het: 0},
		"CAR_ALPHA":              {Mu: 3, Het: 0},
		"CAR_BETA":               {Mu: 0.01, Het: 0},
		"SELF_RECEPTOR_AFFINITY": {Mu: 7.8e-6, Het: 0},
		"SELF_ALPHA":             {Mu: 3, Het: 0},
		"SELF_BETA":              {Mu: 0.02, Het: 0},
		"CONTACT_FRAC":           {Mu: 0.2, Het: 0},

		// Helper timing.
		"BOUND_TIME":      {Mu: 180, Het: 0},
		"BOUND_RANGE":     {Mu: 30, Het: 0},
		"DEATH_TIME":      {Mu: 1080, Het: 0},
		"DEATH_RANGE":     {Mu: 360, Het: 0},
		"MIGRA_RATE":      {Mu: 0.24, Het: 0},
		"MIGRA_RANGE":     {Mu: 0.06, Het: 0},
		"SYNTHESIS_TIME":  {Mu: 637, Het: 0},
		"SYNTHESIS_RANGE": {Mu: 100, Het: 0},

		// Metabolism.
		"META_PREF":               {Mu: 0.3, Het: 0.05, Frac: true},
		"META_PREF_IL2":           {Mu: 0.1, Het: 0.05, Frac: true},
		"META_PREF_ACTIVE":        {Mu: 0.2, Het: 0.05, Frac: true},
		"GLUC_UPTAKE_RATE":        {Mu: 1.12, Het: 0.05},
		"GLUC_UPTAKE_RATE_IL2":    {Mu: 0.2, Het: 0.05},
		"GLUC_UPTAKE_RATE_ACTIVE": {Mu: 1.0, Het: 0.05},
		"FRAC_MASS":               {Mu: 0.25, Het: 0, Frac: true},
		"FRAC_MASS_ACTIVE":        {Mu: 0.25, Het: 0, Frac: true},
		"RATIO_GLUC_TO_PYRU":      {Mu: 0.8, Het: 0, Frac: true},
		"LACTATE_RATE":            {Mu: 0.1, Het: 0, Frac: true},
		"AUTOPHAGY_RATE":          {Mu: 1e-4, Het: 0},
		"MIN_MASS_FRAC":           {Mu: 0.5, Het: 0, Frac: true},
		"META_SWITCH_DELAY":       {Mu: 30, Het: 0},

		// Signaling.
		"SHELL_THICKNESS":         {Mu: 2, Het: 0},
		"IL2_RECEPTORS":           {Mu: 2000, Het: 0},
		"IL2_BINDING_ON_RATE_MIN": {Mu: 3.8193e-2, Het: 0},
		"IL2_BINDING_ON_RATE_MAX": {Mu: 3.155, Het: 0},
		"IL2_BINDING_OFF_RATE":    {Mu: 0.015, Het: 0},
	}
}

func cd8Params() ParamSet {
	ps := effectorParams()
	ps["GRANZ_SYNTHESIS_DELAY"] = Param{Mu: 30, Het: 0}
	return ps
}

func cd4Params() ParamSet {
	ps := effectorParams()
	ps["IL2_SYNTHESIS_DELAY"] = Param{Mu: 30, Het: 0}
	ps["IL2_PROD_RATE_IL2"] = Param{Mu: 16.62, Het: 0}
	ps["IL2_PROD_RATE_ACTIVE"] = Param{Mu: 63.1, Het: 0}
	return ps
}

func tissueParams() ParamSet {
	return ParamSet{
		"CAR_ANTIGENS":    {Mu: 5000, Het: 0.05},
		"SELF_TARGETS":    {Mu: 3600, Het: 0.05},
		"MAX_HEIGHT":      {Mu: 8.7, Het: 0},
		"CELL_VOL_AVG":    {Mu: 2000, Het: 0},
		"CELL_VOL_RANGE":  {Mu: 200, Het: 0},
		"CELL_AGE_MIN":    {Mu: 0, Het: 0},
		"CELL_AGE_MAX":    {Mu: 10080, Het: 0},
		"DEATH_AGE_AVG":   {Mu: 120960, Het: 0},
		"DEATH_AGE_RANGE": {Mu: 10080, Het: 0},
		"DEATH_TIME":      {Mu: 1080, Het: 0},
		"DEATH_RANGE":     {Mu: 360, Het: 0},
	}
}
