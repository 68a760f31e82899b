package estimate

// Rollup is hours and base cost summed over some set of tasks.
type Rollup struct {
	HoursMin  float64
	HoursBase float64
	HoursMax  float64
	CostBase  float64
}

func (r Rollup) Add(o Rollup) Rollup {
	return Rollup{
		HoursMin:  r.HoursMin + o.HoursMin,
		HoursBase: r.HoursBase + o.HoursBase,
		HoursMax:  r.HoursMax + o.HoursMax,
		CostBase:  r.CostBase + o.CostBase,
	}
}

// RoleLine accumulates base hours and cost of one role across the whole estimate.
type RoleLine struct {
	Role  string
	Rate  int
	Hours float64
	Cost  float64
}

// Summary is the roll-up view of an EstimateResult. Phases is indexed
// [variant][phase] in the order of the result.
type Summary struct {
	Phases   [][]Rollup
	Variants []Rollup
	Totals   Rollup
	Roles    []RoleLine
}

func (s *Summary) Phase(variant, phase int) Rollup {
	return s.Phases[variant][phase]
}

func (s *Summary) Role(role string) (RoleLine, bool) {
	for _, line := range s.Roles {
		if line.Role == role {
			return line, true
		}
	}
	return RoleLine{}, false
}

// Aggregate folds result into per-phase, per-variant, per-role and grand
// totals. Cost is hours_base times the role rate; roles missing from rates
// cost 0 but still count hours.
func Aggregate(result *EstimateResult, rates Rates) *Summary {
	s := &Summary{
		Phases:   make([][]Rollup, len(result.Variants)),
		Variants: make([]Rollup, len(result.Variants)),
	}
	roleIndex := make(map[string]int)

	for vi, variant := range result.Variants {
		s.Phases[vi] = make([]Rollup, len(variant.Phases))

		for pi, phase := range variant.Phases {
			var p Rollup
			for _, t := range phase.Tasks {
				rate, _ := rates.Lookup(t.Role)
				cost := t.HoursBase * float64(rate)
				p = p.Add(Rollup{
					HoursMin:  t.HoursMin,
					HoursBase: t.HoursBase,
					HoursMax:  t.HoursMax,
					CostBase:  cost,
				})

				idx, ok := roleIndex[t.Role]
				if !ok {
					idx = len(s.Roles)
					roleIndex[t.Role] = idx
					s.Roles = append(s.Roles, RoleLine{Role: t.Role, Rate: rate})
				}
				s.Roles[idx].Hours += t.HoursBase
				s.Roles[idx].Cost += cost
			}
			s.Phases[vi][pi] = p
			s.Variants[vi] = s.Variants[vi].Add(p)
		}

		s.Totals = s.Totals.Add(s.Variants[vi])
	}

	return s
}
