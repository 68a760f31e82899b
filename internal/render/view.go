package render

import "smartsmeta.app/bot/internal/estimate"

// view flattens a Document for templates and table writers, pairing each
// variant and phase with its roll-up.
type view struct {
	Result   *estimate.EstimateResult
	Date     string
	Variants []variantView
	Roles    []estimate.RoleLine
	Totals   estimate.Rollup
	Rates    estimate.Rates
}

type variantView struct {
	estimate.Variant
	Rollup estimate.Rollup
	Phases []phaseView
}

type phaseView struct {
	Name   string
	Tasks  []taskView
	Rollup estimate.Rollup
}

type taskView struct {
	estimate.TaskLine
	Rate int
	Cost float64
}

func newView(doc Document) view {
	v := view{
		Result: doc.Result,
		Date:   doc.Date.Format("02.01.2006"),
		Roles:  doc.Summary.Roles,
		Totals: doc.Summary.Totals,
		Rates:  doc.Rates,
	}
	for vi, variant := range doc.Result.Variants {
		vv := variantView{Variant: variant, Rollup: doc.Summary.Variants[vi]}
		for pi, phase := range variant.Phases {
			pv := phaseView{Name: phase.Name, Rollup: doc.Summary.Phase(vi, pi)}
			for _, t := range phase.Tasks {
				rate, _ := doc.Rates.Lookup(t.Role)
				pv.Tasks = append(pv.Tasks, taskView{TaskLine: t, Rate: rate, Cost: t.HoursBase * float64(rate)})
			}
			vv.Phases = append(vv.Phases, pv)
		}
		v.Variants = append(v.Variants, vv)
	}
	return v
}
