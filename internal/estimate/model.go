// Package estimate holds the structured estimate a model turn produces and
// the roll-ups computed from it.
package estimate

type Status string

const (
	StatusNeedInfo Status = "need_info"
	StatusReady    Status = "ready"
)

type TaskLine struct {
	Task      string  `json:"task"`
	Role      string  `json:"role"`
	HoursMin  float64 `json:"hours_min"`
	HoursBase float64 `json:"hours_base"`
	HoursMax  float64 `json:"hours_max"`
}

type Phase struct {
	Name  string     `json:"name"`
	Tasks []TaskLine `json:"tasks"`
}

type Timeline struct {
	TotalWeeksMin int    `json:"total_weeks_min"`
	TotalWeeksMax int    `json:"total_weeks_max"`
	Note          string `json:"note,omitempty"`
}

type Variant struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Phases      []Phase   `json:"phases"`
	Timeline    *Timeline `json:"timeline,omitempty"`
}

type EstimateResult struct {
	ProjectName  string    `json:"project_name"`
	Client       string    `json:"client,omitempty"`
	ProjectType  string    `json:"project_type,omitempty"`
	ScopeSummary string    `json:"scope_summary"`
	Assumptions  []string  `json:"assumptions,omitempty"`
	Risks        []string  `json:"risks,omitempty"`
	OutOfScope   []string  `json:"out_of_scope,omitempty"`
	Variants     []Variant `json:"variants" jsonschema:"minItems=1"`
}

// TurnResult is what one model turn decodes into. Status is kept verbatim
// so callers can detect values outside need_info/ready.
type TurnResult struct {
	Status    Status          `json:"status" jsonschema:"enum=need_info,enum=ready"`
	Questions []string        `json:"questions,omitempty"`
	Result    *EstimateResult `json:"result,omitempty"`
}

// Rate is the hourly rate of one role.
type Rate struct {
	Role string `json:"role"`
	Rate int    `json:"rate"`
}

// Rates is an ordered role->rate table. Order is display order.
type Rates []Rate

func (r Rates) Lookup(role string) (int, bool) {
	for _, rate := range r {
		if rate.Role == role {
			return rate.Rate, true
		}
	}
	return 0, false
}

// With returns a copy of r where role has the given rate. Existing roles
// keep their position, new roles are appended.
func (r Rates) With(role string, rate int) Rates {
	out := make(Rates, 0, len(r)+1)
	found := false
	for _, existing := range r {
		if existing.Role == role {
			existing.Rate = rate
			found = true
		}
		out = append(out, existing)
	}
	if !found {
		out = append(out, Rate{Role: role, Rate: rate})
	}
	return out
}
