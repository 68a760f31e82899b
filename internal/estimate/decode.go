package estimate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// phaseAliases are the keys models use for a variant's phases when they
// drift from the requested field name, tried in order.
var phaseAliases = []string{"stages", "Stages", "Phases", "этапы", "Этапы", "фазы", "Фазы"}

// ValidationError lists every problem found in a decoded turn.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid model turn: " + strings.Join(e.Problems, "; ")
}

var (
	hourKeys     = []string{"hours_min", "hours_base", "hours_max"}
	timelineKeys = []string{"total_weeks_min", "total_weeks_max"}
)

// NormalizeTurn rewrites tree in place so that every variant carries its
// phases under "phases" and numbers sent as strings ("10", "12,5") become
// numbers.
func NormalizeTurn(tree map[string]any) {
	result, ok := tree["result"].(map[string]any)
	if !ok {
		return
	}
	variants, ok := result["variants"].([]any)
	if !ok {
		return
	}
	for _, v := range variants {
		variant, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := variant["phases"]; !ok {
			for _, alias := range phaseAliases {
				if phases, ok := variant[alias]; ok {
					variant["phases"] = phases
					delete(variant, alias)
					break
				}
			}
		}

		if timeline, ok := variant["timeline"].(map[string]any); ok {
			coerceNumbers(timeline, timelineKeys)
		}
		phases, _ := variant["phases"].([]any)
		for _, p := range phases {
			phase, ok := p.(map[string]any)
			if !ok {
				continue
			}
			tasks, _ := phase["tasks"].([]any)
			for _, t := range tasks {
				if task, ok := t.(map[string]any); ok {
					coerceNumbers(task, hourKeys)
				}
			}
		}
	}
}

// coerceNumbers replaces string values under keys with the number they
// spell. Strings that are not numbers are left for the validator.
func coerceNumbers(obj map[string]any, keys []string) {
	for _, k := range keys {
		s, ok := obj[k].(string)
		if !ok {
			continue
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			obj[k] = n
		}
	}
}

// DecodeTurn normalizes tree, checks required fields and binds it to a
// TurnResult.
func DecodeTurn(tree map[string]any) (*TurnResult, error) {
	NormalizeTurn(tree)

	v := &validator{}
	v.turn(tree)
	if len(v.problems) > 0 {
		return nil, &ValidationError{Problems: v.problems}
	}

	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("re-encoding turn: %w", err)
	}

	var turn TurnResult
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&turn); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	return &turn, nil
}

// Anomalies reports soft problems that do not block the pipeline: task
// hours out of order and need_info without questions.
func Anomalies(turn *TurnResult) []string {
	var out []string
	if turn.Status == StatusNeedInfo && len(turn.Questions) == 0 {
		out = append(out, "need_info without questions")
	}
	if turn.Result == nil {
		return out
	}
	for vi, variant := range turn.Result.Variants {
		for pi, phase := range variant.Phases {
			for ti, t := range phase.Tasks {
				if t.HoursMin > t.HoursBase || t.HoursBase > t.HoursMax {
					out = append(out, fmt.Sprintf("variants[%d].phases[%d].tasks[%d]: hours not ordered (%g/%g/%g)",
						vi, pi, ti, t.HoursMin, t.HoursBase, t.HoursMax))
				}
			}
		}
	}
	return out
}

type validator struct {
	problems []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) require(obj map[string]any, path string, keys ...string) {
	for _, key := range keys {
		if val, ok := obj[key]; !ok || val == nil {
			v.addf("%s%s: required", path, key)
		}
	}
}

func (v *validator) list(obj map[string]any, path, key string) []any {
	val, ok := obj[key]
	if !ok || val == nil {
		return nil
	}
	items, ok := val.([]any)
	if !ok {
		v.addf("%s%s: expected a list", path, key)
		return nil
	}
	return items
}

func (v *validator) object(val any, path string) map[string]any {
	obj, ok := val.(map[string]any)
	if !ok {
		v.addf("%s: expected an object", path)
		return nil
	}
	return obj
}

func (v *validator) turn(tree map[string]any) {
	v.require(tree, "", "status")
	v.list(tree, "", "questions")

	if raw, ok := tree["result"]; ok && raw != nil {
		if result := v.object(raw, "result"); result != nil {
			v.result(result)
		}
	}
}

func (v *validator) result(result map[string]any) {
	v.require(result, "result.", "project_name", "scope_summary", "variants")
	for _, key := range []string{"assumptions", "risks", "out_of_scope"} {
		v.list(result, "result.", key)
	}

	variants := v.list(result, "result.", "variants")
	if _, present := result["variants"]; present && len(variants) == 0 {
		v.addf("result.variants: must not be empty")
	}
	for i, raw := range variants {
		path := fmt.Sprintf("result.variants[%d]", i)
		if variant := v.object(raw, path); variant != nil {
			v.variant(variant, path+".")
		}
	}
}

func (v *validator) variant(variant map[string]any, path string) {
	v.require(variant, path, "name", "phases")
	for i, raw := range v.list(variant, path, "phases") {
		phasePath := fmt.Sprintf("%sphases[%d]", path, i)
		if phase := v.object(raw, phasePath); phase != nil {
			v.phase(phase, phasePath+".")
		}
	}
	if raw, ok := variant["timeline"]; ok && raw != nil {
		if timeline := v.object(raw, path+"timeline"); timeline != nil {
			v.require(timeline, path+"timeline.", "total_weeks_min", "total_weeks_max")
		}
	}
}

func (v *validator) phase(phase map[string]any, path string) {
	v.require(phase, path, "name", "tasks")
	for i, raw := range v.list(phase, path, "tasks") {
		taskPath := fmt.Sprintf("%stasks[%d]", path, i)
		if task := v.object(raw, taskPath); task != nil {
			v.require(task, taskPath+".", "task", "role", "hours_min", "hours_base", "hours_max")
		}
	}
}
