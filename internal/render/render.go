// Package render turns an estimate into downloadable documents.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode"

	"smartsmeta.app/bot/internal/estimate"
)

// Document is everything a renderer needs: the estimate, the rates it was
// priced with and the precomputed roll-ups.
type Document struct {
	Result  *estimate.EstimateResult
	Rates   estimate.Rates
	Summary *estimate.Summary
	Date    time.Time
}

// Artifact is one rendered file, held in memory.
type Artifact struct {
	Format      string
	Filename    string
	ContentType string
	Data        []byte
}

type Renderer interface {
	Format() string
	Render(ctx context.Context, doc Document) (Artifact, error)
}

// RenderError is returned when every configured format failed.
type RenderError struct {
	Failures map[string]error
}

func (e *RenderError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for format, err := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", format, err))
	}
	return "all document formats failed: " + strings.Join(parts, "; ")
}

// RenderAll runs every renderer independently. A failing format is logged
// and skipped; RenderError is returned only when nothing was produced.
func RenderAll(ctx context.Context, renderers []Renderer, result *estimate.EstimateResult, rates estimate.Rates) ([]Artifact, error) {
	doc := Document{
		Result:  result,
		Rates:   rates,
		Summary: estimate.Aggregate(result, rates),
		Date:    time.Now(),
	}

	failures := make(map[string]error)
	artifacts := make([]Artifact, 0, len(renderers))
	for _, r := range renderers {
		artifact, err := renderSafe(ctx, r, doc)
		if err != nil {
			slog.ErrorContext(ctx, "render failed", "format", r.Format(), "error", err)
			failures[r.Format()] = err
			continue
		}
		artifacts = append(artifacts, artifact)
	}

	if len(artifacts) == 0 {
		if len(failures) == 0 {
			failures["none"] = fmt.Errorf("no renderers configured")
		}
		return nil, &RenderError{Failures: failures}
	}
	return artifacts, nil
}

func renderSafe(ctx context.Context, r Renderer, doc Document) (artifact Artifact, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.Render(ctx, doc)
}

// Filename derives a file name from the project name, keeping letters,
// digits, spaces, dots, dashes and underscores.
func Filename(projectName, ext string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(projectName) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == ' ', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), ". ")
	if name == "" {
		name = "smeta"
	}
	if runes := []rune(name); len(runes) > 100 {
		name = string(runes[:100])
	}
	return name + "." + ext
}

// Money formats an amount in whole roubles grouped by thousands: 1234567 -> "1 234 567".
func Money(v float64) string {
	n := int64(math.Round(v))
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	digits := fmt.Sprintf("%d", n)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteRune(' ')
		}
		b.WriteRune(d)
	}
	return sign + b.String()
}

// Hours formats hours without trailing zeros: 16 -> "16", 2.5 -> "2.5".
func Hours(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.1f", v), "0"), ".")
}

// ForFormats picks renderers by name, preserving the requested order.
// Unknown names are reported.
func ForFormats(formats []string, available ...Renderer) ([]Renderer, error) {
	byName := make(map[string]Renderer, len(available))
	for _, r := range available {
		byName[r.Format()] = r
	}
	out := make([]Renderer, 0, len(formats))
	for _, f := range formats {
		r, ok := byName[f]
		if !ok {
			return nil, fmt.Errorf("unknown render format %q", f)
		}
		out = append(out, r)
	}
	return out, nil
}
