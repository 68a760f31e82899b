package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const rolesSheet = "Роли"

// XLSXRenderer writes one sheet per variant plus a role summary sheet.
type XLSXRenderer struct{}

func NewXLSXRenderer() *XLSXRenderer {
	return &XLSXRenderer{}
}

func (r *XLSXRenderer) Format() string { return "xlsx" }

func (r *XLSXRenderer) Render(_ context.Context, doc Document) (Artifact, error) {
	v := newView(doc)

	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return Artifact{}, fmt.Errorf("creating style: %w", err)
	}

	defaultSheet := f.GetSheetName(0)
	for vi, variant := range v.Variants {
		sheet := variantSheetName(vi, variant.Name)
		if vi == 0 {
			if err := f.SetSheetName(defaultSheet, sheet); err != nil {
				return Artifact{}, fmt.Errorf("renaming sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return Artifact{}, fmt.Errorf("creating sheet %s: %w", sheet, err)
		}
		if err := writeVariantSheet(f, sheet, bold, v, variant); err != nil {
			return Artifact{}, fmt.Errorf("writing sheet %s: %w", sheet, err)
		}
	}

	if _, err := f.NewSheet(rolesSheet); err != nil {
		return Artifact{}, fmt.Errorf("creating roles sheet: %w", err)
	}
	if err := writeRolesSheet(f, bold, v); err != nil {
		return Artifact{}, fmt.Errorf("writing roles sheet: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return Artifact{}, fmt.Errorf("writing workbook: %w", err)
	}
	return Artifact{
		Format:      "xlsx",
		Filename:    Filename(doc.Result.ProjectName, "xlsx"),
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Data:        buf.Bytes(),
	}, nil
}

func writeVariantSheet(f *excelize.File, sheet string, bold int, v view, variant variantView) error {
	row := 1
	put := func(values []any, style bool) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
		if style {
			last, _ := excelize.CoordinatesToCellName(len(values), row)
			if err := f.SetCellStyle(sheet, cell, last, bold); err != nil {
				return err
			}
		}
		row++
		return nil
	}

	if err := put([]any{v.Result.ProjectName + " — " + variant.Name}, true); err != nil {
		return err
	}
	if variant.Description != "" {
		if err := put([]any{variant.Description}, false); err != nil {
			return err
		}
	}
	if t := variant.Timeline; t != nil {
		if err := put([]any{fmt.Sprintf("Срок: %d–%d нед. %s", t.TotalWeeksMin, t.TotalWeeksMax, t.Note)}, false); err != nil {
			return err
		}
	}
	row++

	if err := put([]any{"Этап / задача", "Роль", "Мин, ч", "База, ч", "Макс, ч", "Ставка", "Стоимость"}, true); err != nil {
		return err
	}
	for _, phase := range variant.Phases {
		p := phase.Rollup
		if err := put([]any{phase.Name, "", p.HoursMin, p.HoursBase, p.HoursMax, "", p.CostBase}, true); err != nil {
			return err
		}
		for _, t := range phase.Tasks {
			if err := put([]any{t.Task, t.Role, t.HoursMin, t.HoursBase, t.HoursMax, t.Rate, t.Cost}, false); err != nil {
				return err
			}
		}
	}
	total := variant.Rollup
	if err := put([]any{"Итого", "", total.HoursMin, total.HoursBase, total.HoursMax, "", total.CostBase}, true); err != nil {
		return err
	}

	return f.SetColWidth(sheet, "A", "A", 60)
}

func writeRolesSheet(f *excelize.File, bold int, v view) error {
	rows := [][]any{{"Роль", "Ставка", "Часы", "Стоимость"}}
	for _, r := range v.Roles {
		rows = append(rows, []any{r.Role, r.Rate, r.Hours, r.Cost})
	}
	rows = append(rows, []any{"Итого (все варианты)", "", v.Totals.HoursBase, v.Totals.CostBase})

	for i, values := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(rolesSheet, cell, &values); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(rolesSheet, "A1", "D1", bold); err != nil {
		return err
	}
	return f.SetColWidth(rolesSheet, "A", "A", 30)
}

// variantSheetName makes a unique, valid sheet name: at most 31 runes
// and none of []:*?/\.
func variantSheetName(index int, name string) string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	full := []rune(fmt.Sprintf("%d. %s", index+1, clean))
	if len(full) > 31 {
		full = full[:31]
	}
	return strings.TrimRight(string(full), " '")
}
