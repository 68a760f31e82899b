package render

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/go-pdf/fpdf"
)

const pdfFamily = "body"

var (
	//go:embed fonts/DejaVuSansCondensed.ttf
	defaultFont []byte
	//go:embed fonts/DejaVuSansCondensed-Bold.ttf
	defaultBoldFont []byte
)

// PDFRenderer lays the estimate out as A4 tables. Text is set in the
// embedded DejaVu Sans Condensed unless FontPath names another TTF with
// Cyrillic glyphs.
type PDFRenderer struct {
	FontPath string
}

func NewPDFRenderer(fontPath string) *PDFRenderer {
	return &PDFRenderer{FontPath: fontPath}
}

func (r *PDFRenderer) Format() string { return "pdf" }

var pdfColumns = []struct {
	title string
	width float64
	align string
}{
	{"Задача", 74, "L"},
	{"Роль", 28, "L"},
	{"Мин", 16, "R"},
	{"База", 16, "R"},
	{"Макс", 16, "R"},
	{"Стоимость", 30, "R"},
}

func (r *PDFRenderer) Render(_ context.Context, doc Document) (Artifact, error) {
	pdf, err := r.layout(doc)
	if err != nil {
		return Artifact{}, err
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return Artifact{}, fmt.Errorf("writing pdf: %w", err)
	}
	return Artifact{
		Format:      "pdf",
		Filename:    Filename(doc.Result.ProjectName, "pdf"),
		ContentType: "application/pdf",
		Data:        buf.Bytes(),
	}, nil
}

func (r *PDFRenderer) layout(doc Document) (*fpdf.Fpdf, error) {
	v := newView(doc)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)

	regularFont, boldFont := defaultFont, defaultBoldFont
	if r.FontPath != "" {
		font, err := os.ReadFile(r.FontPath)
		if err != nil {
			return nil, fmt.Errorf("reading pdf font: %w", err)
		}
		regularFont, boldFont = font, font
	}
	pdf.AddUTF8FontFromBytes(pdfFamily, "", regularFont)
	pdf.AddUTF8FontFromBytes(pdfFamily, "B", boldFont)
	if pdf.Err() {
		return nil, fmt.Errorf("loading pdf font: %w", pdf.Error())
	}

	text := func(style string, size float64) {
		pdf.SetFont(pdfFamily, style, size)
	}
	row := func(cells []string, bold, fill bool) {
		text(map[bool]string{true: "B", false: ""}[bold], 9)
		for i, c := range pdfColumns {
			pdf.CellFormat(c.width, 6, cells[i], "1", 0, c.align, fill, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.AddPage()
	text("B", 16)
	pdf.MultiCell(0, 8, v.Result.ProjectName, "", "L", false)
	text("", 10)
	meta := "Дата: " + v.Date
	if v.Result.Client != "" {
		meta = "Клиент: " + v.Result.Client + " · " + meta
	}
	pdf.MultiCell(0, 5, meta, "", "L", false)
	pdf.Ln(2)
	pdf.MultiCell(0, 5, v.Result.ScopeSummary, "", "L", false)

	pdf.SetFillColor(238, 244, 251)
	for vi, variant := range v.Variants {
		pdf.Ln(4)
		text("B", 12)
		pdf.MultiCell(0, 7, fmt.Sprintf("Вариант %d. %s", vi+1, variant.Name), "", "L", false)
		if t := variant.Timeline; t != nil {
			text("", 10)
			pdf.MultiCell(0, 5, fmt.Sprintf("Срок: %d–%d нед. %s", t.TotalWeeksMin, t.TotalWeeksMax, t.Note), "", "L", false)
		}

		header := make([]string, len(pdfColumns))
		for i, c := range pdfColumns {
			header[i] = c.title
		}
		row(header, true, false)
		for _, phase := range variant.Phases {
			p := phase.Rollup
			row([]string{phase.Name, "", Hours(p.HoursMin), Hours(p.HoursBase), Hours(p.HoursMax), Money(p.CostBase)}, true, true)
			for _, t := range phase.Tasks {
				row([]string{t.Task, t.Role, Hours(t.HoursMin), Hours(t.HoursBase), Hours(t.HoursMax), Money(t.Cost)}, false, false)
			}
		}
		total := variant.Rollup
		row([]string{"Итого", "", Hours(total.HoursMin), Hours(total.HoursBase), Hours(total.HoursMax), Money(total.CostBase)}, true, false)
	}

	pdf.Ln(4)
	text("B", 12)
	pdf.MultiCell(0, 7, "Сводка по ролям", "", "L", false)
	for _, role := range v.Roles {
		text("", 10)
		pdf.MultiCell(0, 5, fmt.Sprintf("%s: %d руб/ч × %s ч = %s руб.", role.Role, role.Rate, Hours(role.Hours), Money(role.Cost)), "", "L", false)
	}

	for _, section := range []struct {
		title string
		items []string
	}{
		{"Допущения", v.Result.Assumptions},
		{"Риски", v.Result.Risks},
		{"Не входит в объём", v.Result.OutOfScope},
	} {
		if len(section.items) == 0 {
			continue
		}
		pdf.Ln(3)
		text("B", 12)
		pdf.MultiCell(0, 7, section.title, "", "L", false)
		text("", 10)
		for _, item := range section.items {
			pdf.MultiCell(0, 5, "• "+item, "", "L", false)
		}
	}

	return pdf, nil
}
