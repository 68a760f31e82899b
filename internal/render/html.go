package render

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/estimate.html
var templateFS embed.FS

type HTMLRenderer struct {
	tmpl *template.Template
}

func NewHTMLRenderer() (*HTMLRenderer, error) {
	tmpl, err := template.New("estimate.html").Funcs(template.FuncMap{
		"money": Money,
		"hours": Hours,
		"inc":   func(i int) int { return i + 1 },
	}).ParseFS(templateFS, "templates/estimate.html")
	if err != nil {
		return nil, fmt.Errorf("parsing html template: %w", err)
	}
	return &HTMLRenderer{tmpl: tmpl}, nil
}

func (r *HTMLRenderer) Format() string { return "html" }

func (r *HTMLRenderer) Render(_ context.Context, doc Document) (Artifact, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, newView(doc)); err != nil {
		return Artifact{}, fmt.Errorf("executing html template: %w", err)
	}
	return Artifact{
		Format:      "html",
		Filename:    Filename(doc.Result.ProjectName, "html"),
		ContentType: "text/html; charset=utf-8",
		Data:        buf.Bytes(),
	}, nil
}
