package web

import (
	"embed"
	"fmt"
	"html/template"
	"strconv"
)

//go:embed templates/*
var templateFS embed.FS

// Presentation renders the list and board pages from embedded templates
type Presentation struct {
	tmpl *template.Template
}

func NewPresentation() (*Presentation, error) {
	tmpl := template.New("base").Funcs(template.FuncMap{
		"itemDOMID": ItemDOMID,
		"valor":     formatValor,
	})

	tmpl, err := tmpl.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Presentation{tmpl: tmpl}, nil
}

// formatValor prints an estimated value with two decimals, or nothing for 0.
func formatValor(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
