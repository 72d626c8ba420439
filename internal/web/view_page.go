package web

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
)

type PageView struct {
	Title   string
	Content template.HTML // pre-rendered list or board
}

// RenderPage wraps a list or board view in the full layout.
func (p *Presentation) RenderPage(w io.Writer, title string, view any) error {
	var buf bytes.Buffer

	switch v := view.(type) {
	case ListView:
		if err := p.RenderList(&buf, v); err != nil {
			return err
		}
	case BoardView:
		if err := p.RenderBoard(&buf, v); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown page view type: %T", v)
	}

	page := PageView{
		Title:   title,
		Content: template.HTML(buf.String()),
	}
	return p.tmpl.ExecuteTemplate(w, "layout.html", page)
}
