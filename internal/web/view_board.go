package web

import (
	"io"

	"git.sr.ht/~jakintosh/orden/internal/domain"
)

// BoardView is the view model for a CRM pipeline
type BoardView struct {
	CrmID     string
	Columns   []ColumnView
	Total     int
	PageURL   string
	MoveURL   string // form post taking lead_id and etapa_id
	SocketURL string
}

// ColumnView is one pipeline stage
type ColumnView struct {
	EtapaID string
	Nombre  string
	Orden   int
	Leads   []LeadView
}

type LeadView struct {
	ID            string
	Nombre        string
	ValorEstimado float64
}

func boardBase(crmID string) string {
	return "/crm/" + crmID + "/pipeline"
}

// NewBoardView creates a BoardView from a domain Board
func NewBoardView(b *domain.Board) BoardView {
	view := BoardView{
		CrmID:     b.CrmID,
		Columns:   make([]ColumnView, len(b.Columns)),
		Total:     b.TotalLeads(),
		PageURL:   boardBase(b.CrmID),
		MoveURL:   boardBase(b.CrmID) + "/mover",
		SocketURL: "/ws/crm/" + b.CrmID,
	}
	for i, col := range b.Columns {
		cv := ColumnView{
			EtapaID: col.Etapa.ID,
			Nombre:  col.Etapa.Nombre,
			Orden:   col.Etapa.Rank(),
			Leads:   make([]LeadView, len(col.Leads)),
		}
		for j, l := range col.Leads {
			cv.Leads[j] = LeadView{
				ID:            l.ID,
				Nombre:        l.Nombre,
				ValorEstimado: l.ValorEstimado,
			}
		}
		view.Columns[i] = cv
	}
	return view
}

// RenderBoard renders the pipeline fragment
func (p *Presentation) RenderBoard(w io.Writer, view BoardView) error {
	return p.tmpl.ExecuteTemplate(w, "board.html", view)
}
