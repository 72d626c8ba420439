package domain

// RankBase is the rank given to the first item of every collection.
const RankBase = 1

// GlobalOwner scopes collections that are not attached to a parent entity.
const GlobalOwner = "global"

type Item struct {
	ID          string `json:"id" yaml:"id"`
	OwnerID     string `json:"ownerId" yaml:"owner"`
	Nombre      string `json:"nombre" yaml:"nombre"`
	Descripcion string `json:"descripcion" yaml:"descripcion"`
	Activo      bool   `json:"activo" yaml:"activo"`
	Orden       *int   `json:"orden" yaml:"orden"` // nil when never ranked
}

type RankUpdate struct {
	ID    string `json:"id"`
	Orden int    `json:"orden"`
}

type Lead struct {
	ID            string  `json:"id" yaml:"id"`
	CrmID         string  `json:"crmId" yaml:"crm"`
	EtapaID       string  `json:"etapaId" yaml:"etapa"`
	Nombre        string  `json:"nombre" yaml:"nombre"`
	ValorEstimado float64 `json:"valorEstimado" yaml:"valor"`
}

type Column struct {
	Etapa *Item   `json:"etapa"`
	Leads []*Lead `json:"leads"`
}

type Board struct {
	CrmID   string   `json:"crmId"`
	Columns []Column `json:"columns"`
}

// Helper methods

// Rank returns the persisted rank, or -1 when the item has none.
func (i *Item) Rank() int {
	if i.Orden == nil {
		return -1
	}
	return *i.Orden
}

func (i *Item) SetRank(orden int) {
	i.Orden = &orden
}

func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	if i.Orden != nil {
		orden := *i.Orden
		c.Orden = &orden
	}
	return &c
}

func (l *Lead) Clone() *Lead {
	c := *l
	return &c
}

func (b *Board) Clone() *Board {
	if b == nil {
		return nil
	}
	out := &Board{CrmID: b.CrmID, Columns: make([]Column, len(b.Columns))}
	for i, col := range b.Columns {
		out.Columns[i].Etapa = col.Etapa.Clone()
		out.Columns[i].Leads = make([]*Lead, len(col.Leads))
		for j, l := range col.Leads {
			out.Columns[i].Leads[j] = l.Clone()
		}
	}
	return out
}

// Column returns the column for an etapa, or nil.
func (b *Board) Column(etapaID string) *Column {
	for i := range b.Columns {
		if b.Columns[i].Etapa.ID == etapaID {
			return &b.Columns[i]
		}
	}
	return nil
}

// FindLead returns the lead and the index of the column holding it.
func (b *Board) FindLead(leadID string) (*Lead, int) {
	for i, col := range b.Columns {
		for _, l := range col.Leads {
			if l.ID == leadID {
				return l, i
			}
		}
	}
	return nil, -1
}

func (b *Board) TotalLeads() int {
	sum := 0
	for _, col := range b.Columns {
		sum += len(col.Leads)
	}
	return sum
}

func CloneItems(items []*Item) []*Item {
	out := make([]*Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
