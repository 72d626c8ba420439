package web

import (
	"io"
	"strings"

	"git.sr.ht/~jakintosh/orden/internal/domain"
)

const itemDOMPrefix = "orden-item-"

// ItemDOMID is the element id a rendered row carries for an item.
func ItemDOMID(id string) string {
	return itemDOMPrefix + id
}

// ItemIDFromDOM reverses ItemDOMID. It reports false for ids that were not
// produced by ItemDOMID.
func ItemIDFromDOM(domID string) (string, bool) {
	id, ok := strings.CutPrefix(domID, itemDOMPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// DeleteButtonView holds data for the delete button template fragment
type DeleteButtonView struct {
	URL            string // e.g., "/api/colecciones/etapas/crm-1/items/abc123"
	ConfirmMessage string
	ButtonText     string
}

// ItemView is the view model for one row of a reorderable list
type ItemView struct {
	ID           string
	DOMID        string
	Nombre       string
	Descripcion  string
	Activo       bool
	Orden        int
	OOB          bool
	DeleteButton DeleteButtonView
}

// ListView is the view model for a whole reorderable list
type ListView struct {
	Coleccion string
	OwnerID   string
	Items     []ItemView
	PageURL   string
	ItemsURL  string
	SortURL   string // form post of the row DOM ids in their new order
	SocketURL string
}

func listPage(col domain.Coleccion, ownerID string) string {
	return "/colecciones/" + string(col) + "/" + ownerID
}

func listBase(col domain.Coleccion, ownerID string) string {
	return "/api" + listPage(col, ownerID)
}

// NewItemView creates an ItemView from a domain Item
func NewItemView(col domain.Coleccion, it *domain.Item, oob bool) ItemView {
	return ItemView{
		ID:          it.ID,
		DOMID:       ItemDOMID(it.ID),
		Nombre:      it.Nombre,
		Descripcion: it.Descripcion,
		Activo:      it.Activo,
		Orden:       it.Rank(),
		OOB:         oob,
		DeleteButton: DeleteButtonView{
			URL:            listBase(col, it.OwnerID) + "/items/" + it.ID,
			ConfirmMessage: "¿Eliminar este elemento?",
			ButtonText:     "Eliminar",
		},
	}
}

func NewListView(col domain.Coleccion, ownerID string, items []*domain.Item) ListView {
	view := ListView{
		Coleccion: string(col),
		OwnerID:   ownerID,
		Items:     make([]ItemView, len(items)),
		PageURL:   listPage(col, ownerID),
		ItemsURL:  listBase(col, ownerID) + "/items",
		SortURL:   listPage(col, ownerID) + "/orden",
		SocketURL: "/ws/colecciones/" + string(col) + "/" + ownerID,
	}
	for i, it := range items {
		view.Items[i] = NewItemView(col, it, false)
	}
	return view
}

// RenderItem renders a single row from its view model
func (p *Presentation) RenderItem(w io.Writer, view ItemView) error {
	return p.tmpl.ExecuteTemplate(w, "item", view)
}

// RenderList renders the list fragment
func (p *Presentation) RenderList(w io.Writer, view ListView) error {
	return p.tmpl.ExecuteTemplate(w, "list.html", view)
}
