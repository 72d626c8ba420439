package domain

import "context"

// Store is the authoritative copy of every collection and pipeline board.
//
// PersistOrder must apply all updates or none. Any id that does not belong to
// (col, ownerID) rejects the whole call with a ValidationError.
type Store interface {
	FetchCollection(ctx context.Context, col Coleccion, ownerID string) ([]*Item, error)
	PersistOrder(ctx context.Context, col Coleccion, ownerID string, updates []RankUpdate) error

	GetItem(ctx context.Context, col Coleccion, id string) (*Item, error)
	AddItem(ctx context.Context, col Coleccion, ownerID string, nombre string) (*Item, error)
	UpdateItem(ctx context.Context, col Coleccion, item *Item) (*Item, error)
	DeleteItem(ctx context.Context, col Coleccion, ownerID string, id string) (*Item, error)

	FetchBoard(ctx context.Context, crmID string) (*Board, error)
	AddLead(ctx context.Context, crmID string, nombre string, valor float64) (*Lead, error)
	MoveLead(ctx context.Context, crmID string, leadID string, etapaID string) (*Lead, error)

	Close() error
}
