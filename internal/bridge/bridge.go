// Package bridge is the server side of the order persistence contract: it
// validates rank updates, applies them through a store in one transaction and
// tells realtime subscribers to refresh.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"git.sr.ht/~jakintosh/orden/internal/domain"
	"git.sr.ht/~jakintosh/orden/internal/metrics"
	"git.sr.ht/~jakintosh/orden/internal/realtime"
	"git.sr.ht/~jakintosh/orden/internal/reorder"
)

type Publisher interface {
	Publish(evt realtime.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(realtime.Event) {}

type Bridge struct {
	store  domain.Store
	pub    Publisher
	logger *slog.Logger
}

func New(store domain.Store, pub Publisher, logger *slog.Logger) *Bridge {
	if pub == nil {
		pub = nopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{store: store, pub: pub, logger: logger}
}

// ItemPatch carries the editable fields of an item; nil fields are kept.
type ItemPatch struct {
	Nombre      *string `json:"nombre,omitempty"`
	Descripcion *string `json:"descripcion,omitempty"`
	Activo      *bool   `json:"activo,omitempty"`
}

// Fetch returns the owner's items sorted by rank with missing ranks backfilled.
func (b *Bridge) Fetch(ctx context.Context, col domain.Coleccion, ownerID string) ([]*domain.Item, error) {
	if err := col.CheckOwner(ownerID); err != nil {
		return nil, err
	}
	items, err := b.store.FetchCollection(ctx, col, ownerID)
	if err != nil {
		return nil, storeErr("fetch collection", err)
	}
	return reorder.NormalizeLoaded(items), nil
}

// Persist overwrites the rank of every item of the owner. The updates must
// cover the whole collection with ranks RankBase..RankBase+n-1. Either all
// updates apply or none do.
func (b *Bridge) Persist(ctx context.Context, col domain.Coleccion, ownerID string, updates []domain.RankUpdate) error {
	if err := col.CheckOwner(ownerID); err != nil {
		return err
	}
	err := reorder.ValidateUpdates(updates)
	if err == nil && !reorder.Contiguous(updates) {
		err = domain.Invalid("items", "los ordenes deben ir de %d a %d sin huecos", domain.RankBase, domain.RankBase+len(updates)-1)
	}
	if err != nil {
		b.countPersist(col, err)
		return err
	}

	timer := prometheus.NewTimer(metrics.PersistDuration.WithLabelValues(string(col)))
	err = b.store.PersistOrder(ctx, col, ownerID, updates)
	timer.ObserveDuration()
	b.countPersist(col, err)
	if err != nil {
		b.logger.Warn("persist order failed", "coleccion", col, "owner", ownerID, "items", len(updates), "err", err)
		return storeErr("persist order", err)
	}

	b.logger.Debug("order persisted", "coleccion", col, "owner", ownerID, "items", len(updates))
	b.pub.Publish(realtime.ListEvent(realtime.TipoOrden, col, ownerID, ""))
	if col == domain.Etapas {
		b.pub.Publish(realtime.BoardEvent(realtime.TipoOrden, ownerID, ""))
	}
	return nil
}

func (b *Bridge) countPersist(col domain.Coleccion, err error) {
	metrics.PersistTotal.WithLabelValues(string(col), result(err)).Inc()
}

func (b *Bridge) AddItem(ctx context.Context, col domain.Coleccion, ownerID string, nombre string) (*domain.Item, error) {
	if err := col.CheckOwner(ownerID); err != nil {
		return nil, err
	}
	nombre = strings.TrimSpace(nombre)
	if nombre == "" {
		return nil, domain.Invalid("nombre", "el nombre es obligatorio")
	}

	it, err := b.store.AddItem(ctx, col, ownerID, nombre)
	if err != nil {
		return nil, storeErr("add item", err)
	}
	b.logger.Info("item created", "coleccion", col, "owner", ownerID, "id", it.ID)
	b.publishItem(col, ownerID, it.ID)
	return it, nil
}

func (b *Bridge) UpdateItem(ctx context.Context, col domain.Coleccion, ownerID string, id string, patch ItemPatch) (*domain.Item, error) {
	if err := col.CheckOwner(ownerID); err != nil {
		return nil, err
	}

	current, err := b.store.GetItem(ctx, col, id)
	if err != nil {
		return nil, storeErr("get item", err)
	}
	if current.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}

	if patch.Nombre != nil {
		nombre := strings.TrimSpace(*patch.Nombre)
		if nombre == "" {
			return nil, domain.Invalid("nombre", "el nombre es obligatorio")
		}
		current.Nombre = nombre
	}
	if patch.Descripcion != nil {
		current.Descripcion = *patch.Descripcion
	}
	if patch.Activo != nil {
		current.Activo = *patch.Activo
	}

	updated, err := b.store.UpdateItem(ctx, col, current)
	if err != nil {
		return nil, storeErr("update item", err)
	}
	b.publishItem(col, ownerID, updated.ID)
	return updated, nil
}

func (b *Bridge) DeleteItem(ctx context.Context, col domain.Coleccion, ownerID string, id string) (*domain.Item, error) {
	if err := col.CheckOwner(ownerID); err != nil {
		return nil, err
	}
	removed, err := b.store.DeleteItem(ctx, col, ownerID, id)
	if err != nil {
		return nil, storeErr("delete item", err)
	}
	b.logger.Info("item deleted", "coleccion", col, "owner", ownerID, "id", id)
	b.publishItem(col, ownerID, id)
	return removed, nil
}

func (b *Bridge) publishItem(col domain.Coleccion, ownerID, id string) {
	b.pub.Publish(realtime.ListEvent(realtime.TipoItem, col, ownerID, id))
	if col == domain.Etapas {
		b.pub.Publish(realtime.BoardEvent(realtime.TipoItem, ownerID, id))
	}
}

func (b *Bridge) Board(ctx context.Context, crmID string) (*domain.Board, error) {
	if err := domain.Etapas.CheckOwner(crmID); err != nil {
		return nil, err
	}
	board, err := b.store.FetchBoard(ctx, crmID)
	if err != nil {
		return nil, storeErr("fetch board", err)
	}
	return board, nil
}

func (b *Bridge) AddLead(ctx context.Context, crmID string, nombre string, valor float64) (*domain.Lead, error) {
	if err := domain.Etapas.CheckOwner(crmID); err != nil {
		return nil, err
	}
	nombre = strings.TrimSpace(nombre)
	if nombre == "" {
		return nil, domain.Invalid("nombre", "el nombre es obligatorio")
	}
	if valor < 0 {
		return nil, domain.Invalid("valorEstimado", "el valor no puede ser negativo")
	}

	lead, err := b.store.AddLead(ctx, crmID, nombre, valor)
	if err != nil {
		return nil, storeErr("add lead", err)
	}
	b.pub.Publish(realtime.BoardEvent(realtime.TipoLead, crmID, lead.ID))
	return lead, nil
}

// MoveLead changes the stage of one lead.
func (b *Bridge) MoveLead(ctx context.Context, crmID string, leadID string, etapaID string) (*domain.Lead, error) {
	if err := domain.Etapas.CheckOwner(crmID); err != nil {
		return nil, err
	}
	if leadID == "" || etapaID == "" {
		return nil, domain.Invalid("etapaId", "faltan el lead o la etapa")
	}

	lead, err := b.store.MoveLead(ctx, crmID, leadID, etapaID)
	metrics.LeadMovesTotal.WithLabelValues(result(err)).Inc()
	if err != nil {
		b.logger.Warn("move lead failed", "crm", crmID, "lead", leadID, "etapa", etapaID, "err", err)
		return nil, storeErr("move lead", err)
	}
	b.pub.Publish(realtime.BoardEvent(realtime.TipoLead, crmID, lead.ID))
	return lead, nil
}

// storeErr keeps validation and not-found errors as they are and wraps
// everything else as a persistence failure.
func storeErr(op string, err error) error {
	if domain.IsValidation(err) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, context.Canceled) {
		return err
	}
	return domain.Persistence(op, err)
}

func result(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case domain.IsValidation(err):
		return metrics.ResultValidation
	default:
		return metrics.ResultError
	}
}
