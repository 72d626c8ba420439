package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"git.sr.ht/~jakintosh/orden/internal/domain"
	"git.sr.ht/~jakintosh/orden/internal/reorder"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	items   map[domain.Coleccion][]*domain.Item
	leads   []*domain.Lead
	movedAt map[string]int64
	clock   int64

	// failNext makes the next write fail; used by tests that exercise recovery.
	failNext error
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items:   make(map[domain.Coleccion][]*domain.Item),
		movedAt: make(map[string]int64),
	}
}

func (s *InMemoryStore) Close() error {
	return nil
}

// FailNextWrite makes the next write return err without applying anything.
func (s *InMemoryStore) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *InMemoryStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *InMemoryStore) FetchCollection(ctx context.Context, col domain.Coleccion, ownerID string) ([]*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := s.owned(col, ownerID)
	out := make([]*domain.Item, len(owned))
	for i, it := range owned {
		out[i] = it.Clone()
	}
	return out, nil
}

func (s *InMemoryStore) owned(col domain.Coleccion, ownerID string) []*domain.Item {
	var out []*domain.Item
	for _, it := range s.items[col] {
		if it.OwnerID == ownerID {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Orden, out[j].Orden
		if a == nil || b == nil {
			return a != nil
		}
		return *a < *b
	})
	return out
}

func (s *InMemoryStore) PersistOrder(ctx context.Context, col domain.Coleccion, ownerID string, updates []domain.RankUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return domain.Persistence("persist order", err)
	}

	// check every id before touching anything
	lookup := make(map[string]*domain.Item)
	for _, it := range s.owned(col, ownerID) {
		lookup[it.ID] = it
	}
	for _, u := range updates {
		if _, ok := lookup[u.ID]; !ok {
			return domain.Invalid("items", "%s %q no pertenece a %q", col, u.ID, ownerID)
		}
	}
	if len(updates) != len(lookup) {
		return domain.Invalid("items", "se esperaban %d elementos de %s, llegaron %d", len(lookup), col, len(updates))
	}

	for _, u := range updates {
		lookup[u.ID].SetRank(u.Orden)
	}
	return nil
}

func (s *InMemoryStore) GetItem(ctx context.Context, col domain.Coleccion, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items[col] {
		if it.ID == id {
			return it.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%s %q: %w", col, id, domain.ErrNotFound)
}

func (s *InMemoryStore) AddItem(ctx context.Context, col domain.Coleccion, ownerID string, nombre string) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return nil, domain.Persistence("add item", err)
	}

	owned := s.owned(col, ownerID)
	last := len(owned) + domain.RankBase - 1
	for _, it := range owned {
		last = max(last, it.Rank())
	}

	item := &domain.Item{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Nombre:  nombre,
		Activo:  true,
	}
	item.SetRank(last + 1)
	s.items[col] = append(s.items[col], item)
	return item.Clone(), nil
}

func (s *InMemoryStore) UpdateItem(ctx context.Context, col domain.Coleccion, item *domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return nil, domain.Persistence("update item", err)
	}

	for _, it := range s.items[col] {
		if it.ID == item.ID && it.OwnerID == item.OwnerID {
			it.Nombre = item.Nombre
			it.Descripcion = item.Descripcion
			it.Activo = item.Activo
			return it.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%s %q: %w", col, item.ID, domain.ErrNotFound)
}

func (s *InMemoryStore) DeleteItem(ctx context.Context, col domain.Coleccion, ownerID string, id string) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return nil, domain.Persistence("delete item", err)
	}

	if col == domain.Etapas {
		for _, l := range s.leads {
			if l.CrmID == ownerID && l.EtapaID == id {
				return nil, domain.Invalid("etapa", "la etapa %q todavia tiene leads", id)
			}
		}
	}

	for i, it := range s.items[col] {
		if it.ID == id && it.OwnerID == ownerID {
			removed := it
			s.items[col] = append(s.items[col][:i], s.items[col][i+1:]...)
			reorder.AssignRanks(s.owned(col, ownerID))
			return removed.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%s %q: %w", col, id, domain.ErrNotFound)
}

func (s *InMemoryStore) FetchBoard(ctx context.Context, crmID string) (*domain.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	etapas := reorder.NormalizeLoaded(domain.CloneItems(s.owned(domain.Etapas, crmID)))
	board := &domain.Board{CrmID: crmID, Columns: make([]domain.Column, len(etapas))}
	for i, e := range etapas {
		board.Columns[i] = domain.Column{Etapa: e, Leads: []*domain.Lead{}}
	}

	leads := make([]*domain.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		if l.CrmID == crmID {
			leads = append(leads, l)
		}
	}
	// most recently moved first
	sort.SliceStable(leads, func(i, j int) bool {
		return s.movedAt[leads[i].ID] > s.movedAt[leads[j].ID]
	})
	for _, l := range leads {
		if col := board.Column(l.EtapaID); col != nil {
			col.Leads = append(col.Leads, l.Clone())
		}
	}
	return board, nil
}

func (s *InMemoryStore) AddLead(ctx context.Context, crmID string, nombre string, valor float64) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return nil, domain.Persistence("add lead", err)
	}

	etapas := s.owned(domain.Etapas, crmID)
	if len(etapas) == 0 {
		return nil, domain.Invalid("etapa", "el CRM %q no tiene etapas de pipeline", crmID)
	}

	lead := &domain.Lead{
		ID:            uuid.NewString(),
		CrmID:         crmID,
		EtapaID:       etapas[0].ID,
		Nombre:        nombre,
		ValorEstimado: valor,
	}
	s.leads = append(s.leads, lead)
	s.touch(lead.ID)
	return lead.Clone(), nil
}

func (s *InMemoryStore) MoveLead(ctx context.Context, crmID string, leadID string, etapaID string) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return nil, domain.Persistence("move lead", err)
	}

	found := false
	for _, e := range s.owned(domain.Etapas, crmID) {
		if e.ID == etapaID {
			found = true
			break
		}
	}
	if !found {
		return nil, domain.Invalid("etapa", "la etapa %q no pertenece al CRM %q", etapaID, crmID)
	}

	for _, l := range s.leads {
		if l.ID == leadID && l.CrmID == crmID {
			l.EtapaID = etapaID
			s.touch(l.ID)
			return l.Clone(), nil
		}
	}
	return nil, fmt.Errorf("lead %q: %w", leadID, domain.ErrNotFound)
}

func (s *InMemoryStore) touch(leadID string) {
	s.clock++
	s.movedAt[leadID] = s.clock
}

// Import loads seed data, keeping the ids and ranks it carries.
func (s *InMemoryStore) Import(ctx context.Context, seed *Seed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, col := range seed.colecciones() {
		for _, it := range seed.Items[col] {
			if it.ID == "" {
				it.ID = uuid.NewString()
			}
			s.items[col] = append(s.items[col], it.Clone())
		}
	}
	for _, l := range seed.Leads {
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		s.leads = append(s.leads, l.Clone())
	}
	// earlier entries in the file sort first within a column
	for i := len(seed.Leads) - 1; i >= 0; i-- {
		s.touch(seed.Leads[i].ID)
	}
	return nil
}
