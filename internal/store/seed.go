package store

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"git.sr.ht/~jakintosh/orden/internal/domain"
)

// Seed is the initial content of a store, usually read from a YAML file:
//
//	items:
//	  etapas:
//	    - {id: nuevo, owner: crm-1, nombre: Nuevo, orden: 1}
//	leads:
//	  - {id: l1, crm: crm-1, etapa: nuevo, nombre: Acme}
type Seed struct {
	Items map[domain.Coleccion][]*domain.Item
	Leads []*domain.Lead
}

// Importer is implemented by stores that can load a Seed.
type Importer interface {
	Import(ctx context.Context, seed *Seed) error
}

type seedItem struct {
	ID          string `yaml:"id"`
	Owner       string `yaml:"owner"`
	Nombre      string `yaml:"nombre"`
	Descripcion string `yaml:"descripcion"`
	Activo      *bool  `yaml:"activo"`
	Orden       *int   `yaml:"orden"`
}

type seedFile struct {
	Items map[string][]seedItem `yaml:"items"`
	Leads []*domain.Lead        `yaml:"leads"`
}

func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (*Seed, error) {
	var raw seedFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}

	seed := &Seed{Items: make(map[domain.Coleccion][]*domain.Item)}
	for name, entries := range raw.Items {
		col, err := domain.ParseColeccion(name)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			owner := e.Owner
			if owner == "" && col.Global() {
				owner = domain.GlobalOwner
			}
			if err := col.CheckOwner(owner); err != nil {
				return nil, fmt.Errorf("seed %s %q: %w", col, e.ID, err)
			}
			it := &domain.Item{
				ID:          e.ID,
				OwnerID:     owner,
				Nombre:      e.Nombre,
				Descripcion: e.Descripcion,
				Activo:      e.Activo == nil || *e.Activo,
				Orden:       e.Orden,
			}
			seed.Items[col] = append(seed.Items[col], it)
		}
	}

	for _, l := range raw.Leads {
		if l.CrmID == "" || l.EtapaID == "" {
			return nil, domain.Invalid("leads", "lead %q necesita crm y etapa", l.Nombre)
		}
	}
	seed.Leads = raw.Leads
	return seed, nil
}

// colecciones returns the seeded collections in a stable order.
func (s *Seed) colecciones() []domain.Coleccion {
	cols := make([]domain.Coleccion, 0, len(s.Items))
	for col := range s.Items {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i] < cols[j] })
	return cols
}
