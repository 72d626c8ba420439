package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.sr.ht/~jakintosh/orden/internal/domain"
	"git.sr.ht/~jakintosh/orden/internal/reorder"
)

// dialect carries the per-driver parts of the schema.
type dialect struct {
	name       string
	migrations []string
}

// SQLStore implements domain.Store on database/sql. Every collection lives in
// a single items table keyed by (coleccion, id).
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", d.name, err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, stmt := range s.dialect.migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) FetchCollection(ctx context.Context, col domain.Coleccion, ownerID string) ([]*domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id,
			owner_id,
			nombre,
			descripcion,
			activo,
			orden
		FROM items
		WHERE coleccion = ? AND owner_id = ?
		ORDER BY (orden IS NULL), orden ASC, creado ASC, id ASC`,
		string(col),
		ownerID,
	)
	if err != nil {
		return nil, domain.Persistence("fetch collection", err)
	}
	defer rows.Close()

	items := []*domain.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, domain.Persistence("fetch collection", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("fetch collection", err)
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*domain.Item, error) {
	var (
		it          domain.Item
		descripcion sql.NullString
		activo      int
		orden       sql.NullInt64
	)
	if err := row.Scan(
		&it.ID,
		&it.OwnerID,
		&it.Nombre,
		&descripcion,
		&activo,
		&orden,
	); err != nil {
		return nil, err
	}
	it.Descripcion = descripcion.String
	it.Activo = activo != 0
	if orden.Valid {
		it.SetRank(int(orden.Int64))
	}
	return &it, nil
}

func (s *SQLStore) PersistOrder(ctx context.Context, col domain.Coleccion, ownerID string, updates []domain.RankUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Persistence("persist order", err)
	}
	defer tx.Rollback()

	ids := make([]any, 0, len(updates)+2)
	ids = append(ids, string(col), ownerID)
	for _, u := range updates {
		ids = append(ids, u.ID)
	}

	var owned int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM items
		WHERE coleccion = ? AND owner_id = ? AND id IN (`+placeholderList(len(updates))+`)`,
		ids...,
	).Scan(&owned); err != nil {
		return domain.Persistence("persist order", err)
	}
	if owned != len(updates) {
		return domain.Invalid("items", "uno o mas elementos de %s no pertenecen a %q", col, ownerID)
	}

	var total int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM items
		WHERE coleccion = ? AND owner_id = ?`,
		string(col),
		ownerID,
	).Scan(&total); err != nil {
		return domain.Persistence("persist order", err)
	}
	if total != len(updates) {
		return domain.Invalid("items", "se esperaban %d elementos de %s, llegaron %d", total, col, len(updates))
	}

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `
			UPDATE items
			SET orden = ?
			WHERE coleccion = ? AND id = ? AND owner_id = ?`,
			u.Orden,
			string(col),
			u.ID,
			ownerID,
		); err != nil {
			return domain.Persistence("persist order", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Persistence("persist order", err)
	}
	return nil
}

func (s *SQLStore) GetItem(ctx context.Context, col domain.Coleccion, id string) (*domain.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			id,
			owner_id,
			nombre,
			descripcion,
			activo,
			orden
		FROM items
		WHERE coleccion = ? AND id = ?`,
		string(col),
		id,
	)
	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %q: %w", col, id, domain.ErrNotFound)
		}
		return nil, domain.Persistence("get item", err)
	}
	return it, nil
}

func (s *SQLStore) AddItem(ctx context.Context, col domain.Coleccion, ownerID string, nombre string) (*domain.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Persistence("add item", err)
	}
	defer tx.Rollback()

	var (
		maxOrder sql.NullInt64
		count    int
	)
	if err := tx.QueryRowContext(ctx, `
		SELECT MAX(orden), COUNT(*)
		FROM items
		WHERE coleccion = ? AND owner_id = ?`,
		string(col),
		ownerID,
	).Scan(&maxOrder, &count); err != nil {
		return nil, domain.Persistence("add item", err)
	}
	// unranked rows still occupy a position
	last := count + domain.RankBase - 1
	if maxOrder.Valid {
		last = max(last, int(maxOrder.Int64))
	}
	orden := last + 1

	item := &domain.Item{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Nombre:  nombre,
		Activo:  true,
	}
	item.SetRank(orden)
	if err := insertItem(ctx, tx, col, item, s.now()); err != nil {
		return nil, domain.Persistence("add item", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.Persistence("add item", err)
	}
	return item, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertItem(ctx context.Context, exec execer, col domain.Coleccion, it *domain.Item, at time.Time) error {
	var orden any
	if it.Orden != nil {
		orden = *it.Orden
	}
	_, err := exec.ExecContext(ctx, `
		INSERT INTO items (coleccion, id, owner_id, nombre, descripcion, activo, orden, creado)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(col),
		it.ID,
		it.OwnerID,
		it.Nombre,
		it.Descripcion,
		boolInt(it.Activo),
		orden,
		at.UnixNano(),
	)
	return err
}

func (s *SQLStore) UpdateItem(ctx context.Context, col domain.Coleccion, item *domain.Item) (*domain.Item, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET nombre = ?,
			descripcion = ?,
			activo = ?
		WHERE coleccion = ? AND id = ? AND owner_id = ?`,
		item.Nombre,
		item.Descripcion,
		boolInt(item.Activo),
		string(col),
		item.ID,
		item.OwnerID,
	)
	if err != nil {
		return nil, domain.Persistence("update item", err)
	}
	// MySQL reports zero affected rows when nothing changed, so confirm by reading back
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := s.GetItem(ctx, col, item.ID)
		if err != nil {
			return nil, err
		}
		if current.OwnerID != item.OwnerID {
			return nil, fmt.Errorf("%s %q: %w", col, item.ID, domain.ErrNotFound)
		}
		return current, nil
	}
	return s.GetItem(ctx, col, item.ID)
}

func (s *SQLStore) DeleteItem(ctx context.Context, col domain.Coleccion, ownerID string, id string) (*domain.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Persistence("delete item", err)
	}
	defer tx.Rollback()

	removed, err := scanItem(tx.QueryRowContext(ctx, `
		SELECT
			id,
			owner_id,
			nombre,
			descripcion,
			activo,
			orden
		FROM items
		WHERE coleccion = ? AND id = ? AND owner_id = ?`,
		string(col),
		id,
		ownerID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %q: %w", col, id, domain.ErrNotFound)
		}
		return nil, domain.Persistence("delete item", err)
	}

	if col == domain.Etapas {
		var leads int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*)
			FROM leads
			WHERE crm_id = ? AND etapa_id = ?`,
			ownerID,
			id,
		).Scan(&leads); err != nil {
			return nil, domain.Persistence("delete item", err)
		}
		if leads > 0 {
			return nil, domain.Invalid("etapa", "la etapa %q todavia tiene leads", id)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM items
		WHERE coleccion = ? AND id = ? AND owner_id = ?`,
		string(col),
		id,
		ownerID,
	); err != nil {
		return nil, domain.Persistence("delete item", err)
	}

	if err := compactTx(ctx, tx, col, ownerID); err != nil {
		return nil, domain.Persistence("delete item", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.Persistence("delete item", err)
	}
	return removed, nil
}

// compactTx rewrites the ranks of an owner's items to RankBase..n.
func compactTx(ctx context.Context, tx *sql.Tx, col domain.Coleccion, ownerID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id
		FROM items
		WHERE coleccion = ? AND owner_id = ?
		ORDER BY (orden IS NULL), orden ASC, creado ASC, id ASC`,
		string(col),
		ownerID,
	)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE items
			SET orden = ?
			WHERE coleccion = ? AND id = ?`,
			i+domain.RankBase,
			string(col),
			id,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) FetchBoard(ctx context.Context, crmID string) (*domain.Board, error) {
	etapas, err := s.FetchCollection(ctx, domain.Etapas, crmID)
	if err != nil {
		return nil, err
	}
	etapas = reorder.NormalizeLoaded(etapas)

	board := &domain.Board{CrmID: crmID, Columns: make([]domain.Column, len(etapas))}
	for i, e := range etapas {
		board.Columns[i] = domain.Column{Etapa: e, Leads: []*domain.Lead{}}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id,
			crm_id,
			etapa_id,
			nombre,
			valor_estimado
		FROM leads
		WHERE crm_id = ?
		ORDER BY movido_en DESC, id ASC`,
		crmID,
	)
	if err != nil {
		return nil, domain.Persistence("fetch board", err)
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, domain.Persistence("fetch board", err)
		}
		if col := board.Column(l.EtapaID); col != nil {
			col.Leads = append(col.Leads, l)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("fetch board", err)
	}
	return board, nil
}

func scanLead(row scanner) (*domain.Lead, error) {
	var l domain.Lead
	if err := row.Scan(
		&l.ID,
		&l.CrmID,
		&l.EtapaID,
		&l.Nombre,
		&l.ValorEstimado,
	); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLStore) AddLead(ctx context.Context, crmID string, nombre string, valor float64) (*domain.Lead, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Persistence("add lead", err)
	}
	defer tx.Rollback()

	var etapaID string
	if err := tx.QueryRowContext(ctx, `
		SELECT id
		FROM items
		WHERE coleccion = ? AND owner_id = ?
		ORDER BY (orden IS NULL), orden ASC, creado ASC, id ASC
		LIMIT 1`,
		string(domain.Etapas),
		crmID,
	).Scan(&etapaID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Invalid("etapa", "el CRM %q no tiene etapas de pipeline", crmID)
		}
		return nil, domain.Persistence("add lead", err)
	}

	lead := &domain.Lead{
		ID:            uuid.NewString(),
		CrmID:         crmID,
		EtapaID:       etapaID,
		Nombre:        nombre,
		ValorEstimado: valor,
	}
	if err := insertLead(ctx, tx, lead, s.now()); err != nil {
		return nil, domain.Persistence("add lead", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.Persistence("add lead", err)
	}
	return lead, nil
}

func insertLead(ctx context.Context, exec execer, l *domain.Lead, at time.Time) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO leads (id, crm_id, etapa_id, nombre, valor_estimado, movido_en)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID,
		l.CrmID,
		l.EtapaID,
		l.Nombre,
		l.ValorEstimado,
		at.UnixNano(),
	)
	return err
}

func (s *SQLStore) MoveLead(ctx context.Context, crmID string, leadID string, etapaID string) (*domain.Lead, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Persistence("move lead", err)
	}
	defer tx.Rollback()

	var etapas int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM items
		WHERE coleccion = ? AND owner_id = ? AND id = ?`,
		string(domain.Etapas),
		crmID,
		etapaID,
	).Scan(&etapas); err != nil {
		return nil, domain.Persistence("move lead", err)
	}
	if etapas == 0 {
		return nil, domain.Invalid("etapa", "la etapa %q no pertenece al CRM %q", etapaID, crmID)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE leads
		SET etapa_id = ?,
			movido_en = ?
		WHERE id = ? AND crm_id = ?`,
		etapaID,
		s.now().UnixNano(),
		leadID,
		crmID,
	)
	if err != nil {
		return nil, domain.Persistence("move lead", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("lead %q: %w", leadID, domain.ErrNotFound)
	}

	lead, err := scanLead(tx.QueryRowContext(ctx, `
		SELECT
			id,
			crm_id,
			etapa_id,
			nombre,
			valor_estimado
		FROM leads
		WHERE id = ?`,
		leadID,
	))
	if err != nil {
		return nil, domain.Persistence("move lead", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.Persistence("move lead", err)
	}
	return lead, nil
}

// Import loads seed data in one transaction, keeping the ids and ranks it
// carries. Existing rows with the same key are left alone.
func (s *SQLStore) Import(ctx context.Context, seed *Seed) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	at := s.now()
	for _, col := range seed.colecciones() {
		for i, it := range seed.Items[col] {
			if it.ID == "" {
				it.ID = uuid.NewString()
			}
			var exists int
			if err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*)
				FROM items
				WHERE coleccion = ? AND id = ?`,
				string(col),
				it.ID,
			).Scan(&exists); err != nil {
				return err
			}
			if exists > 0 {
				continue
			}
			// keep file order for unranked rows
			if err := insertItem(ctx, tx, col, it, at.Add(time.Duration(i))); err != nil {
				return fmt.Errorf("seed %s %q: %w", col, it.ID, err)
			}
		}
	}

	for i, l := range seed.Leads {
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads WHERE id = ?`, l.ID).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			continue
		}
		// earlier entries in the file sort first within a column
		if err := insertLead(ctx, tx, l, at.Add(-time.Duration(i))); err != nil {
			return fmt.Errorf("seed lead %q: %w", l.ID, err)
		}
	}

	return tx.Commit()
}

func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ",")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
