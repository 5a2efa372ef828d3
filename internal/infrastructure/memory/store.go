// Package memory implementa los puertos del ledger en memoria. Se usa como ledger de
// staging durante la reconstrucción y como doble de prueba de los casos de uso.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

var (
	_ repository.LedgerStore           = (*Store)(nil)
	_ repository.MovementRepository    = movementRepo{}
	_ repository.ConsumptionRepository = consumptionRepo{}
	_ repository.SnapshotRepository    = snapshotRepo{}
	_ repository.ProductRepository     = productRepo{}
	_ repository.TransferRepository    = transferRepo{}
)

// Store ledger completo en memoria. Run serializa las transacciones y, salvo en modo
// staging, restaura el estado previo si fn falla.
type Store struct {
	mu       sync.Mutex
	st       state
	products map[string]*entity.Product
	branches map[string]entity.Branch
	external repository.ProductRepository
	rollback bool
}

type state struct {
	movements    map[string]*entity.MovementRecord
	sourceKeys   map[string]string
	consumptions map[string][]entity.ConsumptionDetail
	snapshots    map[string]*entity.StockSnapshot
	transfers    map[string]*entity.ConversionTransfer
}

func newState() state {
	return state{
		movements:    make(map[string]*entity.MovementRecord),
		sourceKeys:   make(map[string]string),
		consumptions: make(map[string][]entity.ConsumptionDetail),
		snapshots:    make(map[string]*entity.StockSnapshot),
		transfers:    make(map[string]*entity.ConversionTransfer),
	}
}

func (s state) clone() state {
	c := newState()
	for id, m := range s.movements {
		c.movements[id] = m.Clone()
	}
	for k, id := range s.sourceKeys {
		c.sourceKeys[k] = id
	}
	for id, details := range s.consumptions {
		c.consumptions[id] = append([]entity.ConsumptionDetail(nil), details...)
	}
	for k, snap := range s.snapshots {
		cp := *snap
		c.snapshots[k] = &cp
	}
	for id, t := range s.transfers {
		cp := *t
		c.transfers[id] = &cp
	}
	return c
}

// Option configura el Store.
type Option func(*Store)

// WithProducts lee los datos maestros desde otro repositorio (ej. PostgreSQL).
func WithProducts(products repository.ProductRepository) Option {
	return func(s *Store) { s.external = products }
}

// WithoutRollback desactiva la copia de respaldo por transacción.
func WithoutRollback() Option {
	return func(s *Store) { s.rollback = false }
}

// NewStore crea un ledger vacío.
func NewStore(opts ...Option) *Store {
	s := &Store{
		st:       newState(),
		products: make(map[string]*entity.Product),
		branches: make(map[string]entity.Branch),
		rollback: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStaging ledger de staging para la reconstrucción: sin rollback por transacción
// (una falla aborta la reconstrucción completa) y con los productos del ledger real.
func NewStaging(products repository.ProductRepository) *Store {
	return NewStore(WithProducts(products), WithoutRollback())
}

// AddProduct registra datos maestros de un producto.
func (s *Store) AddProduct(p *entity.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.products[p.ID] = &cp
}

// AddBranch registra una sucursal (solo para el nombre en el listado).
func (s *Store) AddBranch(b entity.Branch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branches[b.ID] = b
}

// Products repositorio de datos maestros del store, para compartirlo con un staging.
func (s *Store) Products() repository.ProductRepository { return productRepo{s} }

// Run ejecuta fn con repositorios sobre el estado del store.
func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var backup state
	if s.rollback {
		backup = s.st.clone()
	}
	if err := fn(ctx, s.repos()); err != nil {
		if s.rollback {
			s.st = backup
		}
		return err
	}
	return nil
}

func (s *Store) repos() repository.Repositories {
	return repository.Repositories{
		Movements:    movementRepo{s},
		Consumptions: consumptionRepo{s},
		Snapshots:    snapshotRepo{s},
		Products:     productRepo{s},
		Transfers:    transferRepo{s},
	}
}

// ReplaceAll reemplaza movimientos, consumos y snapshots (los traslados son fuente y se conservan).
func (s *Store) ReplaceAll(ctx context.Context, data repository.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := newState()
	next.transfers = s.st.transfers
	for _, m := range data.Movements {
		next.movements[m.ID] = m.Clone()
		if !m.Source.IsZero() {
			next.sourceKeys[m.Source.Key()] = m.ID
		}
	}
	for _, d := range data.Consumptions {
		next.consumptions[d.OutboundID] = append(next.consumptions[d.OutboundID], d)
	}
	for _, snap := range data.Snapshots {
		cp := *snap
		next.snapshots[entity.PairKey(snap.ProductID, snap.BranchID)] = &cp
	}
	s.st = next
	return nil
}

// Dataset copia ordenada de movimientos, consumos y snapshots.
func (s *Store) Dataset(ctx context.Context) (repository.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return repository.Dataset{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var data repository.Dataset
	for _, m := range s.st.movements {
		data.Movements = append(data.Movements, m.Clone())
	}
	inventory.SortChronological(data.Movements)
	for _, m := range data.Movements {
		data.Consumptions = append(data.Consumptions, s.st.consumptions[m.ID]...)
	}
	keys := make([]string, 0, len(s.st.snapshots))
	for k := range s.st.snapshots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cp := *s.st.snapshots[k]
		data.Snapshots = append(data.Snapshots, &cp)
	}
	return data, nil
}

func (s *Store) product(ctx context.Context, id string) (*entity.Product, error) {
	if s.external != nil {
		return s.external.GetByID(ctx, id)
	}
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func inPair(m *entity.MovementRecord, productID, branchID string) bool {
	return m.ProductID == productID && m.BranchID == branchID
}

func sorted(movs []*entity.MovementRecord) []*entity.MovementRecord {
	inventory.SortChronological(movs)
	return movs
}

type movementRepo struct{ s *Store }

func (r movementRepo) Create(_ context.Context, m *entity.MovementRecord) error {
	st := &r.s.st
	if _, ok := st.movements[m.ID]; ok {
		return fmt.Errorf("%w: movimiento %s", domain.ErrConflict, m.ID)
	}
	if !m.Source.IsZero() {
		key := m.Source.Key()
		if _, ok := st.sourceKeys[key]; ok {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSourceReference, key)
		}
		st.sourceKeys[key] = m.ID
	}
	st.movements[m.ID] = m.Clone()
	return nil
}

func (r movementRepo) GetByID(_ context.Context, id string) (*entity.MovementRecord, error) {
	m, ok := r.s.st.movements[id]
	if !ok {
		return nil, nil
	}
	return m.Clone(), nil
}

func (r movementRepo) OpenLayers(_ context.Context, productID, branchID string) ([]*entity.MovementRecord, error) {
	var out []*entity.MovementRecord
	for _, m := range r.s.st.movements {
		if inPair(m, productID, branchID) && m.IsInbound() && m.Remaining.GreaterThan(decimal.Zero) {
			out = append(out, m.Clone())
		}
	}
	return sorted(out), nil
}

func (r movementRepo) UpdateRemaining(_ context.Context, id string, remaining decimal.Decimal) error {
	m, ok := r.s.st.movements[id]
	if !ok {
		return fmt.Errorf("%w: movimiento %s", domain.ErrNotFound, id)
	}
	m.Remaining = remaining
	return nil
}

func (r movementRepo) ListByPair(_ context.Context, productID, branchID string, from, to *time.Time) ([]*entity.MovementRecord, error) {
	var out []*entity.MovementRecord
	for _, m := range r.s.st.movements {
		if !inPair(m, productID, branchID) {
			continue
		}
		if from != nil && m.Date.Before(*from) {
			continue
		}
		if to != nil && m.Date.After(*to) {
			continue
		}
		out = append(out, m.Clone())
	}
	return sorted(out), nil
}

func (r movementRepo) ListBySource(_ context.Context, sourceType entity.SourceType, sourceID string) ([]*entity.MovementRecord, error) {
	var out []*entity.MovementRecord
	for _, m := range r.s.st.movements {
		if m.Source.Type == sourceType && m.Source.ID == sourceID {
			out = append(out, m.Clone())
		}
	}
	return sorted(out), nil
}

func (r movementRepo) ListBySourceType(_ context.Context, sourceType entity.SourceType) ([]*entity.MovementRecord, error) {
	var out []*entity.MovementRecord
	for _, m := range r.s.st.movements {
		if m.Source.Type == sourceType {
			out = append(out, m.Clone())
		}
	}
	return sorted(out), nil
}

func (r movementRepo) ExistsSourceKey(_ context.Context, key string) (bool, error) {
	_, ok := r.s.st.sourceKeys[key]
	return ok, nil
}

func (r movementRepo) SourceKeys(_ context.Context, sourceType entity.SourceType) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	for _, m := range r.s.st.movements {
		if m.Source.Type == sourceType {
			keys[m.Source.Key()] = struct{}{}
		}
	}
	return keys, nil
}

func (r movementRepo) LatestInbound(_ context.Context, productID, branchID string) (*entity.MovementRecord, error) {
	var latest *entity.MovementRecord
	for _, m := range r.s.st.movements {
		if !inPair(m, productID, branchID) || !m.IsInbound() {
			continue
		}
		if latest == nil || inventory.LayerLess(latest, m) {
			latest = m
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Clone(), nil
}

func (r movementRepo) Delete(_ context.Context, ids []string) error {
	st := &r.s.st
	for _, id := range ids {
		m, ok := st.movements[id]
		if !ok {
			continue
		}
		if !m.Source.IsZero() {
			delete(st.sourceKeys, m.Source.Key())
		}
		delete(st.movements, id)
	}
	return nil
}

func (r movementRepo) DeletePair(ctx context.Context, productID, branchID string) error {
	var ids []string
	for id, m := range r.s.st.movements {
		if inPair(m, productID, branchID) {
			ids = append(ids, id)
		}
	}
	return r.Delete(ctx, ids)
}

func (r movementRepo) Pairs(_ context.Context) ([]repository.Pair, error) {
	seen := make(map[string]repository.Pair)
	for _, m := range r.s.st.movements {
		p := repository.Pair{ProductID: m.ProductID, BranchID: m.BranchID}
		seen[p.Key()] = p
	}
	out := make([]repository.Pair, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

type consumptionRepo struct{ s *Store }

func (r consumptionRepo) CreateBatch(_ context.Context, details []entity.ConsumptionDetail) error {
	for _, d := range details {
		r.s.st.consumptions[d.OutboundID] = append(r.s.st.consumptions[d.OutboundID], d)
	}
	return nil
}

func (r consumptionRepo) ListByOutbound(_ context.Context, outboundIDs []string) ([]entity.ConsumptionDetail, error) {
	var out []entity.ConsumptionDetail
	for _, id := range outboundIDs {
		out = append(out, r.s.st.consumptions[id]...)
	}
	return out, nil
}

func (r consumptionRepo) DeleteByOutbound(_ context.Context, outboundIDs []string) error {
	for _, id := range outboundIDs {
		delete(r.s.st.consumptions, id)
	}
	return nil
}

type snapshotRepo struct{ s *Store }

func (r snapshotRepo) Get(_ context.Context, productID, branchID string) (*entity.StockSnapshot, error) {
	snap, ok := r.s.st.snapshots[entity.PairKey(productID, branchID)]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (r snapshotRepo) Upsert(_ context.Context, snap *entity.StockSnapshot) error {
	cp := *snap
	r.s.st.snapshots[entity.PairKey(snap.ProductID, snap.BranchID)] = &cp
	return nil
}

func (r snapshotRepo) Delete(_ context.Context, productID, branchID string) error {
	delete(r.s.st.snapshots, entity.PairKey(productID, branchID))
	return nil
}

func (r snapshotRepo) List(_ context.Context) ([]*entity.StockSnapshot, error) {
	keys := make([]string, 0, len(r.s.st.snapshots))
	for k := range r.s.st.snapshots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*entity.StockSnapshot, 0, len(keys))
	for _, k := range keys {
		cp := *r.s.st.snapshots[k]
		out = append(out, &cp)
	}
	return out, nil
}

// rows filas filtradas (sin paginar) ordenadas por SKU y sucursal.
func (r snapshotRepo) rows(ctx context.Context, filter repository.StockFilter) ([]entity.StockRow, error) {
	caser := cases.Fold()
	needle := caser.String(strings.TrimSpace(filter.Search))
	snaps, _ := r.List(ctx)
	rows := make([]entity.StockRow, 0, len(snaps))
	for _, snap := range snaps {
		if filter.ProductID != "" && snap.ProductID != filter.ProductID {
			continue
		}
		if filter.BranchID != "" && snap.BranchID != filter.BranchID {
			continue
		}
		row := entity.StockRow{StockSnapshot: *snap}
		p, err := r.s.product(ctx, snap.ProductID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			row.SKU, row.ProductName, row.Unit, row.ReorderPoint = p.SKU, p.Name, p.Unit, p.ReorderPoint
		}
		if needle != "" &&
			!strings.Contains(caser.String(row.SKU), needle) &&
			!strings.Contains(caser.String(row.ProductName), needle) {
			continue
		}
		row.BranchName = r.s.branches[snap.BranchID].Name
		row.IsLowStock = row.ReorderPoint.GreaterThan(decimal.Zero) &&
			row.CurrentStock.GreaterThanOrEqual(decimal.Zero) &&
			row.CurrentStock.LessThanOrEqual(row.ReorderPoint)
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].SKU != rows[j].SKU {
			return rows[i].SKU < rows[j].SKU
		}
		if rows[i].ProductID != rows[j].ProductID {
			return rows[i].ProductID < rows[j].ProductID
		}
		return rows[i].BranchID < rows[j].BranchID
	})
	return rows, nil
}

func (r snapshotRepo) Query(ctx context.Context, filter repository.StockFilter) ([]entity.StockRow, int, error) {
	rows, err := r.rows(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total := len(rows)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < total {
		end = start + filter.Limit
	}
	return rows[start:end], total, nil
}

func (r snapshotRepo) Summary(ctx context.Context, filter repository.StockFilter) (repository.StockSummary, error) {
	rows, err := r.rows(ctx, filter)
	if err != nil {
		return repository.StockSummary{}, err
	}
	sum := repository.StockSummary{StockByUnit: make(map[string]decimal.Decimal)}
	for _, row := range rows {
		sum.TotalItems++
		sum.StockByUnit[row.Unit] = sum.StockByUnit[row.Unit].Add(row.CurrentStock)
		if row.IsLowStock {
			sum.LowStockCount++
		}
		if row.HasNegative {
			sum.NegativeCount++
		}
	}
	return sum, nil
}

func (r snapshotRepo) LowStock(ctx context.Context, branchID string) ([]entity.StockRow, error) {
	rows, err := r.rows(ctx, repository.StockFilter{BranchID: branchID})
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, row := range rows {
		if row.ReorderPoint.GreaterThan(decimal.Zero) && row.CurrentStock.LessThanOrEqual(row.ReorderPoint) {
			out = append(out, row)
		}
	}
	return out, nil
}

type productRepo struct{ s *Store }

func (r productRepo) GetByID(ctx context.Context, id string) (*entity.Product, error) {
	return r.s.product(ctx, id)
}

type transferRepo struct{ s *Store }

func (r transferRepo) Create(_ context.Context, t *entity.ConversionTransfer) error {
	if _, ok := r.s.st.transfers[t.ID]; ok {
		return fmt.Errorf("%w: traslado %s", domain.ErrDuplicateSourceReference, t.ID)
	}
	cp := *t
	r.s.st.transfers[t.ID] = &cp
	return nil
}

func (r transferRepo) GetByID(_ context.Context, id string) (*entity.ConversionTransfer, error) {
	t, ok := r.s.st.transfers[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r transferRepo) Delete(_ context.Context, id string) error {
	delete(r.s.st.transfers, id)
	return nil
}

func (r transferRepo) List(_ context.Context) ([]*entity.ConversionTransfer, error) {
	out := make([]*entity.ConversionTransfer, 0, len(r.s.st.transfers))
	for _, t := range r.s.st.transfers {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}
