package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/shopspring/decimal"
)

var _ repository.MovementRepository = (*MovementRepo)(nil)

const movementColumns = `id, product_id, branch_id, kind, date, created_at, quantity, remaining, unit_cost,
	total_cost, sale_price, shortfall, note, source_type, source_id, source_line, transfer_id`

const chronological = ` ORDER BY date, created_at, id`

// MovementRepo movimientos del ledger sobre PostgreSQL (usable con pool o tx).
type MovementRepo struct {
	q Querier
}

// NewMovementRepository construye el adaptador. Pasar pool o tx (Querier).
func NewMovementRepository(q Querier) *MovementRepo {
	return &MovementRepo{q: q}
}

func scanMovement(row pgx.Row) (*entity.MovementRecord, error) {
	var m entity.MovementRecord
	var kind, sourceType string
	err := row.Scan(&m.ID, &m.ProductID, &m.BranchID, &kind, &m.Date, &m.CreatedAt, &m.Quantity, &m.Remaining,
		&m.UnitCost, &m.TotalCost, &m.SalePrice, &m.Shortfall, &m.Note,
		&sourceType, &m.Source.ID, &m.Source.Line, &m.TransferID)
	if err != nil {
		return nil, err
	}
	m.Kind = entity.MovementKind(kind)
	m.Source.Type = entity.SourceType(sourceType)
	return &m, nil
}

func (r *MovementRepo) list(ctx context.Context, query string, args ...any) ([]*entity.MovementRecord, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*entity.MovementRecord
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func sourceKey(ref entity.SourceRef) *string {
	if ref.IsZero() {
		return nil
	}
	k := ref.Key()
	return &k
}

// Create persiste un movimiento. La clave de origen es única: un segundo movimiento para
// la misma referencia devuelve domain.ErrDuplicateSourceReference.
func (r *MovementRepo) Create(ctx context.Context, m *entity.MovementRecord) error {
	query := `INSERT INTO stock_movements (` + movementColumns + `, source_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := r.q.Exec(ctx, query,
		m.ID, m.ProductID, m.BranchID, string(m.Kind), m.Date, m.CreatedAt, m.Quantity, m.Remaining,
		m.UnitCost, m.TotalCost, m.SalePrice, m.Shortfall, m.Note,
		string(m.Source.Type), m.Source.ID, m.Source.Line, m.TransferID, sourceKey(m.Source),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSourceReference, m.Source.Key())
		}
		return fmt.Errorf("create movement: %w", err)
	}
	return nil
}

// GetByID obtiene un movimiento por ID.
func (r *MovementRepo) GetByID(ctx context.Context, id string) (*entity.MovementRecord, error) {
	m, err := scanMovement(r.q.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get movement: %w", err)
	}
	return m, nil
}

// OpenLayers capas con remanente, bloqueadas hasta el fin de la transacción (SELECT FOR UPDATE).
func (r *MovementRepo) OpenLayers(ctx context.Context, productID, branchID string) ([]*entity.MovementRecord, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements
		WHERE product_id = $1 AND branch_id = $2 AND kind = 'inbound' AND remaining > 0` + chronological + ` FOR UPDATE`
	list, err := r.list(ctx, query, productID, branchID)
	if err != nil {
		return nil, fmt.Errorf("open layers: %w", err)
	}
	return list, nil
}

func (r *MovementRepo) UpdateRemaining(ctx context.Context, id string, remaining decimal.Decimal) error {
	tag, err := r.q.Exec(ctx, `UPDATE stock_movements SET remaining = $2 WHERE id = $1`, id, remaining)
	if err != nil {
		return fmt.Errorf("update remaining: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: capa %s", domain.ErrNotFound, id)
	}
	return nil
}

// ListByPair movimientos del par en orden cronológico; from/to inclusivos.
func (r *MovementRepo) ListByPair(ctx context.Context, productID, branchID string, from, to *time.Time) ([]*entity.MovementRecord, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE product_id = $1 AND branch_id = $2`
	args := []any{productID, branchID}
	pos := 3
	if from != nil {
		query += fmt.Sprintf(" AND date >= $%d", pos)
		args = append(args, *from)
		pos++
	}
	if to != nil {
		query += fmt.Sprintf(" AND date <= $%d", pos)
		args = append(args, *to)
	}
	list, err := r.list(ctx, query+chronological, args...)
	if err != nil {
		return nil, fmt.Errorf("list by pair: %w", err)
	}
	return list, nil
}

func (r *MovementRepo) ListBySource(ctx context.Context, sourceType entity.SourceType, sourceID string) ([]*entity.MovementRecord, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE source_type = $1 AND source_id = $2` + chronological
	list, err := r.list(ctx, query, string(sourceType), sourceID)
	if err != nil {
		return nil, fmt.Errorf("list by source: %w", err)
	}
	return list, nil
}

func (r *MovementRepo) ListBySourceType(ctx context.Context, sourceType entity.SourceType) ([]*entity.MovementRecord, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE source_type = $1` + chronological
	list, err := r.list(ctx, query, string(sourceType))
	if err != nil {
		return nil, fmt.Errorf("list by source type: %w", err)
	}
	return list, nil
}

func (r *MovementRepo) ExistsSourceKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_movements WHERE source_key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists source key: %w", err)
	}
	return exists, nil
}

func (r *MovementRepo) SourceKeys(ctx context.Context, sourceType entity.SourceType) (map[string]struct{}, error) {
	rows, err := r.q.Query(ctx, `SELECT source_key FROM stock_movements WHERE source_type = $1 AND source_key IS NOT NULL`, string(sourceType))
	if err != nil {
		return nil, fmt.Errorf("source keys: %w", err)
	}
	defer rows.Close()
	keys := make(map[string]struct{})
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan source key: %w", err)
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

// LatestInbound última entrada del par (consumida o no); nil si no hay.
func (r *MovementRepo) LatestInbound(ctx context.Context, productID, branchID string) (*entity.MovementRecord, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements
		WHERE product_id = $1 AND branch_id = $2 AND kind = 'inbound'
		ORDER BY date DESC, created_at DESC, id DESC LIMIT 1`
	m, err := scanMovement(r.q.QueryRow(ctx, query, productID, branchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest inbound: %w", err)
	}
	return m, nil
}

func (r *MovementRepo) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM stock_movements WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete movements: %w", err)
	}
	return nil
}

func (r *MovementRepo) DeletePair(ctx context.Context, productID, branchID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM stock_movements WHERE product_id = $1 AND branch_id = $2`, productID, branchID); err != nil {
		return fmt.Errorf("delete pair: %w", err)
	}
	return nil
}

func (r *MovementRepo) Pairs(ctx context.Context) ([]repository.Pair, error) {
	rows, err := r.q.Query(ctx, `SELECT DISTINCT product_id, branch_id FROM stock_movements ORDER BY product_id, branch_id`)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	defer rows.Close()
	var pairs []repository.Pair
	for rows.Next() {
		var p repository.Pair
		if err := rows.Scan(&p.ProductID, &p.BranchID); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
