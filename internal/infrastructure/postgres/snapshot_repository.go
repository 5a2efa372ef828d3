package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/shopspring/decimal"
)

var _ repository.SnapshotRepository = (*SnapshotRepo)(nil)

const snapshotColumns = `product_id, branch_id, current_stock, stock_in_total, stock_out_total, unit_cost,
	sale_price, margin_pct, stock_value, has_negative, last_movement_at`

// SnapshotRepo proyección materializada stock_snapshots.
type SnapshotRepo struct {
	q Querier
}

// NewSnapshotRepository construye el adaptador de snapshots. Pasar pool o tx (Querier).
func NewSnapshotRepository(q Querier) *SnapshotRepo {
	return &SnapshotRepo{q: q}
}

func scanSnapshot(row pgx.Row, s *entity.StockSnapshot, extra ...any) error {
	dest := []any{&s.ProductID, &s.BranchID, &s.CurrentStock, &s.StockInTotal, &s.StockOutTotal, &s.UnitCost,
		&s.SalePrice, &s.MarginPct, &s.StockValue, &s.HasNegative, &s.LastMovementAt}
	return row.Scan(append(dest, extra...)...)
}

func (r *SnapshotRepo) Get(ctx context.Context, productID, branchID string) (*entity.StockSnapshot, error) {
	var s entity.StockSnapshot
	err := scanSnapshot(r.q.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM stock_snapshots
		WHERE product_id = $1 AND branch_id = $2`, productID, branchID), &s)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return &s, nil
}

// Upsert inserta o reemplaza el snapshot del par.
func (r *SnapshotRepo) Upsert(ctx context.Context, s *entity.StockSnapshot) error {
	query := `
		INSERT INTO stock_snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (product_id, branch_id) DO UPDATE SET
			current_stock = EXCLUDED.current_stock,
			stock_in_total = EXCLUDED.stock_in_total,
			stock_out_total = EXCLUDED.stock_out_total,
			unit_cost = EXCLUDED.unit_cost,
			sale_price = EXCLUDED.sale_price,
			margin_pct = EXCLUDED.margin_pct,
			stock_value = EXCLUDED.stock_value,
			has_negative = EXCLUDED.has_negative,
			last_movement_at = EXCLUDED.last_movement_at`
	_, err := r.q.Exec(ctx, query, s.ProductID, s.BranchID, s.CurrentStock, s.StockInTotal, s.StockOutTotal,
		s.UnitCost, s.SalePrice, s.MarginPct, s.StockValue, s.HasNegative, s.LastMovementAt)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (r *SnapshotRepo) Delete(ctx context.Context, productID, branchID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM stock_snapshots WHERE product_id = $1 AND branch_id = $2`, productID, branchID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (r *SnapshotRepo) List(ctx context.Context) ([]*entity.StockSnapshot, error) {
	rows, err := r.q.Query(ctx, `SELECT `+snapshotColumns+` FROM stock_snapshots ORDER BY product_id, branch_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()
	var list []*entity.StockSnapshot
	for rows.Next() {
		var s entity.StockSnapshot
		if err := scanSnapshot(rows, &s); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		list = append(list, &s)
	}
	return list, rows.Err()
}

const rowSelect = `SELECT s.product_id, s.branch_id, s.current_stock, s.stock_in_total, s.stock_out_total, s.unit_cost,
	s.sale_price, s.margin_pct, s.stock_value, s.has_negative, s.last_movement_at,
	COALESCE(p.sku, ''), COALESCE(p.name, ''), COALESCE(p.unit, ''), COALESCE(b.name, ''), COALESCE(p.reorder_point, 0)
	FROM stock_snapshots s
	LEFT JOIN products p ON p.id = s.product_id
	LEFT JOIN branches b ON b.id = s.branch_id`

// where arma el filtro común de Query y Summary.
func where(filter repository.StockFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		conds = append(conds, fmt.Sprintf("s.product_id = $%d", len(args)))
	}
	if filter.BranchID != "" {
		args = append(args, filter.BranchID)
		conds = append(conds, fmt.Sprintf("s.branch_id = $%d", len(args)))
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		args = append(args, "%"+q+"%")
		conds = append(conds, fmt.Sprintf("(p.name ILIKE $%d OR p.sku ILIKE $%d)", len(args), len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *SnapshotRepo) rows(ctx context.Context, query string, args ...any) ([]entity.StockRow, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []entity.StockRow
	for rows.Next() {
		var row entity.StockRow
		if err := scanSnapshot(rows, &row.StockSnapshot, &row.SKU, &row.ProductName, &row.Unit, &row.BranchName, &row.ReorderPoint); err != nil {
			return nil, fmt.Errorf("scan stock row: %w", err)
		}
		row.IsLowStock = row.ReorderPoint.GreaterThan(decimal.Zero) &&
			row.CurrentStock.GreaterThanOrEqual(decimal.Zero) &&
			row.CurrentStock.LessThanOrEqual(row.ReorderPoint)
		list = append(list, row)
	}
	return list, rows.Err()
}

// Query filas paginadas ordenadas por SKU, producto y sucursal, más el total sin paginar.
func (r *SnapshotRepo) Query(ctx context.Context, filter repository.StockFilter) ([]entity.StockRow, int, error) {
	cond, args := where(filter)
	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM stock_snapshots s LEFT JOIN products p ON p.id = s.product_id`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count stock rows: %w", err)
	}
	query := rowSelect + cond + ` ORDER BY COALESCE(p.sku, ''), s.product_id, s.branch_id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	list, err := r.rows(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query stock: %w", err)
	}
	return list, total, nil
}

func (r *SnapshotRepo) Summary(ctx context.Context, filter repository.StockFilter) (repository.StockSummary, error) {
	cond, args := where(filter)
	query := `
		SELECT COALESCE(p.unit, ''), COUNT(*), COALESCE(SUM(s.current_stock), 0),
			COUNT(*) FILTER (WHERE p.reorder_point > 0 AND s.current_stock >= 0 AND s.current_stock <= p.reorder_point),
			COUNT(*) FILTER (WHERE s.has_negative)
		FROM stock_snapshots s LEFT JOIN products p ON p.id = s.product_id` + cond + `
		GROUP BY COALESCE(p.unit, '')`
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return repository.StockSummary{}, fmt.Errorf("stock summary: %w", err)
	}
	defer rows.Close()
	sum := repository.StockSummary{StockByUnit: make(map[string]decimal.Decimal)}
	for rows.Next() {
		var unit string
		var items, low, negative int
		var stock decimal.Decimal
		if err := rows.Scan(&unit, &items, &stock, &low, &negative); err != nil {
			return repository.StockSummary{}, fmt.Errorf("scan summary: %w", err)
		}
		sum.TotalItems += items
		sum.StockByUnit[unit] = stock
		sum.LowStockCount += low
		sum.NegativeCount += negative
	}
	return sum, rows.Err()
}

// LowStock pares con punto de reorden configurado y stock igual o menor (negativos incluidos).
func (r *SnapshotRepo) LowStock(ctx context.Context, branchID string) ([]entity.StockRow, error) {
	query := rowSelect + ` WHERE p.reorder_point > 0 AND s.current_stock <= p.reorder_point`
	var args []any
	if branchID != "" {
		query += ` AND s.branch_id = $1`
		args = append(args, branchID)
	}
	list, err := r.rows(ctx, query+` ORDER BY COALESCE(p.sku, ''), s.branch_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("low stock: %w", err)
	}
	return list, nil
}
