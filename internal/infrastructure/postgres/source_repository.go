package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/jhoicas/Inventario-ledger/internal/domain/source"
)

var _ repository.SourceReader = (*SourceRepo)(nil)

// SourceRepo lee las transacciones confirmadas de los flujos externos (compras, producción,
// ventas, consignación y conteo físico). Solo filas en estado final.
type SourceRepo struct {
	q Querier
}

// NewSourceRepository construye el lector. Pasar pool (no necesita transacción).
func NewSourceRepository(q Querier) *SourceRepo {
	return &SourceRepo{q: q}
}

type sourceQuery struct {
	sql  string
	scan func(pgx.Rows) (source.Event, error)
}

var sourceQueries = map[entity.SourceType]sourceQuery{
	entity.SourcePurchase: {
		sql: `SELECT receipt_id, line, product_id, branch_id, received_at, quantity, unit_cost, sale_price, note
			FROM purchase_receipt_lines WHERE status = 'confirmed' ORDER BY received_at, receipt_id, line`,
		scan: func(rows pgx.Rows) (source.Event, error) {
			var e source.PurchaseReceipt
			err := rows.Scan(&e.ReceiptID, &e.Line, &e.ProductID, &e.BranchID, &e.Date, &e.Quantity, &e.UnitCost, &e.SalePrice, &e.Note)
			return e, err
		},
	},
	entity.SourceProduction: {
		sql: `SELECT id, product_id, branch_id, completed_at, quantity, unit_cost, note
			FROM production_orders WHERE status = 'completed' ORDER BY completed_at, id`,
		scan: func(rows pgx.Rows) (source.Event, error) {
			var e source.ProductionOutput
			err := rows.Scan(&e.ProductionID, &e.ProductID, &e.BranchID, &e.Date, &e.Quantity, &e.UnitCost, &e.Note)
			return e, err
		},
	},
	entity.SourceProductionMaterial: {
		sql: `SELECT m.production_id, m.line, m.product_id, m.branch_id, o.completed_at, m.quantity, m.note
			FROM production_materials m JOIN production_orders o ON o.id = m.production_id
			WHERE o.status = 'completed' ORDER BY o.completed_at, m.production_id, m.line`,
		scan: func(rows pgx.Rows) (source.Event, error) {
			var e source.ProductionMaterial
			err := rows.Scan(&e.ProductionID, &e.Line, &e.ProductID, &e.BranchID, &e.Date, &e.Quantity, &e.Note)
			return e, err
		},
	},
	entity.SourceSale: {
		sql: `SELECT sale_id, line, product_id, branch_id, invoiced_at, quantity, unit_price, note
			FROM sale_lines WHERE status = 'invoiced' ORDER BY invoiced_at, sale_id, line`,
		scan: func(rows pgx.Rows) (source.Event, error) {
			var e source.SaleLine
			err := rows.Scan(&e.SaleID, &e.Line, &e.ProductID, &e.BranchID, &e.Date, &e.Quantity, &e.UnitPrice, &e.Note)
			return e, err
		},
	},
	entity.SourceConsignment: {
		sql: `SELECT consignment_id, line, product_id, branch_id, sold_at, quantity, unit_price, note
			FROM consignment_sale_lines WHERE status = 'finalized' ORDER BY sold_at, consignment_id, line`,
		scan: func(rows pgx.Rows) (source.Event, error) {
			var e source.ConsignmentSale
			err := rows.Scan(&e.ConsignmentID, &e.Line, &e.ProductID, &e.BranchID, &e.Date, &e.Quantity, &e.UnitPrice, &e.Note)
			return e, err
		},
	},
	entity.SourceOpname: {
		sql: `SELECT opname_id, product_id, branch_id, counted_at, counted, system, counted - system, unit_cost, note
			FROM opname_lines WHERE status = 'approved' ORDER BY counted_at, opname_id, product_id`,
		scan: func(rows pgx.Rows) (source.Event, error) {
			var e source.OpnameAdjustment
			err := rows.Scan(&e.OpnameID, &e.ProductID, &e.BranchID, &e.Date, &e.Counted, &e.System, &e.Difference, &e.UnitCost, &e.Note)
			return e, err
		},
	},
}

// Load eventos confirmados de un tipo de origen. Manuales y traslados viven en el ledger y
// no tienen tabla externa: devuelven lista vacía.
func (r *SourceRepo) Load(ctx context.Context, sourceType entity.SourceType) ([]source.Event, error) {
	sq, ok := sourceQueries[sourceType]
	if !ok {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, sq.sql)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", sourceType, err)
	}
	defer rows.Close()
	var events []source.Event
	for rows.Next() {
		ev, err := sq.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", sourceType, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
