package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jhoicas/Inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
)

var (
	_ inventory.TxRunner     = (*TxRunner)(nil)
	_ repository.LedgerStore = (*TxRunner)(nil)
	_ repository.PairLocker  = advisoryLocker{}
)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// Repositories repositorios atados a q (pool o tx).
func Repositories(q Querier) repository.Repositories {
	return repository.Repositories{
		Movements:    NewMovementRepository(q),
		Consumptions: NewConsumptionRepository(q),
		Snapshots:    NewSnapshotRepository(q),
		Products:     NewProductRepository(q),
		Transfers:    NewTransferRepository(q),
		Locks:        advisoryLocker{q: q},
	}
}

// Run inicia una transacción, ejecuta fn con repos atados a la tx y hace Commit o Rollback.
func (r *TxRunner) Run(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, Repositories(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ReplaceAll reemplaza movimientos, consumos y snapshots en una sola transacción.
// Los traslados persistidos son fuente y no se tocan.
func (r *TxRunner) ReplaceAll(ctx context.Context, data repository.Dataset) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `LOCK TABLE stock_movements, stock_consumptions, stock_snapshots IN EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("lock ledger tables: %w", err)
	}
	for _, table := range []string{"stock_consumptions", "stock_snapshots", "stock_movements"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"stock_movements"},
		[]string{"id", "product_id", "branch_id", "kind", "date", "created_at", "quantity", "remaining", "unit_cost",
			"total_cost", "sale_price", "shortfall", "note", "source_type", "source_id", "source_line", "transfer_id", "source_key"},
		pgx.CopyFromSlice(len(data.Movements), func(i int) ([]any, error) {
			m := data.Movements[i]
			return []any{m.ID, m.ProductID, m.BranchID, string(m.Kind), m.Date, m.CreatedAt, m.Quantity, m.Remaining,
				m.UnitCost, m.TotalCost, m.SalePrice, m.Shortfall, m.Note,
				string(m.Source.Type), m.Source.ID, m.Source.Line, m.TransferID, sourceKey(m.Source)}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy movements: %w", err)
	}

	seq := make(map[string]int)
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"stock_consumptions"},
		[]string{"outbound_id", "seq", "layer_id", "quantity", "unit_cost"},
		pgx.CopyFromSlice(len(data.Consumptions), func(i int) ([]any, error) {
			d := data.Consumptions[i]
			n := seq[d.OutboundID]
			seq[d.OutboundID] = n + 1
			return []any{d.OutboundID, n, layerID(d), d.Quantity, d.UnitCost}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy consumptions: %w", err)
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"stock_snapshots"},
		[]string{"product_id", "branch_id", "current_stock", "stock_in_total", "stock_out_total", "unit_cost",
			"sale_price", "margin_pct", "stock_value", "has_negative", "last_movement_at"},
		pgx.CopyFromSlice(len(data.Snapshots), func(i int) ([]any, error) {
			s := data.Snapshots[i]
			return []any{s.ProductID, s.BranchID, s.CurrentStock, s.StockInTotal, s.StockOutTotal, s.UnitCost,
				s.SalePrice, s.MarginPct, s.StockValue, s.HasNegative, s.LastMovementAt}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy snapshots: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func layerID(d entity.ConsumptionDetail) *string {
	if d.IsVirtual() {
		return nil
	}
	id := d.LayerID
	return &id
}

// advisoryLocker serializa escrituras por par con pg_advisory_xact_lock; se libera al terminar la tx.
type advisoryLocker struct {
	q Querier
}

// EnterShared toma la clave de reconstrucción en modo compartido sin esperar. La
// reconstrucción la tiene en exclusivo (RebuildGate) mientras lee y reemplaza el ledger.
func (l advisoryLocker) EnterShared(ctx context.Context) error {
	var ok bool
	if err := l.q.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock_shared(hashtextextended($1, 0))`, rebuildLockKey).Scan(&ok); err != nil {
		return fmt.Errorf("lock compartido de reconstrucción: %w", err)
	}
	if !ok {
		return domain.ErrRebuildInProgress
	}
	return nil
}

func (l advisoryLocker) LockPair(ctx context.Context, productID, branchID string) error {
	if _, err := l.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, entity.PairKey(productID, branchID)); err != nil {
		return fmt.Errorf("lock pair %s/%s: %w", productID, branchID, err)
	}
	return nil
}
