package reconcile

import (
	"fmt"
	"time"

	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/jhoicas/Inventario-ledger/internal/domain/source"
	"github.com/shopspring/decimal"
)

// MissingEntry transacción de origen confirmada sin movimiento en el ledger.
type MissingEntry struct {
	SourceType entity.SourceType `json:"source_type"`
	Reference  string            `json:"reference"`
	ProductID  string            `json:"product_id"`
	BranchID   string            `json:"branch_id"`
	Date       time.Time         `json:"date"`
	Quantity   decimal.Decimal   `json:"quantity"`
	Direction  string            `json:"direction"`
	Event      source.Event      `json:"-"`
}

// Drift diferencia de stock de un par: Expected es lo que da el ledger reconstruido
// (o la proyección del ledger actual) y Actual lo que dice el snapshot persistido.
type Drift struct {
	ProductID string          `json:"product_id"`
	BranchID  string          `json:"branch_id"`
	Expected  decimal.Decimal `json:"expected"`
	Actual    decimal.Decimal `json:"actual"`
	Delta     decimal.Decimal `json:"delta"`
}

func newDrift(productID, branchID string, expected, actual decimal.Decimal) Drift {
	return Drift{ProductID: productID, BranchID: branchID, Expected: expected, Actual: actual, Delta: expected.Sub(actual)}
}

func (d Drift) pair() repository.Pair {
	return repository.Pair{ProductID: d.ProductID, BranchID: d.BranchID}
}

// Report resultado de CheckDiscrepancies.
type Report struct {
	GeneratedAt time.Time                            `json:"generated_at"`
	Missing     map[entity.SourceType][]MissingEntry `json:"missing"`
	Drifts      []Drift                              `json:"drifts"`
	Stale       []Drift                              `json:"stale_snapshots"`
}

// MissingCount total de transacciones sin movimiento.
func (r *Report) MissingCount() int {
	n := 0
	for _, entries := range r.Missing {
		n += len(entries)
	}
	return n
}

// HasDrift indica cualquier diferencia.
func (r *Report) HasDrift() bool {
	return r.MissingCount() > 0 || len(r.Drifts) > 0 || len(r.Stale) > 0
}

// Err devuelve domain.ErrReconciliationDrift si el reporte tiene diferencias.
func (r *Report) Err() error {
	if !r.HasDrift() {
		return nil
	}
	return fmt.Errorf("%w: %d sin movimiento, %d pares con diferencia, %d snapshots desactualizados",
		domain.ErrReconciliationDrift, r.MissingCount(), len(r.Drifts), len(r.Stale))
}

// RebuildResult resumen de una reconstrucción completa.
type RebuildResult struct {
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	Events        int               `json:"events"`
	Movements     int               `json:"movements"`
	Pairs         int               `json:"pairs"`
	NegativePairs []repository.Pair `json:"negative_pairs"`
}

// FixResult resumen de Fix.
type FixResult struct {
	Inserted   int `json:"inserted"`
	Skipped    int `json:"skipped"`
	Recomputed int `json:"recomputed"`
}
