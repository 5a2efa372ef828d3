package inventory

import (
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Project construye el snapshot de un par (producto, sucursal) a partir de sus movimientos.
// Es una función pura: dos llamadas sobre el mismo ledger producen el mismo snapshot.
func Project(productID, branchID string, movements []*entity.MovementRecord, strategy CostStrategy, fallbackSalePrice decimal.Decimal) *entity.StockSnapshot {
	if strategy == nil {
		strategy = WeightedRemaining{}
	}
	ordered := make([]*entity.MovementRecord, len(movements))
	copy(ordered, movements)
	SortChronological(ordered)

	snap := &entity.StockSnapshot{
		ProductID:     productID,
		BranchID:      branchID,
		CurrentStock:  decimal.Zero,
		StockInTotal:  decimal.Zero,
		StockOutTotal: decimal.Zero,
		StockValue:    decimal.Zero,
		SalePrice:     fallbackSalePrice,
		MarginPct:     decimal.Zero,
	}
	for _, m := range ordered {
		if m.IsInbound() {
			snap.StockInTotal = snap.StockInTotal.Add(m.Quantity)
			snap.CurrentStock = snap.CurrentStock.Add(m.Remaining)
			snap.StockValue = snap.StockValue.Add(m.Remaining.Mul(m.UnitCost))
		} else {
			snap.StockOutTotal = snap.StockOutTotal.Add(m.Quantity)
			snap.CurrentStock = snap.CurrentStock.Sub(m.Shortfall)
		}
		if m.SalePrice.GreaterThan(decimal.Zero) {
			snap.SalePrice = m.SalePrice
		}
		if m.Date.After(snap.LastMovementAt) {
			snap.LastMovementAt = m.Date
		}
	}
	snap.StockValue = snap.StockValue.Round(QuantityPlaces)
	snap.UnitCost = strategy.UnitCost(ordered)
	snap.MarginPct = Margin(snap.SalePrice, snap.UnitCost)
	snap.HasNegative = snap.CurrentStock.LessThan(decimal.Zero)
	return snap
}

// Margin (venta - costo) / costo × 100, redondeado a 2 decimales; 0 sin costo.
func Margin(salePrice, unitCost decimal.Decimal) decimal.Decimal {
	if unitCost.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return salePrice.Sub(unitCost).Div(unitCost).Mul(hundred).Round(2)
}

// PhysicalStock stock físico derivado del ledger: remanente de capas menos faltantes.
func PhysicalStock(movements []*entity.MovementRecord) decimal.Decimal {
	total := decimal.Zero
	for _, m := range movements {
		if m.IsInbound() {
			total = total.Add(m.Remaining)
		} else {
			total = total.Sub(m.Shortfall)
		}
	}
	return total
}

// HistoryEntry movimiento con saldo corrido.
type HistoryEntry struct {
	Movement *entity.MovementRecord
	QtyIn    decimal.Decimal
	QtyOut   decimal.Decimal
	Balance  decimal.Decimal
}

// RunningBalance recorre los movimientos en orden cronológico acumulando el saldo
// desde opening. Las entradas suman su cantidad y las salidas la restan.
func RunningBalance(opening decimal.Decimal, movements []*entity.MovementRecord) []HistoryEntry {
	ordered := make([]*entity.MovementRecord, len(movements))
	copy(ordered, movements)
	SortChronological(ordered)

	entries := make([]HistoryEntry, 0, len(ordered))
	balance := opening
	for _, m := range ordered {
		e := HistoryEntry{Movement: m, QtyIn: decimal.Zero, QtyOut: decimal.Zero}
		if m.IsInbound() {
			e.QtyIn = m.Quantity
		} else {
			e.QtyOut = m.Quantity
		}
		balance = balance.Add(m.Signed())
		e.Balance = balance
		entries = append(entries, e)
	}
	return entries
}
