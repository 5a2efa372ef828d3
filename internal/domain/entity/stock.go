package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockSnapshot proyección materializada por (producto, sucursal).
// Siempre reconstruible desde MovementRecord; se persiste solo para lectura rápida.
type StockSnapshot struct {
	ProductID      string
	BranchID       string
	CurrentStock   decimal.Decimal
	StockInTotal   decimal.Decimal
	StockOutTotal  decimal.Decimal
	UnitCost       decimal.Decimal
	SalePrice      decimal.Decimal
	MarginPct      decimal.Decimal
	StockValue     decimal.Decimal
	HasNegative    bool
	LastMovementAt time.Time
}

// Equal compara dos snapshots campo a campo (decimales por valor).
func (s *StockSnapshot) Equal(o *StockSnapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.ProductID == o.ProductID &&
		s.BranchID == o.BranchID &&
		s.CurrentStock.Equal(o.CurrentStock) &&
		s.StockInTotal.Equal(o.StockInTotal) &&
		s.StockOutTotal.Equal(o.StockOutTotal) &&
		s.UnitCost.Equal(o.UnitCost) &&
		s.SalePrice.Equal(o.SalePrice) &&
		s.MarginPct.Equal(o.MarginPct) &&
		s.StockValue.Equal(o.StockValue) &&
		s.HasNegative == o.HasNegative &&
		s.LastMovementAt.Equal(o.LastMovementAt)
}

// StockRow fila del listado de stock: snapshot + datos maestros del producto.
type StockRow struct {
	StockSnapshot
	SKU          string
	ProductName  string
	Unit         string
	BranchName   string
	ReorderPoint decimal.Decimal
	IsLowStock   bool
}

// ReservationState vista efímera de reservas de un par (producto, sucursal).
type ReservationState struct {
	ProductID         string
	BranchID          string
	PhysicalStock     decimal.Decimal
	ReservedQuantity  decimal.Decimal
	AvailableQuantity decimal.Decimal
}

// NewReservationState calcula el disponible exacto: físico - reservado.
func NewReservationState(productID, branchID string, physical, reserved decimal.Decimal) ReservationState {
	return ReservationState{
		ProductID:         productID,
		BranchID:          branchID,
		PhysicalStock:     physical,
		ReservedQuantity:  reserved,
		AvailableQuantity: physical.Sub(reserved),
	}
}
