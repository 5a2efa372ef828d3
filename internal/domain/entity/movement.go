package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementKind dirección del movimiento dentro del ledger.
type MovementKind string

const (
	MovementInbound  MovementKind = "inbound"  // entrada: crea una capa FIFO
	MovementOutbound MovementKind = "outbound" // salida: consume capas FIFO
)

// SourceType identifica el flujo de origen que generó un movimiento.
type SourceType string

// Orígenes conocidos. El orden de replay de la reconstrucción vive en el paquete reconcile.
const (
	SourcePurchase           SourceType = "purchase"
	SourceProduction         SourceType = "production"
	SourceConsignment        SourceType = "consignment"
	SourceSale               SourceType = "sale"
	SourceOpname             SourceType = "opname"
	SourceProductionMaterial SourceType = "production_material"
	SourceTransfer           SourceType = "transfer"
	SourceManual             SourceType = "manual"
)

// SourceRef referencia a la transacción de origen (tipo + id + línea).
type SourceRef struct {
	Type SourceType `json:"type"`
	ID   string     `json:"id"`
	Line string     `json:"line,omitempty"`
}

// Key clave única de la referencia; un movimiento por clave.
func (r SourceRef) Key() string {
	if r.Line == "" {
		return fmt.Sprintf("%s:%s", r.Type, r.ID)
	}
	return fmt.Sprintf("%s:%s:%s", r.Type, r.ID, r.Line)
}

// IsZero indica referencia vacía.
func (r SourceRef) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

func (r SourceRef) String() string { return r.Key() }

// MovementRecord un evento de capa FIFO.
// Para entradas Quantity es la cantidad inicial (inmutable) y Remaining lo no consumido.
// Para salidas Remaining es cero y Shortfall es la parte no cubierta por capas físicas.
type MovementRecord struct {
	ID         string
	ProductID  string
	BranchID   string
	Kind       MovementKind
	Date       time.Time
	CreatedAt  time.Time
	Quantity   decimal.Decimal
	Remaining  decimal.Decimal
	UnitCost   decimal.Decimal // costo de la capa (entrada) o COGS unitario ponderado (salida)
	TotalCost  decimal.Decimal
	SalePrice  decimal.Decimal
	Shortfall  decimal.Decimal
	Note       string
	Source     SourceRef
	TransferID string
}

// IsInbound indica si el movimiento es una capa de entrada.
func (m *MovementRecord) IsInbound() bool { return m.Kind == MovementInbound }

// Consumed cantidad ya tomada de una capa de entrada.
func (m *MovementRecord) Consumed() decimal.Decimal {
	if !m.IsInbound() {
		return decimal.Zero
	}
	return m.Quantity.Sub(m.Remaining)
}

// Signed cantidad con signo: positiva para entradas, negativa para salidas.
func (m *MovementRecord) Signed() decimal.Decimal {
	if m.IsInbound() {
		return m.Quantity
	}
	return m.Quantity.Neg()
}

// Clone copia superficial (todos los campos son valores).
func (m *MovementRecord) Clone() *MovementRecord {
	c := *m
	return &c
}

// ConsumptionDetail cuánto tomó una salida de una capa concreta.
// LayerID vacío representa la capa virtual de un sobreconsumo autorizado.
type ConsumptionDetail struct {
	OutboundID string
	LayerID    string
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
}

// IsVirtual indica consumo sin capa física detrás.
func (d ConsumptionDetail) IsVirtual() bool { return d.LayerID == "" }

// PairKey clave (producto, sucursal) usada para bloqueos y mapas.
func PairKey(productID, branchID string) string {
	return productID + "|" + branchID
}
