package inventory

import (
	"sort"

	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// LayerLess orden FIFO: fecha del evento, luego inserción, luego id.
func LayerLess(a, b *entity.MovementRecord) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortChronological ordena movimientos en sitio con el mismo criterio FIFO.
func SortChronological(movements []*entity.MovementRecord) {
	sort.SliceStable(movements, func(i, j int) bool {
		return LayerLess(movements[i], movements[j])
	})
}

// OpenLayers entradas con remanente > 0 en orden FIFO.
func OpenLayers(movements []*entity.MovementRecord) []*entity.MovementRecord {
	layers := make([]*entity.MovementRecord, 0, len(movements))
	for _, m := range movements {
		if m.IsInbound() && m.Remaining.GreaterThan(decimal.Zero) {
			layers = append(layers, m)
		}
	}
	SortChronological(layers)
	return layers
}

// LayerTake porción tomada de una capa.
type LayerTake struct {
	LayerID        string
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	RemainingAfter decimal.Decimal
}

// Allocation resultado de asignar una salida sobre las capas abiertas.
type Allocation struct {
	Requested decimal.Decimal
	Takes     []LayerTake
	Covered   decimal.Decimal
	Shortfall decimal.Decimal
	Cost      decimal.Decimal // costo de lo cubierto por capas físicas
}

// Allocate recorre las capas abiertas de la más antigua a la más nueva descontando
// hasta cubrir qty. No modifica las capas; el llamador aplica RemainingAfter.
func Allocate(layers []*entity.MovementRecord, qty decimal.Decimal) (Allocation, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return Allocation{}, domain.ErrInvalidQuantity
	}
	open := OpenLayers(layers)
	alloc := Allocation{Requested: qty, Covered: decimal.Zero, Cost: decimal.Zero}
	pending := qty
	for _, layer := range open {
		if pending.IsZero() {
			break
		}
		take := decimal.Min(pending, layer.Remaining)
		alloc.Takes = append(alloc.Takes, LayerTake{
			LayerID:        layer.ID,
			Quantity:       take,
			UnitCost:       layer.UnitCost,
			RemainingAfter: layer.Remaining.Sub(take),
		})
		alloc.Covered = alloc.Covered.Add(take)
		alloc.Cost = alloc.Cost.Add(take.Mul(layer.UnitCost))
		pending = pending.Sub(take)
	}
	alloc.Shortfall = pending
	return alloc, nil
}

// HasShortfall indica que las capas no alcanzaron.
func (a Allocation) HasShortfall() bool { return a.Shortfall.GreaterThan(decimal.Zero) }

// LastUnitCost costo de la última capa tocada (cero si no tocó ninguna).
func (a Allocation) LastUnitCost() decimal.Decimal {
	if len(a.Takes) == 0 {
		return decimal.Zero
	}
	return a.Takes[len(a.Takes)-1].UnitCost
}

// TotalCost costo total incluyendo el faltante valorado a shortfallCost.
func (a Allocation) TotalCost(shortfallCost decimal.Decimal) decimal.Decimal {
	return a.Cost.Add(a.Shortfall.Mul(shortfallCost))
}

// Details filas de consumo para reversión exacta; el faltante va como capa virtual.
func (a Allocation) Details(outboundID string, shortfallCost decimal.Decimal) []entity.ConsumptionDetail {
	details := make([]entity.ConsumptionDetail, 0, len(a.Takes)+1)
	for _, t := range a.Takes {
		details = append(details, entity.ConsumptionDetail{
			OutboundID: outboundID,
			LayerID:    t.LayerID,
			Quantity:   t.Quantity,
			UnitCost:   t.UnitCost,
		})
	}
	if a.HasShortfall() {
		details = append(details, entity.ConsumptionDetail{
			OutboundID: outboundID,
			Quantity:   a.Shortfall,
			UnitCost:   shortfallCost,
		})
	}
	return details
}
