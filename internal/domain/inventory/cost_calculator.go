package inventory

import (
	"fmt"

	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// CostCalculator implementa el costo promedio ponderado (servicio de dominio).
// NuevoCosto = ((StockActual * CostoActual) + (CantEntrada * CostoEntrada)) / (StockActual + CantEntrada)
func CostCalculator(stockActual, costoActual, cantEntrada, costoEntrada decimal.Decimal) decimal.Decimal {
	sum := stockActual.Add(cantEntrada)
	if sum.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	num := stockActual.Mul(costoActual).Add(cantEntrada.Mul(costoEntrada))
	return num.Div(sum)
}

// Nombres de las estrategias de costo representativo.
const (
	StrategyWeightedRemaining = "weighted_remaining"
	StrategyLatestLayer       = "latest_layer"
)

// unitCostPlaces precisión con la que se expone el costo representativo.
const unitCostPlaces = 6

// CostStrategy calcula el costo unitario representativo que muestra el snapshot.
// El COGS siempre es FIFO; esto solo afecta la vista agregada y el margen.
type CostStrategy interface {
	Name() string
	UnitCost(movements []*entity.MovementRecord) decimal.Decimal
}

// WeightedRemaining promedio ponderado de las capas abiertas (por defecto).
// Sin capas abiertas usa el costo de la última entrada.
type WeightedRemaining struct{}

func (WeightedRemaining) Name() string { return StrategyWeightedRemaining }

func (WeightedRemaining) UnitCost(movements []*entity.MovementRecord) decimal.Decimal {
	qty, cost := decimal.Zero, decimal.Zero
	for _, layer := range OpenLayers(movements) {
		cost = CostCalculator(qty, cost, layer.Remaining, layer.UnitCost)
		qty = qty.Add(layer.Remaining)
	}
	if qty.IsZero() {
		return LatestLayer{}.UnitCost(movements)
	}
	return cost.Round(unitCostPlaces)
}

// LatestLayer costo de la entrada más reciente (fecha, creación, id).
type LatestLayer struct{}

func (LatestLayer) Name() string { return StrategyLatestLayer }

func (LatestLayer) UnitCost(movements []*entity.MovementRecord) decimal.Decimal {
	var latest *entity.MovementRecord
	for _, m := range movements {
		if !m.IsInbound() {
			continue
		}
		if latest == nil || LayerLess(latest, m) {
			latest = m
		}
	}
	if latest == nil {
		return decimal.Zero
	}
	return latest.UnitCost.Round(unitCostPlaces)
}

// StrategyByName resuelve la estrategia configurada; vacío = promedio ponderado.
func StrategyByName(name string) (CostStrategy, error) {
	switch name {
	case "", StrategyWeightedRemaining:
		return WeightedRemaining{}, nil
	case StrategyLatestLayer:
		return LatestLayer{}, nil
	}
	return nil, fmt.Errorf("estrategia de costo desconocida: %q", name)
}
