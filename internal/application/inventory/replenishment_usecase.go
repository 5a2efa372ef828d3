package inventory

import (
	"context"
	"sort"

	"github.com/jhoicas/Inventario-ledger/internal/application/dto"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/shopspring/decimal"
)

// ReplenishmentUseCase genera la lista de reposición de una sucursal a partir de los
// snapshots bajo punto de reorden.
type ReplenishmentUseCase struct {
	tx TxRunner
}

// NewReplenishmentUseCase construye el caso de uso de reposición.
func NewReplenishmentUseCase(tx TxRunner) *ReplenishmentUseCase {
	return &ReplenishmentUseCase{tx: tx}
}

var idealFactor = decimal.NewFromFloat(1.5)

// GenerateReplenishmentList productos en o bajo su punto de reorden con la cantidad
// sugerida (reorden × 1.5 - stock actual) priorizados por margen y luego por déficit.
// branchID vacío lista todas las sucursales, cada fila por separado.
func (uc *ReplenishmentUseCase) GenerateReplenishmentList(ctx context.Context, branchID string) ([]dto.ReplenishmentSuggestionDTO, error) {
	var suggestions []dto.ReplenishmentSuggestionDTO
	err := uc.tx.Run(ctx, func(ctx context.Context, repos repository.Repositories) error {
		rows, err := repos.Snapshots.LowStock(ctx, branchID)
		if err != nil {
			return err
		}
		suggestions = make([]dto.ReplenishmentSuggestionDTO, 0, len(rows))
		for _, row := range rows {
			ideal := row.ReorderPoint.Mul(idealFactor)
			qty := ideal.Sub(row.CurrentStock)
			if qty.LessThan(decimal.Zero) {
				qty = decimal.Zero
			}
			suggestions = append(suggestions, dto.ReplenishmentSuggestionDTO{
				ProductID:          row.ProductID,
				BranchID:           row.BranchID,
				SKU:                row.SKU,
				ProductName:        row.ProductName,
				CurrentStock:       row.CurrentStock,
				ReorderPoint:       row.ReorderPoint,
				IdealStock:         ideal,
				SuggestedOrderQty:  qty,
				UnitCost:           row.UnitCost,
				EstimatedOrderCost: qty.Mul(row.UnitCost),
				MarginPct:          row.MarginPct,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if !a.MarginPct.Equal(b.MarginPct) {
			return a.MarginPct.GreaterThan(b.MarginPct)
		}
		return a.ReorderPoint.Sub(a.CurrentStock).GreaterThan(b.ReorderPoint.Sub(b.CurrentStock))
	})
	for i := range suggestions {
		suggestions[i].Priority = i + 1
	}
	return suggestions, nil
}
