package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jhoicas/Inventario-ledger/internal/application/dto"
	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/source"
	"github.com/shopspring/decimal"
)

// Tipos de movimiento manual aceptados por la API.
const (
	MovementTypeIN         = "IN"
	MovementTypeOUT        = "OUT"
	MovementTypeADJUSTMENT = "ADJUSTMENT"
)

// RegisterMovementFromRequest adapta el request HTTP a un ajuste manual del ledger.
// IN crea una capa (UnitCost obligatorio); OUT exige disponible suficiente; ADJUSTMENT
// lleva cantidad con signo y autoriza dejar el par en negativo (corrección de conteo).
func (l *Ledger) RegisterMovementFromRequest(ctx context.Context, in dto.RegisterMovementRequest) (*entity.MovementRecord, error) {
	if in.ProductID == "" || in.BranchID == "" {
		return nil, fmt.Errorf("%w: product_id y branch_id son obligatorios", domain.ErrInvalidInput)
	}
	adj := source.ManualAdjustment{
		AdjustmentID: in.Reference,
		ProductID:    in.ProductID,
		BranchID:     in.BranchID,
		Quantity:     in.Quantity,
		SalePrice:    in.SalePrice,
		Note:         in.Note,
	}
	if adj.AdjustmentID == "" {
		adj.AdjustmentID = uuid.NewString()
	}
	adj.Date = l.now()
	if in.Date != nil {
		adj.Date = *in.Date
	}
	if in.UnitCost != nil {
		adj.UnitCost = *in.UnitCost
	}

	opts := ApplyOptions{}
	switch in.Type {
	case MovementTypeIN:
		if in.Quantity.LessThanOrEqual(decimal.Zero) {
			return nil, domain.ErrInvalidQuantity
		}
		if in.UnitCost == nil {
			return nil, fmt.Errorf("%w: unit_cost es obligatorio en IN", domain.ErrInvalidInput)
		}
	case MovementTypeOUT:
		if in.Quantity.LessThanOrEqual(decimal.Zero) {
			return nil, domain.ErrInvalidQuantity
		}
		adj.Quantity = in.Quantity.Neg()
	case MovementTypeADJUSTMENT:
		if in.Quantity.IsZero() {
			return nil, domain.ErrInvalidQuantity
		}
		opts.AllowNegative = true
	default:
		return nil, fmt.Errorf("%w: tipo %q", domain.ErrInvalidInput, in.Type)
	}

	movs, err := l.Apply(ctx, opts, adj)
	if err != nil {
		return nil, err
	}
	return movs[0], nil
}
