package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/shopspring/decimal"
)

// TransferInput traslado con conversión dentro de una sucursal.
// InputUnit / OutputUnit vacías toman la unidad de cada producto.
type TransferInput struct {
	ID              string
	SourceProductID string
	TargetProductID string
	BranchID        string
	Date            time.Time
	InputQuantity   decimal.Decimal
	InputUnit       string
	OutputUnit      string
	Note            string
}

func (in TransferInput) pairs() []repository.Pair {
	return []repository.Pair{
		{ProductID: in.SourceProductID, BranchID: in.BranchID},
		{ProductID: in.TargetProductID, BranchID: in.BranchID},
	}
}

func (in TransferInput) validate() error {
	if in.SourceProductID == "" || in.TargetProductID == "" || in.BranchID == "" {
		return fmt.Errorf("%w: origen, destino y sucursal son obligatorios", domain.ErrInvalidInput)
	}
	if in.SourceProductID == in.TargetProductID {
		return fmt.Errorf("%w: origen y destino deben ser productos distintos", domain.ErrInvalidInput)
	}
	if in.InputQuantity.LessThanOrEqual(decimal.Zero) {
		return domain.ErrInvalidQuantity
	}
	return nil
}

// Transfer saca la cantidad del producto origen (FIFO, sin sobreconsumo) y la ingresa
// convertida en el destino al costo representativo actual del destino. Ambas piernas y el
// registro del traslado se confirman juntos o ninguno.
func (l *Ledger) Transfer(ctx context.Context, in TransferInput) (*entity.ConversionTransfer, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var out *entity.ConversionTransfer
	_, err := l.write(ctx, in.pairs(), func(ctx context.Context, repos repository.Repositories) error {
		t, err := l.transfer(ctx, repos, in)
		out = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TransferBatch ejecuta varios traslados de forma atómica. Un par (origen, destino)
// repetido rechaza el lote completo antes de escribir.
func (l *Ledger) TransferBatch(ctx context.Context, inputs []TransferInput) ([]*entity.ConversionTransfer, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: lote vacío", domain.ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(inputs))
	var pairs []repository.Pair
	for _, in := range inputs {
		if err := in.validate(); err != nil {
			return nil, err
		}
		key := in.SourceProductID + ">" + in.TargetProductID
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: %s -> %s", domain.ErrDuplicatePair, in.SourceProductID, in.TargetProductID)
		}
		seen[key] = struct{}{}
		pairs = append(pairs, in.pairs()...)
	}
	out := make([]*entity.ConversionTransfer, 0, len(inputs))
	_, err := l.write(ctx, pairs, func(ctx context.Context, repos repository.Repositories) error {
		out = out[:0]
		for _, in := range inputs {
			t, err := l.transfer(ctx, repos, in)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelTransfer revierte ambas piernas y elimina el registro del traslado.
func (l *Ledger) CancelTransfer(ctx context.Context, transferID string) (*ReversalResult, error) {
	if transferID == "" {
		return nil, fmt.Errorf("%w: id de traslado vacío", domain.ErrInvalidInput)
	}
	var t *entity.ConversionTransfer
	err := l.tx.Run(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		t, err = repos.Transfers.GetByID(ctx, transferID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: traslado %s", domain.ErrNotFound, transferID)
	}
	ref := entity.SourceRef{Type: entity.SourceTransfer, ID: t.ID}
	pairs := []repository.Pair{
		{ProductID: t.SourceProductID, BranchID: t.BranchID},
		{ProductID: t.TargetProductID, BranchID: t.BranchID},
	}
	result := &ReversalResult{Source: ref}
	snaps, err := l.write(ctx, pairs, func(ctx context.Context, repos repository.Repositories) error {
		removed, err := l.reverse(ctx, repos, ref, pairs)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		result.Removed = removed
		return repos.Transfers.Delete(ctx, t.ID)
	})
	if err != nil {
		return nil, err
	}
	result.Snapshots = snaps
	return result, nil
}

func (l *Ledger) transfer(ctx context.Context, repos repository.Repositories, in TransferInput) (*entity.ConversionTransfer, error) {
	src, err := repos.Products.GetByID(ctx, in.SourceProductID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: producto %s", domain.ErrNotFound, in.SourceProductID)
	}
	dst, err := repos.Products.GetByID(ctx, in.TargetProductID)
	if err != nil {
		return nil, err
	}
	if dst == nil {
		return nil, fmt.Errorf("%w: producto %s", domain.ErrNotFound, in.TargetProductID)
	}
	inUnit, outUnit := in.InputUnit, in.OutputUnit
	if inUnit == "" {
		inUnit = src.Unit
	}
	if outUnit == "" {
		outUnit = dst.Unit
	}
	conv, err := inventory.Convert(in.InputQuantity, inUnit, outUnit, src.Density)
	if err != nil {
		if errors.Is(err, domain.ErrDensityNotConfigured) {
			return nil, &domain.DensityNotConfiguredError{ProductID: src.ID, Name: src.Name}
		}
		return nil, fmt.Errorf("%w: producto %s (%s) %s -> %s", err, src.Name, src.ID, inUnit, outUnit)
	}
	if conv.Output.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidQuantity
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	existing, err := repos.Transfers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: traslado %s", domain.ErrDuplicateSourceReference, id)
	}
	now := l.now()
	t := &entity.ConversionTransfer{
		ID:              id,
		SourceProductID: src.ID,
		TargetProductID: dst.ID,
		BranchID:        in.BranchID,
		Date:            dateOr(in.Date, now),
		InputQuantity:   in.InputQuantity,
		InputUnit:       inUnit,
		OutputQuantity:  conv.Output,
		OutputUnit:      outUnit,
		DensityFactor:   conv.Density,
		Kind:            conv.Kind,
		Note:            in.Note,
		CreatedAt:       now,
	}

	res, err := l.outbound(ctx, repos, OutboundInput{
		ProductID: src.ID, BranchID: in.BranchID, Date: t.Date, Quantity: t.InputQuantity,
		Note: in.Note, Source: t.OutboundRef(), TransferID: t.ID,
	})
	if err != nil {
		return nil, err
	}
	t.CostOfGoods = res.CostOfGoods

	targetMovs, err := repos.Movements.ListByPair(ctx, dst.ID, in.BranchID, nil, nil)
	if err != nil {
		return nil, err
	}
	unitCost := l.strategy.UnitCost(targetMovs)
	if unitCost.IsZero() {
		// destino sin base de costo: se reparte el costo de lo sacado del origen
		unitCost = res.CostOfGoods.Div(t.OutputQuantity).Round(inventory.QuantityPlaces)
	}
	t.InboundUnitCost = unitCost

	if _, err := l.inbound(ctx, repos, InboundInput{
		ProductID: dst.ID, BranchID: in.BranchID, Date: t.Date, Quantity: t.OutputQuantity,
		UnitCost: unitCost, Note: in.Note, Source: t.InboundRef(), TransferID: t.ID,
	}); err != nil {
		return nil, err
	}
	if err := repos.Transfers.Create(ctx, t); err != nil {
		return nil, err
	}
	l.log.Info().
		Str("transfer_id", t.ID).
		Str("source_product_id", t.SourceProductID).
		Str("target_product_id", t.TargetProductID).
		Str("input", t.InputQuantity.String()).
		Str("output", t.OutputQuantity.String()).
		Str("kind", string(t.Kind)).
		Msg("traslado con conversión registrado")
	return t, nil
}
