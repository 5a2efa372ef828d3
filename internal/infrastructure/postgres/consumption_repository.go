package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
)

var _ repository.ConsumptionRepository = (*ConsumptionRepo)(nil)

// ConsumptionRepo detalle de consumo por salida. layer_id NULL es la capa virtual de un sobreconsumo.
type ConsumptionRepo struct {
	q Querier
}

func NewConsumptionRepository(q Querier) *ConsumptionRepo {
	return &ConsumptionRepo{q: q}
}

// CreateBatch agrega los detalles a continuación de los ya registrados para cada salida.
func (r *ConsumptionRepo) CreateBatch(ctx context.Context, details []entity.ConsumptionDetail) error {
	for _, d := range details {
		_, err := r.q.Exec(ctx, `
			INSERT INTO stock_consumptions (outbound_id, seq, layer_id, quantity, unit_cost)
			VALUES ($1, (SELECT COALESCE(MAX(seq) + 1, 0) FROM stock_consumptions WHERE outbound_id = $1), $2, $3, $4)`,
			d.OutboundID, layerID(d), d.Quantity, d.UnitCost)
		if err != nil {
			return fmt.Errorf("create consumption %s: %w", d.OutboundID, err)
		}
	}
	return nil
}

// ListByOutbound detalle en el orden en que se consumió.
func (r *ConsumptionRepo) ListByOutbound(ctx context.Context, outboundIDs []string) ([]entity.ConsumptionDetail, error) {
	if len(outboundIDs) == 0 {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT outbound_id, COALESCE(layer_id, ''), quantity, unit_cost
		FROM stock_consumptions WHERE outbound_id = ANY($1)
		ORDER BY outbound_id, seq`, outboundIDs)
	if err != nil {
		return nil, fmt.Errorf("list consumptions: %w", err)
	}
	defer rows.Close()
	var list []entity.ConsumptionDetail
	for rows.Next() {
		var d entity.ConsumptionDetail
		if err := rows.Scan(&d.OutboundID, &d.LayerID, &d.Quantity, &d.UnitCost); err != nil {
			return nil, fmt.Errorf("scan consumption: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

func (r *ConsumptionRepo) DeleteByOutbound(ctx context.Context, outboundIDs []string) error {
	if len(outboundIDs) == 0 {
		return nil
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM stock_consumptions WHERE outbound_id = ANY($1)`, outboundIDs); err != nil {
		return fmt.Errorf("delete consumptions: %w", err)
	}
	return nil
}
