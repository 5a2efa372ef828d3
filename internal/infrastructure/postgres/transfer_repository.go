package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
)

var _ repository.TransferRepository = (*TransferRepo)(nil)

const transferColumns = `id, source_product_id, target_product_id, branch_id, date, input_quantity, input_unit,
	output_quantity, output_unit, density_factor, kind, inbound_unit_cost, cost_of_goods, note, created_at`

// TransferRepo traslados con conversión persistidos.
type TransferRepo struct {
	q Querier
}

func NewTransferRepository(q Querier) *TransferRepo {
	return &TransferRepo{q: q}
}

func scanTransfer(row pgx.Row) (*entity.ConversionTransfer, error) {
	var t entity.ConversionTransfer
	var kind string
	err := row.Scan(&t.ID, &t.SourceProductID, &t.TargetProductID, &t.BranchID, &t.Date, &t.InputQuantity, &t.InputUnit,
		&t.OutputQuantity, &t.OutputUnit, &t.DensityFactor, &kind, &t.InboundUnitCost, &t.CostOfGoods, &t.Note, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Kind = entity.ConversionKind(kind)
	return &t, nil
}

func (r *TransferRepo) Create(ctx context.Context, t *entity.ConversionTransfer) error {
	query := `INSERT INTO conversion_transfers (` + transferColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.q.Exec(ctx, query, t.ID, t.SourceProductID, t.TargetProductID, t.BranchID, t.Date, t.InputQuantity, t.InputUnit,
		t.OutputQuantity, t.OutputUnit, t.DensityFactor, string(t.Kind), t.InboundUnitCost, t.CostOfGoods, t.Note, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: traslado %s", domain.ErrDuplicateSourceReference, t.ID)
		}
		return fmt.Errorf("create transfer: %w", err)
	}
	return nil
}

func (r *TransferRepo) GetByID(ctx context.Context, id string) (*entity.ConversionTransfer, error) {
	t, err := scanTransfer(r.q.QueryRow(ctx, `SELECT `+transferColumns+` FROM conversion_transfers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	return t, nil
}

func (r *TransferRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM conversion_transfers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete transfer: %w", err)
	}
	return nil
}

// List en orden de replay (fecha, creación, id).
func (r *TransferRepo) List(ctx context.Context) ([]*entity.ConversionTransfer, error) {
	rows, err := r.q.Query(ctx, `SELECT `+transferColumns+` FROM conversion_transfers ORDER BY date, created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()
	var list []*entity.ConversionTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
