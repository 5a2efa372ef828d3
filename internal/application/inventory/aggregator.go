package inventory

import (
	"context"
	"time"

	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/jhoicas/Inventario-ledger/internal/domain/source"
	"github.com/shopspring/decimal"
)

// Paginación del listado de stock.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// StockPage página del listado de stock con su resumen.
type StockPage struct {
	Items   []entity.StockRow
	Total   int
	Limit   int
	Offset  int
	Summary repository.StockSummary
}

// HistoryFilter rango opcional (inclusivo) del historial de un par.
type HistoryFilter struct {
	ProductID string
	BranchID  string
	From      *time.Time
	To        *time.Time
}

// HistorySummary totales del rango y estado actual del par.
type HistorySummary struct {
	TotalIn       decimal.Decimal
	TotalOut      decimal.Decimal
	PhysicalStock decimal.Decimal
	Reserved      decimal.Decimal
	Available     decimal.Decimal
	StockValue    decimal.Decimal
}

// History movimientos con saldo corrido. Opening es el neto de lo anterior a From.
type History struct {
	ProductID string
	BranchID  string
	Opening   decimal.Decimal
	Entries   []inventory.HistoryEntry
	Summary   HistorySummary
}

// Recompute vuelve a proyectar el snapshot del par desde sus movimientos.
func (l *Ledger) Recompute(ctx context.Context, productID, branchID string) (*entity.StockSnapshot, error) {
	if err := validatePair(productID, branchID); err != nil {
		return nil, err
	}
	snaps, err := l.write(ctx, []repository.Pair{{ProductID: productID, BranchID: branchID}},
		func(context.Context, repository.Repositories) error { return nil })
	if err != nil {
		return nil, err
	}
	return snaps[0], nil
}

// Query listado de stock por (producto, sucursal). Sin sucursal cada fila sigue siendo
// de una sucursal; el stock nunca se suma entre sucursales.
func (l *Ledger) Query(ctx context.Context, filter repository.StockFilter) (*StockPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultPageSize
	}
	if filter.Limit > MaxPageSize {
		filter.Limit = MaxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	page := &StockPage{Limit: filter.Limit, Offset: filter.Offset}
	err := l.tx.Run(ctx, func(ctx context.Context, repos repository.Repositories) error {
		items, total, err := repos.Snapshots.Query(ctx, filter)
		if err != nil {
			return err
		}
		summary, err := repos.Snapshots.Summary(ctx, filter)
		if err != nil {
			return err
		}
		page.Items, page.Total, page.Summary = items, total, summary
		return nil
	})
	if err != nil {
		return nil, err
	}
	if page.Items == nil {
		page.Items = []entity.StockRow{}
	}
	return page, nil
}

// History historial cronológico del par con saldo corrido y resumen.
func (l *Ledger) History(ctx context.Context, filter HistoryFilter) (*History, error) {
	if err := validatePair(filter.ProductID, filter.BranchID); err != nil {
		return nil, err
	}
	var movs []*entity.MovementRecord
	var fallback decimal.Decimal
	err := l.tx.Run(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		movs, err = repos.Movements.ListByPair(ctx, filter.ProductID, filter.BranchID, nil, nil)
		if err != nil {
			return err
		}
		product, err := repos.Products.GetByID(ctx, filter.ProductID)
		if err != nil {
			return err
		}
		if product != nil {
			fallback = product.SalePrice
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	reserved, err := l.reserved(ctx, filter.ProductID, filter.BranchID)
	if err != nil {
		return nil, err
	}

	opening := decimal.Zero
	window := make([]*entity.MovementRecord, 0, len(movs))
	for _, m := range movs {
		if filter.From != nil && m.Date.Before(*filter.From) {
			opening = opening.Add(m.Signed())
			continue
		}
		if filter.To != nil && m.Date.After(*filter.To) {
			continue
		}
		window = append(window, m)
	}
	h := &History{
		ProductID: filter.ProductID,
		BranchID:  filter.BranchID,
		Opening:   opening,
		Entries:   inventory.RunningBalance(opening, window),
	}
	h.Summary.TotalIn, h.Summary.TotalOut = decimal.Zero, decimal.Zero
	for _, e := range h.Entries {
		h.Summary.TotalIn = h.Summary.TotalIn.Add(e.QtyIn)
		h.Summary.TotalOut = h.Summary.TotalOut.Add(e.QtyOut)
	}
	snap := inventory.Project(filter.ProductID, filter.BranchID, movs, l.strategy, fallback)
	h.Summary.PhysicalStock = snap.CurrentStock
	h.Summary.Reserved = reserved
	h.Summary.Available = snap.CurrentStock.Sub(reserved)
	h.Summary.StockValue = snap.StockValue
	return h, nil
}

// Purge borra todo rastro del par: movimientos, detalle de consumo, snapshot y reservas.
func (l *Ledger) Purge(ctx context.Context, productID, branchID string) (int, error) {
	if err := validatePair(productID, branchID); err != nil {
		return 0, err
	}
	removed := 0
	_, err := l.write(ctx, []repository.Pair{{ProductID: productID, BranchID: branchID}},
		func(ctx context.Context, repos repository.Repositories) error {
			movs, err := repos.Movements.ListByPair(ctx, productID, branchID, nil, nil)
			if err != nil {
				return err
			}
			var outIDs []string
			for _, m := range movs {
				if !m.IsInbound() {
					outIDs = append(outIDs, m.ID)
				}
			}
			if len(outIDs) > 0 {
				if err := repos.Consumptions.DeleteByOutbound(ctx, outIDs); err != nil {
					return err
				}
			}
			removed = len(movs)
			return repos.Movements.DeletePair(ctx, productID, branchID)
		})
	if err != nil {
		return 0, err
	}
	if l.reservations != nil {
		if err := l.reservations.Clear(ctx, productID, branchID); err != nil {
			return removed, err
		}
	}
	l.log.Warn().Str("product_id", productID).Str("branch_id", branchID).Int("movements", removed).Msg("par reiniciado")
	return removed, nil
}

// ManualEvents ajustes manuales vigentes como eventos de origen, para la reconstrucción.
func (l *Ledger) ManualEvents(ctx context.Context) ([]source.Event, error) {
	var events []source.Event
	err := l.tx.Run(ctx, func(ctx context.Context, repos repository.Repositories) error {
		movs, err := repos.Movements.ListBySourceType(ctx, entity.SourceManual)
		if err != nil {
			return err
		}
		events = make([]source.Event, 0, len(movs))
		for _, m := range movs {
			events = append(events, source.ManualFromMovement(m))
		}
		return nil
	})
	return events, err
}

// TransferEvents piernas de los traslados persistidos en orden (fecha, creación, id).
func (l *Ledger) TransferEvents(ctx context.Context) ([]source.Event, error) {
	var events []source.Event
	err := l.tx.Run(ctx, func(ctx context.Context, repos repository.Repositories) error {
		transfers, err := repos.Transfers.List(ctx)
		if err != nil {
			return err
		}
		events = make([]source.Event, 0, len(transfers)*2)
		for _, t := range transfers {
			events = append(events, source.LegsOf(t)...)
		}
		return nil
	})
	return events, err
}
