package http

import (
	"github.com/jhoicas/Inventario-ledger/internal/application/dto"
	"github.com/jhoicas/Inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
)

func toMovementResponse(m *entity.MovementRecord) dto.MovementResponse {
	return dto.MovementResponse{
		ID:         m.ID,
		ProductID:  m.ProductID,
		BranchID:   m.BranchID,
		Kind:       string(m.Kind),
		Date:       m.Date,
		Quantity:   m.Quantity,
		Remaining:  m.Remaining,
		UnitCost:   m.UnitCost,
		TotalCost:  m.TotalCost,
		SalePrice:  m.SalePrice,
		Shortfall:  m.Shortfall,
		Source:     m.Source.Key(),
		TransferID: m.TransferID,
		Note:       m.Note,
	}
}

func toMovementResponses(movs []*entity.MovementRecord) []dto.MovementResponse {
	out := make([]dto.MovementResponse, 0, len(movs))
	for _, m := range movs {
		out = append(out, toMovementResponse(m))
	}
	return out
}

func toOutboundResponse(res *inventory.OutboundResult) dto.OutboundResponse {
	out := dto.OutboundResponse{
		Movement:    toMovementResponse(res.Movement),
		Consumption: make([]dto.ConsumptionResponse, 0, len(res.Details)),
		CostOfGoods: res.CostOfGoods,
	}
	for _, d := range res.Details {
		out.Consumption = append(out.Consumption, dto.ConsumptionResponse{LayerID: d.LayerID, Quantity: d.Quantity, UnitCost: d.UnitCost})
	}
	return out
}

func toSnapshotResponse(s *entity.StockSnapshot) dto.SnapshotResponse {
	return dto.SnapshotResponse{
		ProductID:      s.ProductID,
		BranchID:       s.BranchID,
		CurrentStock:   s.CurrentStock,
		StockInTotal:   s.StockInTotal,
		StockOutTotal:  s.StockOutTotal,
		UnitCost:       s.UnitCost,
		SalePrice:      s.SalePrice,
		MarginPct:      s.MarginPct,
		StockValue:     s.StockValue,
		HasNegative:    s.HasNegative,
		LastMovementAt: s.LastMovementAt,
	}
}

func toSnapshotResponses(snaps []*entity.StockSnapshot) []dto.SnapshotResponse {
	out := make([]dto.SnapshotResponse, 0, len(snaps))
	for _, s := range snaps {
		if s != nil {
			out = append(out, toSnapshotResponse(s))
		}
	}
	return out
}

func toStockListResponse(page *inventory.StockPage) dto.StockListResponse {
	resp := dto.StockListResponse{
		Items: make([]dto.StockRowResponse, 0, len(page.Items)),
		Page:  dto.PageResponse{Limit: page.Limit, Offset: page.Offset, Total: page.Total},
		Summary: dto.StockSummaryResponse{
			TotalItems:    page.Summary.TotalItems,
			StockByUnit:   page.Summary.StockByUnit,
			LowStockCount: page.Summary.LowStockCount,
			NegativeCount: page.Summary.NegativeCount,
		},
	}
	for i := range page.Items {
		row := page.Items[i]
		resp.Items = append(resp.Items, dto.StockRowResponse{
			SnapshotResponse: toSnapshotResponse(&row.StockSnapshot),
			SKU:              row.SKU,
			ProductName:      row.ProductName,
			Unit:             row.Unit,
			BranchName:       row.BranchName,
			ReorderPoint:     row.ReorderPoint,
			IsLowStock:       row.IsLowStock,
		})
	}
	return resp
}

func toHistoryResponse(h *inventory.History) dto.HistoryResponse {
	resp := dto.HistoryResponse{
		ProductID: h.ProductID,
		BranchID:  h.BranchID,
		Opening:   h.Opening,
		Entries:   make([]dto.HistoryEntryResponse, 0, len(h.Entries)),
	}
	for _, e := range h.Entries {
		resp.Entries = append(resp.Entries, dto.HistoryEntryResponse{
			MovementResponse: toMovementResponse(e.Movement),
			QtyIn:            e.QtyIn,
			QtyOut:           e.QtyOut,
			Balance:          e.Balance,
		})
	}
	resp.Summary.TotalIn = h.Summary.TotalIn
	resp.Summary.TotalOut = h.Summary.TotalOut
	resp.Summary.PhysicalStock = h.Summary.PhysicalStock
	resp.Summary.Reserved = h.Summary.Reserved
	resp.Summary.Available = h.Summary.Available
	resp.Summary.StockValue = h.Summary.StockValue
	return resp
}

func toTransferResponse(t *entity.ConversionTransfer) dto.TransferResponse {
	return dto.TransferResponse{
		ID:              t.ID,
		SourceProductID: t.SourceProductID,
		TargetProductID: t.TargetProductID,
		BranchID:        t.BranchID,
		Date:            t.Date,
		InputQuantity:   t.InputQuantity,
		InputUnit:       t.InputUnit,
		OutputQuantity:  t.OutputQuantity,
		OutputUnit:      t.OutputUnit,
		DensityFactor:   t.DensityFactor,
		ConversionKind:  string(t.Kind),
		InboundUnitCost: t.InboundUnitCost,
		CostOfGoods:     t.CostOfGoods,
	}
}

func toReversalResponse(r *inventory.ReversalResult) dto.ReversalResponse {
	return dto.ReversalResponse{
		Source:    r.Source.Key(),
		Removed:   toMovementResponses(r.Removed),
		Snapshots: toSnapshotResponses(r.Snapshots),
	}
}

func toReservationResponse(s entity.ReservationState) dto.ReservationStateResponse {
	return dto.ReservationStateResponse{
		ProductID:         s.ProductID,
		BranchID:          s.BranchID,
		PhysicalStock:     s.PhysicalStock,
		ReservedQuantity:  s.ReservedQuantity,
		AvailableQuantity: s.AvailableQuantity,
	}
}
