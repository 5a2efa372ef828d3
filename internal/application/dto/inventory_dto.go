package dto

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RegisterMovementRequest body para POST /api/inventory/movements.
// Type: IN, OUT o ADJUSTMENT (cantidad con signo).
type RegisterMovementRequest struct {
	ProductID string           `json:"product_id" validate:"required"`
	BranchID  string           `json:"branch_id" validate:"required"`
	Type      string           `json:"type" validate:"required,oneof=IN OUT ADJUSTMENT"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitCost  *decimal.Decimal `json:"unit_cost,omitempty"`
	SalePrice decimal.Decimal  `json:"sale_price"`
	Date      *time.Time       `json:"date,omitempty"`
	Reference string           `json:"reference,omitempty"`
	Note      string           `json:"note"`
}

// SourceEventRequest evento de origen sin tipar; Kind elige la variante.
type SourceEventRequest struct {
	Kind    string          `json:"kind" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// ApplyEventsRequest body para POST /api/inventory/events (una sola transacción).
type ApplyEventsRequest struct {
	Events        []SourceEventRequest `json:"events" validate:"required,min=1,dive"`
	AllowNegative bool                 `json:"allow_negative"`
}

// MovementResponse movimiento del ledger.
type MovementResponse struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	BranchID   string          `json:"branch_id"`
	Kind       string          `json:"kind"`
	Date       time.Time       `json:"date"`
	Quantity   decimal.Decimal `json:"quantity"`
	Remaining  decimal.Decimal `json:"remaining"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	SalePrice  decimal.Decimal `json:"sale_price"`
	Shortfall  decimal.Decimal `json:"shortfall"`
	Source     string          `json:"source"`
	TransferID string          `json:"transfer_id,omitempty"`
	Note       string          `json:"note,omitempty"`
}

// ConsumptionResponse capa tomada por una salida (layer_id vacío = faltante).
type ConsumptionResponse struct {
	LayerID  string          `json:"layer_id,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// OutboundResponse salida registrada con su costo de ventas.
type OutboundResponse struct {
	Movement    MovementResponse      `json:"movement"`
	Consumption []ConsumptionResponse `json:"consumption"`
	CostOfGoods decimal.Decimal       `json:"cost_of_goods"`
}

// SnapshotResponse snapshot de stock de un par.
type SnapshotResponse struct {
	ProductID      string          `json:"product_id"`
	BranchID       string          `json:"branch_id"`
	CurrentStock   decimal.Decimal `json:"current_stock"`
	StockInTotal   decimal.Decimal `json:"stock_in_total"`
	StockOutTotal  decimal.Decimal `json:"stock_out_total"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	SalePrice      decimal.Decimal `json:"sale_price"`
	MarginPct      decimal.Decimal `json:"margin_pct"`
	StockValue     decimal.Decimal `json:"stock_value"`
	HasNegative    bool            `json:"has_negative_stock"`
	LastMovementAt time.Time       `json:"last_movement_at"`
}

// StockRowResponse fila del listado de stock.
type StockRowResponse struct {
	SnapshotResponse
	SKU          string          `json:"sku"`
	ProductName  string          `json:"product_name"`
	Unit         string          `json:"unit"`
	BranchName   string          `json:"branch_name"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	IsLowStock   bool            `json:"is_low_stock"`
}

// StockSummaryResponse resumen del listado.
type StockSummaryResponse struct {
	TotalItems    int                        `json:"total_items"`
	StockByUnit   map[string]decimal.Decimal `json:"stock_by_unit"`
	LowStockCount int                        `json:"low_stock_count"`
	NegativeCount int                        `json:"negative_stock_count"`
}

// StockListResponse lista paginada de stock.
type StockListResponse struct {
	Items   []StockRowResponse   `json:"items"`
	Page    PageResponse         `json:"page"`
	Summary StockSummaryResponse `json:"summary"`
}

// HistoryEntryResponse movimiento con saldo corrido.
type HistoryEntryResponse struct {
	MovementResponse
	QtyIn   decimal.Decimal `json:"qty_in"`
	QtyOut  decimal.Decimal `json:"qty_out"`
	Balance decimal.Decimal `json:"balance"`
}

// HistoryResponse historial de un par.
type HistoryResponse struct {
	ProductID string                 `json:"product_id"`
	BranchID  string                 `json:"branch_id"`
	Opening   decimal.Decimal        `json:"opening_balance"`
	Entries   []HistoryEntryResponse `json:"entries"`
	Summary   struct {
		TotalIn       decimal.Decimal `json:"total_in"`
		TotalOut      decimal.Decimal `json:"total_out"`
		PhysicalStock decimal.Decimal `json:"physical_stock"`
		Reserved      decimal.Decimal `json:"reserved"`
		Available     decimal.Decimal `json:"available"`
		StockValue    decimal.Decimal `json:"stock_value"`
	} `json:"summary"`
}

// TransferRequest traslado con conversión entre dos productos de una sucursal.
type TransferRequest struct {
	ID              string          `json:"id,omitempty"`
	SourceProductID string          `json:"source_product_id" validate:"required"`
	TargetProductID string          `json:"target_product_id" validate:"required,nefield=SourceProductID"`
	BranchID        string          `json:"branch_id" validate:"required"`
	Date            *time.Time      `json:"date,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	InputUnit       string          `json:"input_unit,omitempty"`
	OutputUnit      string          `json:"output_unit,omitempty"`
	Note            string          `json:"note"`
}

// TransferBatchRequest lote de traslados atómico.
type TransferBatchRequest struct {
	Transfers []TransferRequest `json:"transfers" validate:"required,min=1,dive"`
}

// TransferResponse traslado registrado.
type TransferResponse struct {
	ID              string          `json:"id"`
	SourceProductID string          `json:"source_product_id"`
	TargetProductID string          `json:"target_product_id"`
	BranchID        string          `json:"branch_id"`
	Date            time.Time       `json:"date"`
	InputQuantity   decimal.Decimal `json:"input_quantity"`
	InputUnit       string          `json:"input_unit"`
	OutputQuantity  decimal.Decimal `json:"output_quantity"`
	OutputUnit      string          `json:"output_unit"`
	DensityFactor   decimal.Decimal `json:"density_factor"`
	ConversionKind  string          `json:"conversion_kind"`
	InboundUnitCost decimal.Decimal `json:"inbound_unit_cost"`
	CostOfGoods     decimal.Decimal `json:"cost_of_goods"`
}

// ReversalResponse resultado de revertir una transacción de origen o un traslado.
type ReversalResponse struct {
	Source    string             `json:"source"`
	Removed   []MovementResponse `json:"removed"`
	Snapshots []SnapshotResponse `json:"snapshots"`
}

// ReservationRequest reservar o liberar cantidad.
type ReservationRequest struct {
	ProductID string          `json:"product_id" validate:"required"`
	BranchID  string          `json:"branch_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// CommitReservationRequest convierte una reserva en venta.
type CommitReservationRequest struct {
	ProductID  string          `json:"product_id" validate:"required"`
	BranchID   string          `json:"branch_id" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
	SourceType string          `json:"source_type" validate:"required"`
	SourceID   string          `json:"source_id" validate:"required"`
	Line       string          `json:"line"`
	SalePrice  decimal.Decimal `json:"sale_price"`
	Date       *time.Time      `json:"date,omitempty"`
	Note       string          `json:"note"`
}

// ReservationStateResponse físico, reservado y disponible.
type ReservationStateResponse struct {
	ProductID         string          `json:"product_id"`
	BranchID          string          `json:"branch_id"`
	PhysicalStock     decimal.Decimal `json:"physical_stock"`
	ReservedQuantity  decimal.Decimal `json:"reserved_quantity"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
}

// ReplenishmentSuggestionDTO sugerencia de reposición para un par bajo su punto de reorden.
type ReplenishmentSuggestionDTO struct {
	ProductID          string          `json:"product_id"`
	BranchID           string          `json:"branch_id"`
	SKU                string          `json:"sku"`
	ProductName        string          `json:"product_name"`
	CurrentStock       decimal.Decimal `json:"current_stock"`
	ReorderPoint       decimal.Decimal `json:"reorder_point"`
	IdealStock         decimal.Decimal `json:"ideal_stock"`          // ReorderPoint * 1.5
	SuggestedOrderQty  decimal.Decimal `json:"suggested_order_qty"`  // IdealStock - CurrentStock
	UnitCost           decimal.Decimal `json:"unit_cost"`            // costo representativo del snapshot
	EstimatedOrderCost decimal.Decimal `json:"estimated_order_cost"` // SuggestedOrderQty * UnitCost
	MarginPct          decimal.Decimal `json:"margin_pct"`
	Priority           int             `json:"priority"` // 1 = más urgente
}
