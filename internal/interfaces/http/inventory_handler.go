package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/Inventario-ledger/internal/application/dto"
	"github.com/jhoicas/Inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/jhoicas/Inventario-ledger/internal/domain/source"
)

// InventoryHandler maneja movimientos, eventos de origen y consultas de stock.
type InventoryHandler struct {
	ledger        *inventory.Ledger
	replenishment *inventory.ReplenishmentUseCase
}

// NewInventoryHandler construye el handler.
func NewInventoryHandler(ledger *inventory.Ledger, replenishment *inventory.ReplenishmentUseCase) *InventoryHandler {
	return &InventoryHandler{ledger: ledger, replenishment: replenishment}
}

// RegisterMovement godoc
// @Summary      Registrar movimiento manual
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        body  body  dto.RegisterMovementRequest  true  "product_id, branch_id, type (IN, OUT, ADJUSTMENT), quantity, unit_cost (IN)"
// @Success      201   {object}  dto.MovementResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Failure      423   {object}  dto.ErrorResponse
// @Router       /api/inventory/movements [post]
func (h *InventoryHandler) RegisterMovement(c *fiber.Ctx) error {
	var in dto.RegisterMovementRequest
	if ok, err := parseBody(c, &in); !ok {
		return err
	}
	m, err := h.ledger.RegisterMovementFromRequest(c.UserContext(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toMovementResponse(m))
}

// ApplyEvents godoc
// @Summary      Aplicar eventos de origen
// @Description  Compras, producción, ventas, consignación, conteo físico o ajustes manuales.
//
//	Todos los eventos se aplican en una sola transacción.
//
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        body  body  dto.ApplyEventsRequest  true  "eventos con kind y payload"
// @Success      201   {array}   dto.MovementResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/inventory/events [post]
func (h *InventoryHandler) ApplyEvents(c *fiber.Ctx) error {
	var in dto.ApplyEventsRequest
	if ok, err := parseBody(c, &in); !ok {
		return err
	}
	events := make([]source.Event, 0, len(in.Events))
	for _, raw := range in.Events {
		ev, err := source.Decode(raw.Kind, raw.Payload)
		if err != nil {
			return writeError(c, err)
		}
		events = append(events, ev)
	}
	movs, err := h.ledger.Apply(c.UserContext(), inventory.ApplyOptions{AllowNegative: in.AllowNegative}, events...)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toMovementResponses(movs))
}

// ReverseSource godoc
// @Summary      Revertir una transacción de origen
// @Description  Elimina los movimientos de la transacción y restaura las capas consumidas.
// @Tags         inventory
// @Produce      json
// @Param        type  path   string  true   "purchase, production, sale, consignment, opname, production_material, manual"
// @Param        id    path   string  true   "id de la transacción"
// @Param        line  query  string  false  "solo esta línea"
// @Success      200   {object}  dto.ReversalResponse
// @Failure      404   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/inventory/sources/{type}/{id} [delete]
func (h *InventoryHandler) ReverseSource(c *fiber.Ctx) error {
	ref := entity.SourceRef{Type: entity.SourceType(c.Params("type")), ID: c.Params("id"), Line: c.Query("line")}
	if ref.Type == entity.SourceTransfer {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "los traslados se anulan en /api/inventory/transfers/{id}"})
	}
	res, err := h.ledger.Reverse(c.UserContext(), ref)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toReversalResponse(res))
}

// ListStock godoc
// @Summary      Listado de stock por producto y sucursal
// @Tags         inventory
// @Produce      json
// @Param        product_id  query  string  false  "producto"
// @Param        branch_id   query  string  false  "sucursal; vacío lista todas (una fila por sucursal)"
// @Param        search      query  string  false  "nombre o SKU"
// @Param        limit       query  int     false  "máximo 100"
// @Param        offset      query  int     false  "desplazamiento"
// @Success      200  {object}  dto.StockListResponse
// @Router       /api/inventory/stock [get]
func (h *InventoryHandler) ListStock(c *fiber.Ctx) error {
	page, err := h.ledger.Query(c.UserContext(), repository.StockFilter{
		ProductID: c.Query("product_id"),
		BranchID:  c.Query("branch_id"),
		Search:    strings.TrimSpace(c.Query("search")),
		Limit:     c.QueryInt("limit", inventory.DefaultPageSize),
		Offset:    c.QueryInt("offset", 0),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toStockListResponse(page))
}

// History godoc
// @Summary      Historial de un par con saldo corrido
// @Tags         inventory
// @Produce      json
// @Param        product_id  path   string  true   "producto"
// @Param        branch_id   path   string  true   "sucursal"
// @Param        from        query  string  false  "fecha inicial (YYYY-MM-DD o RFC3339)"
// @Param        to          query  string  false  "fecha final inclusiva"
// @Success      200  {object}  dto.HistoryResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/inventory/stock/{product_id}/{branch_id}/history [get]
func (h *InventoryHandler) History(c *fiber.Ctx) error {
	from, err := parseDate(c.Query("from"), false)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "from inválido"})
	}
	to, err := parseDate(c.Query("to"), true)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "to inválido"})
	}
	hist, err := h.ledger.History(c.UserContext(), inventory.HistoryFilter{
		ProductID: c.Params("product_id"),
		BranchID:  c.Params("branch_id"),
		From:      from,
		To:        to,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toHistoryResponse(hist))
}

// Recompute godoc
// @Summary      Recalcular el snapshot de un par
// @Tags         inventory
// @Produce      json
// @Param        product_id  path  string  true  "producto"
// @Param        branch_id   path  string  true  "sucursal"
// @Success      200  {object}  dto.SnapshotResponse
// @Router       /api/inventory/stock/{product_id}/{branch_id}/recompute [post]
func (h *InventoryHandler) Recompute(c *fiber.Ctx) error {
	snap, err := h.ledger.Recompute(c.UserContext(), c.Params("product_id"), c.Params("branch_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toSnapshotResponse(snap))
}

// GetReplenishmentList godoc
// @Summary      Lista de reposición
// @Description  Pares en o bajo su punto de reorden con la cantidad sugerida de pedido.
// @Tags         inventory
// @Produce      json
// @Param        branch_id  query  string  false  "sucursal; vacío = todas"
// @Success      200  {array}   dto.ReplenishmentSuggestionDTO
// @Failure      500  {object}  dto.ErrorResponse
// @Router       /api/inventory/replenishment-list [get]
func (h *InventoryHandler) GetReplenishmentList(c *fiber.Ctx) error {
	list, err := h.replenishment.GenerateReplenishmentList(c.UserContext(), c.Query("branch_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"total":          len(list),
		"replenishments": list,
	})
}

// parseDate acepta YYYY-MM-DD o RFC3339. Con endOfDay una fecha sin hora cubre el día completo.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
