package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/Inventario-ledger/internal/application/dto"
	"github.com/jhoicas/Inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
)

// ReservationHandler reservas de transacciones en borrador.
type ReservationHandler struct {
	ledger *inventory.Ledger
}

// NewReservationHandler construye el handler.
func NewReservationHandler(ledger *inventory.Ledger) *ReservationHandler {
	return &ReservationHandler{ledger: ledger}
}

// Get godoc
// @Summary      Físico, reservado y disponible de un par
// @Tags         reservations
// @Produce      json
// @Param        product_id  path  string  true  "producto"
// @Param        branch_id   path  string  true  "sucursal"
// @Success      200  {object}  dto.ReservationStateResponse
// @Router       /api/inventory/reservations/{product_id}/{branch_id} [get]
func (h *ReservationHandler) Get(c *fiber.Ctx) error {
	state, err := h.ledger.Availability(c.UserContext(), c.Params("product_id"), c.Params("branch_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toReservationResponse(state))
}

// Reserve godoc
// @Summary      Reservar cantidad
// @Tags         reservations
// @Accept       json
// @Produce      json
// @Param        body  body  dto.ReservationRequest  true  "par y cantidad"
// @Success      200   {object}  dto.ReservationStateResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/inventory/reservations/reserve [post]
func (h *ReservationHandler) Reserve(c *fiber.Ctx) error {
	var in dto.ReservationRequest
	if ok, err := parseBody(c, &in); !ok {
		return err
	}
	state, err := h.ledger.Reserve(c.UserContext(), inventory.ReservationInput{ProductID: in.ProductID, BranchID: in.BranchID, Quantity: in.Quantity})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toReservationResponse(state))
}

// Release godoc
// @Summary      Liberar cantidad reservada
// @Tags         reservations
// @Accept       json
// @Produce      json
// @Param        body  body  dto.ReservationRequest  true  "par y cantidad"
// @Success      200   {object}  dto.ReservationStateResponse
// @Router       /api/inventory/reservations/release [post]
func (h *ReservationHandler) Release(c *fiber.Ctx) error {
	var in dto.ReservationRequest
	if ok, err := parseBody(c, &in); !ok {
		return err
	}
	state, err := h.ledger.Release(c.UserContext(), inventory.ReservationInput{ProductID: in.ProductID, BranchID: in.BranchID, Quantity: in.Quantity})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toReservationResponse(state))
}

// Commit godoc
// @Summary      Convertir reserva en venta
// @Description  Libera la reserva y registra la salida FIFO; si la salida falla la reserva se restaura.
// @Tags         reservations
// @Accept       json
// @Produce      json
// @Param        body  body  dto.CommitReservationRequest  true  "par, cantidad y referencia de la venta"
// @Success      201   {object}  dto.OutboundResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/inventory/reservations/commit [post]
func (h *ReservationHandler) Commit(c *fiber.Ctx) error {
	var in dto.CommitReservationRequest
	if ok, err := parseBody(c, &in); !ok {
		return err
	}
	cmd := inventory.CommitInput{
		ProductID: in.ProductID,
		BranchID:  in.BranchID,
		Quantity:  in.Quantity,
		SalePrice: in.SalePrice,
		Note:      in.Note,
		Source:    entity.SourceRef{Type: entity.SourceType(in.SourceType), ID: in.SourceID, Line: in.Line},
	}
	if in.Date != nil {
		cmd.Date = *in.Date
	}
	res, err := h.ledger.Commit(c.UserContext(), cmd)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toOutboundResponse(res))
}
