package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/Inventario-ledger/internal/application/dto"
	"github.com/jhoicas/Inventario-ledger/internal/application/inventory"
)

// TransferHandler traslados con conversión entre productos de una misma sucursal.
type TransferHandler struct {
	ledger *inventory.Ledger
}

// NewTransferHandler construye el handler.
func NewTransferHandler(ledger *inventory.Ledger) *TransferHandler {
	return &TransferHandler{ledger: ledger}
}

func transferInput(r dto.TransferRequest) inventory.TransferInput {
	in := inventory.TransferInput{
		ID:              r.ID,
		SourceProductID: r.SourceProductID,
		TargetProductID: r.TargetProductID,
		BranchID:        r.BranchID,
		InputQuantity:   r.Quantity,
		InputUnit:       r.InputUnit,
		OutputUnit:      r.OutputUnit,
		Note:            r.Note,
	}
	if r.Date != nil {
		in.Date = *r.Date
	}
	return in
}

// Create godoc
// @Summary      Registrar traslado con conversión
// @Description  Salida FIFO del origen y entrada convertida en el destino, en una sola transacción.
// @Tags         transfers
// @Accept       json
// @Produce      json
// @Param        body  body  dto.TransferRequest  true  "origen, destino, sucursal, cantidad"
// @Success      201   {object}  dto.TransferResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/inventory/transfers [post]
func (h *TransferHandler) Create(c *fiber.Ctx) error {
	var in dto.TransferRequest
	if ok, err := parseBody(c, &in); !ok {
		return err
	}
	t, err := h.ledger.Transfer(c.UserContext(), transferInput(in))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toTransferResponse(t))
}

// CreateBatch godoc
// @Summary      Registrar lote de traslados
// @Description  Todo el lote se confirma o ninguno. Un par origen/destino repetido rechaza el lote.
// @Tags         transfers
// @Accept       json
// @Produce      json
// @Param        body  body  dto.TransferBatchRequest  true  "traslados"
// @Success      201   {array}   dto.TransferResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/inventory/transfers/batch [post]
func (h *TransferHandler) CreateBatch(c *fiber.Ctx) error {
	var in dto.TransferBatchRequest
	if ok, err := parseBody(c, &in); !ok {
		return err
	}
	inputs := make([]inventory.TransferInput, 0, len(in.Transfers))
	for _, r := range in.Transfers {
		inputs = append(inputs, transferInput(r))
	}
	transfers, err := h.ledger.TransferBatch(c.UserContext(), inputs)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]dto.TransferResponse, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, toTransferResponse(t))
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// Cancel godoc
// @Summary      Anular traslado
// @Tags         transfers
// @Produce      json
// @Param        id   path  string  true  "id del traslado"
// @Success      200  {object}  dto.ReversalResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/inventory/transfers/{id} [delete]
func (h *TransferHandler) Cancel(c *fiber.Ctx) error {
	res, err := h.ledger.CancelTransfer(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toReversalResponse(res))
}

