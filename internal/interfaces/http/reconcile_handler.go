package http

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/Inventario-ledger/internal/application/dto"
	"github.com/jhoicas/Inventario-ledger/internal/application/reconcile"
)

// RebuildEnqueuer encola una reconstrucción para el worker.
type RebuildEnqueuer interface {
	EnqueueRebuild(ctx context.Context, requestedBy string) (string, error)
}

// ReconcileHandler reconstrucción y conciliación del ledger.
type ReconcileHandler struct {
	engine *reconcile.Engine
	queue  RebuildEnqueuer
}

// NewReconcileHandler construye el handler. queue puede ser nil (sin modo asíncrono).
func NewReconcileHandler(engine *reconcile.Engine, queue RebuildEnqueuer) *ReconcileHandler {
	return &ReconcileHandler{engine: engine, queue: queue}
}

// Rebuild godoc
// @Summary      Reconstruir el ledger
// @Description  Borra y rehace movimientos y snapshots desde las transacciones de origen.
//
//	Con async=true el trabajo se encola y responde 202.
//
// @Tags         reconcile
// @Produce      json
// @Param        async  query  bool  false  "encolar en el worker"
// @Success      200  {object}  reconcile.RebuildResult
// @Success      202  {object}  map[string]string
// @Failure      423  {object}  dto.ErrorResponse
// @Router       /api/inventory/reconcile/rebuild [post]
func (h *ReconcileHandler) Rebuild(c *fiber.Ctx) error {
	if c.QueryBool("async") {
		if h.queue == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: "QUEUE_DISABLED", Message: "cola de trabajos no configurada"})
		}
		id, err := h.queue.EnqueueRebuild(c.UserContext(), "api")
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"task_id": id})
	}
	res, err := h.engine.RebuildAll(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

// Check godoc
// @Summary      Revisar diferencias
// @Description  Transacciones de origen sin movimiento, pares cuyo stock no coincide con el
//
//	replay y snapshots desactualizados. Solo reporta.
//
// @Tags         reconcile
// @Produce      json
// @Success      200  {object}  reconcile.Report
// @Router       /api/inventory/reconcile/check [get]
func (h *ReconcileHandler) Check(c *fiber.Ctx) error {
	report, err := h.engine.CheckDiscrepancies(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(report)
}

// Fix godoc
// @Summary      Revisar y corregir
// @Tags         reconcile
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      423  {object}  dto.ErrorResponse
// @Router       /api/inventory/reconcile/fix [post]
func (h *ReconcileHandler) Fix(c *fiber.Ctx) error {
	report, res, err := h.engine.CheckAndFix(c.UserContext())
	if err != nil && res == nil {
		return writeError(c, err)
	}
	body := fiber.Map{"report": report, "result": res}
	if err != nil {
		body["error"] = err.Error()
	}
	return c.JSON(body)
}

// DeleteAllFor godoc
// @Summary      Reiniciar un par
// @Description  Borra movimientos, detalle de consumo, snapshot y reservas del par.
// @Tags         reconcile
// @Produce      json
// @Param        product_id  path  string  true  "producto"
// @Param        branch_id   path  string  true  "sucursal"
// @Success      200  {object}  map[string]int
// @Failure      423  {object}  dto.ErrorResponse
// @Router       /api/inventory/stock/{product_id}/{branch_id} [delete]
func (h *ReconcileHandler) DeleteAllFor(c *fiber.Ctx) error {
	removed, err := h.engine.DeleteAllFor(c.UserContext(), c.Params("product_id"), c.Params("branch_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"removed_movements": removed})
}
