package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/Inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/application/reconcile"
	"github.com/jhoicas/Inventario-ledger/pkg/logger"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Ledger        *inventory.Ledger
	Replenishment *inventory.ReplenishmentUseCase
	Engine        *reconcile.Engine
	Queue         RebuildEnqueuer
	Logger        *logger.Logger
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	if deps.Logger != nil {
		app.Use(RequestLogger(deps.Logger))
	}
	api := app.Group("/api")
	inv := api.Group("/inventory")

	inventoryHandler := NewInventoryHandler(deps.Ledger, deps.Replenishment)
	inv.Post("/movements", inventoryHandler.RegisterMovement)
	inv.Post("/events", inventoryHandler.ApplyEvents)
	inv.Delete("/sources/:type/:id", inventoryHandler.ReverseSource)
	inv.Get("/stock", inventoryHandler.ListStock)
	inv.Get("/stock/:product_id/:branch_id/history", inventoryHandler.History)
	inv.Post("/stock/:product_id/:branch_id/recompute", inventoryHandler.Recompute)
	inv.Get("/replenishment-list", inventoryHandler.GetReplenishmentList)

	transferHandler := NewTransferHandler(deps.Ledger)
	inv.Post("/transfers", transferHandler.Create)
	inv.Post("/transfers/batch", transferHandler.CreateBatch)
	inv.Delete("/transfers/:id", transferHandler.Cancel)

	reservationHandler := NewReservationHandler(deps.Ledger)
	inv.Get("/reservations/:product_id/:branch_id", reservationHandler.Get)
	inv.Post("/reservations/reserve", reservationHandler.Reserve)
	inv.Post("/reservations/release", reservationHandler.Release)
	inv.Post("/reservations/commit", reservationHandler.Commit)

	// Reconstrucción y conciliación
	reconcileHandler := NewReconcileHandler(deps.Engine, deps.Queue)
	inv.Delete("/stock/:product_id/:branch_id", reconcileHandler.DeleteAllFor)
	inv.Post("/reconcile/rebuild", reconcileHandler.Rebuild)
	inv.Get("/reconcile/check", reconcileHandler.Check)
	inv.Post("/reconcile/fix", reconcileHandler.Fix)
}

// RequestLogger registra método, ruta, estado y duración de cada petición.
func RequestLogger(log *logger.Logger) fiber.Handler {
	l := log.Component("http")
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		ev := l.Info()
		if status >= fiber.StatusInternalServerError {
			ev = l.Error()
		}
		ev.Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request")
		return err
	}
}
