package http

import (
	"errors"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/Inventario-ledger/internal/application/dto"
	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/source"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if dec, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := dec.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// parseBody decodifica y valida el cuerpo. Devuelve false si ya respondió con 400.
func parseBody(c *fiber.Ctx, out interface{}) (bool, error) {
	if err := c.BodyParser(out); err != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if err := validate.Struct(out); err != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}
	return true, nil
}

// writeError traduce errores de dominio a códigos HTTP. Los errores de stock incluyen
// solicitado, disponible y faltante en el mensaje.
func writeError(c *fiber.Ctx, err error) error {
	var stockErr *domain.InsufficientStockError
	var availErr *domain.InsufficientAvailableError
	var densityErr *domain.DensityNotConfiguredError
	switch {
	case errors.As(err, &stockErr):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INSUFFICIENT_STOCK", Message: stockErr.Error()})
	case errors.As(err, &availErr):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INSUFFICIENT_AVAILABLE", Message: availErr.Error()})
	case errors.As(err, &densityErr):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "DENSITY_NOT_CONFIGURED", Message: densityErr.Error()})
	case errors.Is(err, domain.ErrInvalidQuantity):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_QUANTITY", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrUnsupportedConversion),
		errors.Is(err, domain.ErrDuplicatePair),
		errors.Is(err, source.ErrUnknownKind):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, domain.ErrDuplicateSourceReference):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "DUPLICATE_SOURCE", Message: err.Error()})
	case errors.Is(err, domain.ErrLayerConsumed):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "LAYER_CONSUMED", Message: err.Error()})
	case errors.Is(err, domain.ErrReconciliationDrift):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "RECONCILIATION_DRIFT", Message: err.Error()})
	case errors.Is(err, domain.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CONFLICT", Message: err.Error()})
	case errors.Is(err, domain.ErrRebuildInProgress):
		return c.Status(fiber.StatusLocked).JSON(dto.ErrorResponse{Code: "REBUILD_IN_PROGRESS", Message: err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}
