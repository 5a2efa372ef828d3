package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Errores de dominio (sin dependencias de infraestructura).
var (
	ErrNotFound      = errors.New("recurso no encontrado")
	ErrInvalidInput  = errors.New("entrada inválida")
	ErrConflict      = errors.New("conflicto con el estado actual")
	ErrDuplicatePair = errors.New("par origen/destino repetido en el lote")

	ErrInvalidQuantity          = errors.New("la cantidad debe ser mayor que cero")
	ErrInsufficientStock        = errors.New("stock insuficiente")
	ErrInsufficientAvailable    = errors.New("disponible insuficiente")
	ErrDensityNotConfigured     = errors.New("densidad no configurada")
	ErrUnsupportedConversion    = errors.New("conversión de unidades no soportada")
	ErrDuplicateSourceReference = errors.New("la referencia de origen ya tiene movimiento")
	ErrLayerConsumed            = errors.New("la capa de entrada ya fue consumida")
	ErrReconciliationDrift      = errors.New("diferencias entre ledger y snapshot")
	ErrRebuildInProgress        = errors.New("reconstrucción del ledger en curso")
)

// InsufficientStockError detalla una salida que supera el disponible.
type InsufficientStockError struct {
	ProductID string
	BranchID  string
	Requested decimal.Decimal
	Available decimal.Decimal
}

// Shortfall cantidad faltante para cubrir la solicitud.
func (e *InsufficientStockError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock insuficiente para %s/%s: solicitado %s, disponible %s, faltante %s",
		e.ProductID, e.BranchID, e.Requested, e.Available, e.Shortfall())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InsufficientAvailableError detalla una reserva que dejaría el disponible bajo cero.
type InsufficientAvailableError struct {
	ProductID string
	BranchID  string
	Requested decimal.Decimal
	Available decimal.Decimal
}

// Shortfall cantidad faltante para cubrir la reserva.
func (e *InsufficientAvailableError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientAvailableError) Error() string {
	return fmt.Sprintf("disponible insuficiente para %s/%s: solicitado %s, disponible %s, faltante %s",
		e.ProductID, e.BranchID, e.Requested, e.Available, e.Shortfall())
}

func (e *InsufficientAvailableError) Unwrap() error { return ErrInsufficientAvailable }

// DensityNotConfiguredError nombra el producto sin densidad válida.
type DensityNotConfiguredError struct {
	ProductID string
	Name      string
}

func (e *DensityNotConfiguredError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("densidad no configurada para el producto %s (%s)", e.Name, e.ProductID)
	}
	return fmt.Sprintf("densidad no configurada para el producto %s", e.ProductID)
}

func (e *DensityNotConfiguredError) Unwrap() error { return ErrDensityNotConfigured }
