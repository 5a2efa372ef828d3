package repository

import (
	"context"

	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/source"
)

// SourceReader lee las transacciones confirmadas de los flujos externos.
// Cada tipo devuelve sus eventos en orden estable (fecha, id, línea).
type SourceReader interface {
	Load(ctx context.Context, sourceType entity.SourceType) ([]source.Event, error)
}
