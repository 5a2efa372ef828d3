package inventory

import (
	"context"

	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
)

// TxRunner ejecuta una función dentro de una transacción, pasando repositorios atados a esa tx.
// Si fn devuelve error la transacción se descarta completa.
type TxRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error
}

// Gate coordina escrituras en vivo con la reconstrucción del ledger.
// Enter entra en modo compartido y falla con domain.ErrRebuildInProgress mientras una
// reconstrucción tiene el modo exclusivo. Exclusive espera a que terminen las escrituras
// en curso. Ambos devuelven la función que libera.
type Gate interface {
	Enter(ctx context.Context) (func(), error)
	Exclusive(ctx context.Context) (func(), error)
}

type openGate struct{}

func (openGate) Enter(context.Context) (func(), error)     { return func() {}, nil }
func (openGate) Exclusive(context.Context) (func(), error) { return func() {}, nil }
