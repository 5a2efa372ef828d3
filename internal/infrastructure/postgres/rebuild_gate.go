package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/Inventario-ledger/internal/application/inventory"
)

// rebuildLockKey clave del advisory lock que separa las escrituras en vivo de la reconstrucción.
const rebuildLockKey = "inventario-ledger:rebuild"

var _ inventory.Gate = (*RebuildGate)(nil)

// RebuildGate envuelve otro gate (memoria o Redis). En modo exclusivo además toma el
// advisory lock de sesión sobre rebuildLockKey: espera a que terminen las transacciones
// de escritura de cualquier proceso (EnterShared) y hace fallar las que empiecen después.
type RebuildGate struct {
	pool  *pgxpool.Pool
	inner inventory.Gate
}

// NewRebuildGate construye el gate.
func NewRebuildGate(pool *pgxpool.Pool, inner inventory.Gate) *RebuildGate {
	return &RebuildGate{pool: pool, inner: inner}
}

func (g *RebuildGate) Enter(ctx context.Context) (func(), error) {
	return g.inner.Enter(ctx)
}

// Exclusive se mantiene hasta que se llama la función devuelta, en una conexión dedicada.
func (g *RebuildGate) Exclusive(ctx context.Context) (func(), error) {
	release, err := g.inner.Exclusive(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("conexión para lock de reconstrucción: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, rebuildLockKey); err != nil {
		conn.Release()
		release()
		return nil, fmt.Errorf("lock de reconstrucción: %w", err)
	}
	return func() {
		ctx := context.WithoutCancel(ctx)
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, rebuildLockKey); err != nil {
			// cerrar la sesión suelta el lock
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
		release()
	}, nil
}
