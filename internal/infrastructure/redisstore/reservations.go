// Package redisstore implementa sobre Redis las piezas del ledger que deben compartirse
// entre procesos: cantidades reservadas y el gate de reconstrucción.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var _ repository.ReservationStore = (*Reservations)(nil)

const (
	reservationPrefix = "ledger:reserved:"
	maxTxRetries      = 10
)

// Reservations cantidades reservadas por par, una clave por par con el decimal como texto.
// Cada cambio es una transacción optimista (WATCH/MULTI) que se reintenta ante conflicto.
type Reservations struct {
	client redis.UniversalClient
	prefix string
}

// NewReservations construye el store sobre un cliente ya conectado.
func NewReservations(client redis.UniversalClient) *Reservations {
	return &Reservations{client: client, prefix: reservationPrefix}
}

func (r *Reservations) key(productID, branchID string) string {
	return r.prefix + entity.PairKey(productID, branchID)
}

// getter lo que comparten el cliente y *redis.Tx para leer una clave.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func read(ctx context.Context, c getter, key string) (decimal.Decimal, error) {
	raw, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("leer reserva %s: %w", key, err)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reserva corrupta en %s: %w", key, err)
	}
	return v, nil
}

func (r *Reservations) Reserved(ctx context.Context, productID, branchID string) (decimal.Decimal, error) {
	return read(ctx, r.client, r.key(productID, branchID))
}

// update aplica fn al valor actual y guarda el resultado; cero borra la clave.
func (r *Reservations) update(ctx context.Context, key string, fn func(current decimal.Decimal) (decimal.Decimal, error)) (decimal.Decimal, error) {
	var next decimal.Decimal
	txf := func(tx *redis.Tx) error {
		current, err := read(ctx, tx, key)
		if err != nil {
			return err
		}
		next, err = fn(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next.LessThanOrEqual(decimal.Zero) {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, next.String(), 0)
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return decimal.Zero, err
		}
		if next.LessThan(decimal.Zero) {
			next = decimal.Zero
		}
		return next, nil
	}
	return decimal.Zero, fmt.Errorf("%w: reserva %s en disputa", domain.ErrConflict, key)
}

func (r *Reservations) Reserve(ctx context.Context, productID, branchID string, qty, limit decimal.Decimal) (decimal.Decimal, error) {
	return r.update(ctx, r.key(productID, branchID), func(current decimal.Decimal) (decimal.Decimal, error) {
		if current.Add(qty).GreaterThan(limit) {
			return current, &domain.InsufficientAvailableError{
				ProductID: productID,
				BranchID:  branchID,
				Requested: qty,
				Available: limit.Sub(current),
			}
		}
		return current.Add(qty), nil
	})
}

func (r *Reservations) Release(ctx context.Context, productID, branchID string, qty decimal.Decimal) (decimal.Decimal, error) {
	return r.update(ctx, r.key(productID, branchID), func(current decimal.Decimal) (decimal.Decimal, error) {
		return decimal.Max(current.Sub(qty), decimal.Zero), nil
	})
}

func (r *Reservations) Restore(ctx context.Context, productID, branchID string, qty decimal.Decimal) (decimal.Decimal, error) {
	return r.update(ctx, r.key(productID, branchID), func(current decimal.Decimal) (decimal.Decimal, error) {
		return current.Add(qty), nil
	})
}

func (r *Reservations) Clear(ctx context.Context, productID, branchID string) error {
	if err := r.client.Del(ctx, r.key(productID, branchID)).Err(); err != nil {
		return fmt.Errorf("borrar reserva: %w", err)
	}
	return nil
}
