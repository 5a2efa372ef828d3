package memory

import (
	"context"
	"sync"

	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/shopspring/decimal"
)

var _ repository.ReservationStore = (*Reservations)(nil)

// Reservations reservas de un solo proceso.
type Reservations struct {
	mu       sync.Mutex
	reserved map[string]decimal.Decimal
}

// NewReservations crea el store vacío.
func NewReservations() *Reservations {
	return &Reservations{reserved: make(map[string]decimal.Decimal)}
}

func (r *Reservations) Reserved(_ context.Context, productID, branchID string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserved[entity.PairKey(productID, branchID)], nil
}

func (r *Reservations) Reserve(_ context.Context, productID, branchID string, qty, limit decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entity.PairKey(productID, branchID)
	current := r.reserved[key]
	if current.Add(qty).GreaterThan(limit) {
		return current, &domain.InsufficientAvailableError{
			ProductID: productID,
			BranchID:  branchID,
			Requested: qty,
			Available: limit.Sub(current),
		}
	}
	r.reserved[key] = current.Add(qty)
	return r.reserved[key], nil
}

func (r *Reservations) Release(_ context.Context, productID, branchID string, qty decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entity.PairKey(productID, branchID)
	next := r.reserved[key].Sub(qty)
	if next.LessThanOrEqual(decimal.Zero) {
		delete(r.reserved, key)
		return decimal.Zero, nil
	}
	r.reserved[key] = next
	return next, nil
}

func (r *Reservations) Restore(_ context.Context, productID, branchID string, qty decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entity.PairKey(productID, branchID)
	r.reserved[key] = r.reserved[key].Add(qty)
	return r.reserved[key], nil
}

func (r *Reservations) Clear(_ context.Context, productID, branchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, entity.PairKey(productID, branchID))
	return nil
}
