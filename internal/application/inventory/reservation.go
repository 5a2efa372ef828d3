package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/shopspring/decimal"
)

// ReservationInput cantidad a reservar o liberar en un par.
type ReservationInput struct {
	ProductID string
	BranchID  string
	Quantity  decimal.Decimal
}

// CommitInput convierte una reserva en salida real.
type CommitInput struct {
	ProductID string
	BranchID  string
	Quantity  decimal.Decimal
	Date      time.Time
	SalePrice decimal.Decimal
	Note      string
	Source    entity.SourceRef
}

func (l *Ledger) reservationStore() (repository.ReservationStore, error) {
	if l.reservations == nil {
		return nil, fmt.Errorf("%w: reservas no configuradas", domain.ErrConflict)
	}
	return l.reservations, nil
}

func validateReservation(in ReservationInput) error {
	if err := validatePair(in.ProductID, in.BranchID); err != nil {
		return err
	}
	if in.Quantity.LessThanOrEqual(decimal.Zero) {
		return domain.ErrInvalidQuantity
	}
	return nil
}

// Availability físico, reservado y disponible del par.
func (l *Ledger) Availability(ctx context.Context, productID, branchID string) (entity.ReservationState, error) {
	if err := validatePair(productID, branchID); err != nil {
		return entity.ReservationState{}, err
	}
	var physical decimal.Decimal
	err := l.tx.Run(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		physical, err = physicalStock(ctx, repos, productID, branchID)
		return err
	})
	if err != nil {
		return entity.ReservationState{}, err
	}
	reserved, err := l.reserved(ctx, productID, branchID)
	if err != nil {
		return entity.ReservationState{}, err
	}
	return entity.NewReservationState(productID, branchID, physical, reserved), nil
}

// Reserve aparta cantidad para una transacción en borrador. Falla con
// *domain.InsufficientAvailableError si dejaría el disponible bajo cero.
// El físico se lee y la reserva se toma con el par bloqueado en proceso y en BD.
func (l *Ledger) Reserve(ctx context.Context, in ReservationInput) (entity.ReservationState, error) {
	if err := validateReservation(in); err != nil {
		return entity.ReservationState{}, err
	}
	store, err := l.reservationStore()
	if err != nil {
		return entity.ReservationState{}, err
	}
	unlock := l.locks.LockMany(entity.PairKey(in.ProductID, in.BranchID))
	defer unlock()

	var physical, reserved decimal.Decimal
	err = l.tx.Run(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if repos.Locks != nil {
			if err := repos.Locks.LockPair(ctx, in.ProductID, in.BranchID); err != nil {
				return err
			}
		}
		var err error
		physical, err = physicalStock(ctx, repos, in.ProductID, in.BranchID)
		if err != nil {
			return err
		}
		reserved, err = store.Reserve(ctx, in.ProductID, in.BranchID, in.Quantity, physical)
		return err
	})
	if err != nil {
		return entity.ReservationState{}, err
	}
	return entity.NewReservationState(in.ProductID, in.BranchID, physical, reserved), nil
}

// Release libera cantidad reservada (nunca baja de cero).
func (l *Ledger) Release(ctx context.Context, in ReservationInput) (entity.ReservationState, error) {
	if err := validateReservation(in); err != nil {
		return entity.ReservationState{}, err
	}
	store, err := l.reservationStore()
	if err != nil {
		return entity.ReservationState{}, err
	}
	unlock := l.locks.LockMany(entity.PairKey(in.ProductID, in.BranchID))
	defer unlock()

	if _, err := store.Release(ctx, in.ProductID, in.BranchID, in.Quantity); err != nil {
		return entity.ReservationState{}, err
	}
	return l.Availability(ctx, in.ProductID, in.BranchID)
}

// Commit libera la reserva y registra la salida dentro de la misma sección crítica
// del par. Si la salida falla la cantidad liberada se vuelve a reservar antes de
// soltar el par.
func (l *Ledger) Commit(ctx context.Context, in CommitInput) (*OutboundResult, error) {
	if err := validateReservation(ReservationInput{ProductID: in.ProductID, BranchID: in.BranchID, Quantity: in.Quantity}); err != nil {
		return nil, err
	}
	store, err := l.reservationStore()
	if err != nil {
		return nil, err
	}

	var (
		out      *OutboundResult
		released = decimal.Zero
	)
	pair := repository.Pair{ProductID: in.ProductID, BranchID: in.BranchID}
	_, err = l.writeOrUndo(ctx, []repository.Pair{pair},
		func(ctx context.Context, repos repository.Repositories) error {
			reserved, err := store.Reserved(ctx, in.ProductID, in.BranchID)
			if err != nil {
				return err
			}
			if qty := decimal.Min(reserved, in.Quantity); qty.GreaterThan(decimal.Zero) {
				if _, err := store.Release(ctx, in.ProductID, in.BranchID, qty); err != nil {
					return err
				}
				released = qty
			}
			res, err := l.outbound(ctx, repos, OutboundInput{
				ProductID: in.ProductID, BranchID: in.BranchID, Date: in.Date, Quantity: in.Quantity,
				SalePrice: in.SalePrice, Note: in.Note, Source: in.Source,
			})
			out = res
			return err
		},
		func(ctx context.Context) {
			if released.IsZero() {
				return
			}
			if _, err := store.Restore(ctx, in.ProductID, in.BranchID, released); err != nil {
				l.log.Error().Err(err).
					Str("product_id", in.ProductID).
					Str("branch_id", in.BranchID).
					Msg("no se pudo restaurar la reserva")
			}
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}
