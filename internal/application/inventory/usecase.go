package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/jhoicas/Inventario-ledger/internal/domain/source"
	"github.com/jhoicas/Inventario-ledger/pkg/logger"
	"github.com/shopspring/decimal"
)

// movementNamespace espacio UUID de los ids derivados de la referencia de origen:
// la misma referencia produce el mismo id en vivo y en la reconstrucción.
var movementNamespace = uuid.MustParse("6f1d2c1e-7a3b-4c55-9d2e-3b8a1f0c9e47")

func movementID(ref entity.SourceRef) string {
	if ref.IsZero() {
		return uuid.NewString()
	}
	return uuid.NewSHA1(movementNamespace, []byte(ref.Key())).String()
}

// Ledger registra movimientos de inventario por (producto, sucursal) con costeo FIFO.
// Cada escritura bloquea los pares afectados (en memoria y en la BD), corre en una sola
// transacción y recalcula el snapshot de cada par antes del commit.
type Ledger struct {
	tx           TxRunner
	reservations repository.ReservationStore
	gate         Gate
	exclusive    bool // quien lo usa ya tiene el gate en modo exclusivo
	locks        *KeyedLocker
	strategy     inventory.CostStrategy
	log          *logger.Logger
	now          func() time.Time
}

// Option configura el Ledger.
type Option func(*Ledger)

// WithGate coordina las escrituras con la reconstrucción.
func WithGate(g Gate) Option { return func(l *Ledger) { l.gate = g } }

// WithStrategy estrategia del costo representativo del snapshot.
func WithStrategy(s inventory.CostStrategy) Option { return func(l *Ledger) { l.strategy = s } }

func WithLogger(log *logger.Logger) Option { return func(l *Ledger) { l.log = log } }

// WithClock reloj usado para CreatedAt y fechas vacías.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// WithLocker comparte el locker por par entre varias instancias.
func WithLocker(k *KeyedLocker) Option { return func(l *Ledger) { l.locks = k } }

// NewLedger construye el ledger. reservations puede ser nil (sin reservas).
func NewLedger(tx TxRunner, reservations repository.ReservationStore, opts ...Option) *Ledger {
	l := &Ledger{
		tx:           tx,
		reservations: reservations,
		gate:         openGate{},
		locks:        NewKeyedLocker(),
		strategy:     inventory.WeightedRemaining{},
		log:          logger.Nop(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ungated copia del ledger sin gate, para quien ya tiene el modo exclusivo.
func (l *Ledger) Ungated() *Ledger {
	c := *l
	c.gate = openGate{}
	c.exclusive = true
	return &c
}

// Strategy estrategia de costo configurada.
func (l *Ledger) Strategy() inventory.CostStrategy { return l.strategy }

// InboundInput entrada al ledger (crea una capa FIFO).
type InboundInput struct {
	ProductID  string
	BranchID   string
	Date       time.Time
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
	SalePrice  decimal.Decimal
	Note       string
	Source     entity.SourceRef
	TransferID string
}

// OutboundInput salida del ledger (consume capas FIFO).
// AllowNegative autoriza el sobreconsumo: lo no cubierto queda como faltante.
type OutboundInput struct {
	ProductID     string
	BranchID      string
	Date          time.Time
	Quantity      decimal.Decimal
	SalePrice     decimal.Decimal
	Note          string
	Source        entity.SourceRef
	TransferID    string
	AllowNegative bool
}

// OutboundResult salida registrada con su detalle de consumo y costo de ventas.
type OutboundResult struct {
	Movement    *entity.MovementRecord
	Details     []entity.ConsumptionDetail
	CostOfGoods decimal.Decimal
}

// ApplyOptions opciones de Apply.
type ApplyOptions struct {
	AllowNegative bool
}

// ReversalResult movimientos eliminados por una reversión y snapshots resultantes.
type ReversalResult struct {
	Source    entity.SourceRef
	Removed   []*entity.MovementRecord
	Snapshots []*entity.StockSnapshot
}

// RecordInbound registra una entrada: capa nueva con remanente = cantidad.
func (l *Ledger) RecordInbound(ctx context.Context, in InboundInput) (*entity.MovementRecord, error) {
	if err := validatePair(in.ProductID, in.BranchID); err != nil {
		return nil, err
	}
	if in.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidQuantity
	}
	if in.UnitCost.LessThan(decimal.Zero) {
		return nil, fmt.Errorf("%w: costo unitario negativo", domain.ErrInvalidInput)
	}
	var out *entity.MovementRecord
	_, err := l.write(ctx, []repository.Pair{{ProductID: in.ProductID, BranchID: in.BranchID}},
		func(ctx context.Context, repos repository.Repositories) error {
			m, err := l.inbound(ctx, repos, in)
			out = m
			return err
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordOutbound registra una salida consumiendo capas FIFO de la más antigua a la más nueva.
// Sin AllowNegative rechaza con *domain.InsufficientStockError cuando la cantidad supera
// el disponible (físico - reservado).
func (l *Ledger) RecordOutbound(ctx context.Context, in OutboundInput) (*OutboundResult, error) {
	if err := validatePair(in.ProductID, in.BranchID); err != nil {
		return nil, err
	}
	if in.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidQuantity
	}
	var out *OutboundResult
	_, err := l.write(ctx, []repository.Pair{{ProductID: in.ProductID, BranchID: in.BranchID}},
		func(ctx context.Context, repos repository.Repositories) error {
			res, err := l.outbound(ctx, repos, in)
			out = res
			return err
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Apply traduce eventos de origen tipados a movimientos. Todos los eventos de una
// llamada se aplican en una sola transacción (ej. producto terminado + materiales).
// Los eventos sin efecto (ajuste con diferencia cero) se omiten.
func (l *Ledger) Apply(ctx context.Context, opts ApplyOptions, events ...source.Event) ([]*entity.MovementRecord, error) {
	intents := make([]source.Intent, 0, len(events))
	pairs := make([]repository.Pair, 0, len(events))
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		it := ev.Movement()
		if it.Direction == source.DirectionNone {
			continue
		}
		intents = append(intents, it)
		pairs = append(pairs, repository.Pair{ProductID: it.ProductID, BranchID: it.BranchID})
	}
	if len(intents) == 0 {
		return nil, nil
	}
	movements := make([]*entity.MovementRecord, 0, len(intents))
	_, err := l.write(ctx, pairs, func(ctx context.Context, repos repository.Repositories) error {
		movements = movements[:0]
		for _, it := range intents {
			m, err := l.applyIntent(ctx, repos, it, opts)
			if err != nil {
				return err
			}
			movements = append(movements, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return movements, nil
}

func (l *Ledger) applyIntent(ctx context.Context, repos repository.Repositories, it source.Intent, opts ApplyOptions) (*entity.MovementRecord, error) {
	if it.Direction == source.DirectionInbound {
		return l.inbound(ctx, repos, InboundInput{
			ProductID: it.ProductID, BranchID: it.BranchID, Date: it.Date, Quantity: it.Quantity,
			UnitCost: it.UnitCost, SalePrice: it.SalePrice, Note: it.Note, Source: it.Source, TransferID: it.TransferID,
		})
	}
	res, err := l.outbound(ctx, repos, OutboundInput{
		ProductID: it.ProductID, BranchID: it.BranchID, Date: it.Date, Quantity: it.Quantity,
		SalePrice: it.SalePrice, Note: it.Note, Source: it.Source, TransferID: it.TransferID,
		AllowNegative: opts.AllowNegative,
	})
	if err != nil {
		return nil, err
	}
	return res.Movement, nil
}

// Reverse elimina los movimientos creados por una transacción de origen (todas sus líneas,
// o solo ref.Line si viene informada) y restaura exactamente las capas que consumieron.
// Una entrada cuya capa ya fue consumida por otras salidas no se puede revertir.
func (l *Ledger) Reverse(ctx context.Context, ref entity.SourceRef) (*ReversalResult, error) {
	if ref.Type == "" || ref.ID == "" {
		return nil, fmt.Errorf("%w: referencia de origen vacía", domain.ErrInvalidInput)
	}
	var pairs []repository.Pair
	err := l.tx.Run(ctx, func(ctx context.Context, repos repository.Repositories) error {
		movs, err := l.sourceMovements(ctx, repos, ref)
		pairs = pairsOf(movs)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, ref.Key())
	}
	result := &ReversalResult{Source: ref}
	snaps, err := l.write(ctx, pairs, func(ctx context.Context, repos repository.Repositories) error {
		removed, err := l.reverse(ctx, repos, ref, pairs)
		result.Removed = removed
		return err
	})
	if err != nil {
		return nil, err
	}
	result.Snapshots = snaps
	return result, nil
}

func (l *Ledger) sourceMovements(ctx context.Context, repos repository.Repositories, ref entity.SourceRef) ([]*entity.MovementRecord, error) {
	movs, err := repos.Movements.ListBySource(ctx, ref.Type, ref.ID)
	if err != nil {
		return nil, err
	}
	if ref.Line == "" {
		return movs, nil
	}
	filtered := movs[:0:0]
	for _, m := range movs {
		if m.Source.Line == ref.Line {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

// reverse deshace primero las salidas (devolviendo cantidad a sus capas) y luego borra
// las entradas, que deben estar intactas.
func (l *Ledger) reverse(ctx context.Context, repos repository.Repositories, ref entity.SourceRef, locked []repository.Pair) ([]*entity.MovementRecord, error) {
	movs, err := l.sourceMovements(ctx, repos, ref)
	if err != nil {
		return nil, err
	}
	if len(movs) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, ref.Key())
	}
	allowed := make(map[string]struct{}, len(locked))
	for _, p := range locked {
		allowed[p.Key()] = struct{}{}
	}
	var outIDs, inIDs, all []string
	for _, m := range movs {
		if _, ok := allowed[entity.PairKey(m.ProductID, m.BranchID)]; !ok {
			return nil, fmt.Errorf("%w: los movimientos de %s cambiaron durante la reversión", domain.ErrConflict, ref.Key())
		}
		all = append(all, m.ID)
		if m.IsInbound() {
			inIDs = append(inIDs, m.ID)
		} else {
			outIDs = append(outIDs, m.ID)
		}
	}

	if len(outIDs) > 0 {
		details, err := repos.Consumptions.ListByOutbound(ctx, outIDs)
		if err != nil {
			return nil, err
		}
		if err := restoreLayers(ctx, repos, details); err != nil {
			return nil, err
		}
		if err := repos.Consumptions.DeleteByOutbound(ctx, outIDs); err != nil {
			return nil, err
		}
	}
	for _, id := range inIDs {
		layer, err := repos.Movements.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if layer != nil && layer.Consumed().GreaterThan(decimal.Zero) {
			return nil, fmt.Errorf("%w: capa %s (%s) consumida %s de %s",
				domain.ErrLayerConsumed, layer.ID, layer.Source.Key(), layer.Consumed(), layer.Quantity)
		}
	}
	if err := repos.Movements.Delete(ctx, all); err != nil {
		return nil, err
	}
	l.log.Info().Str("source", ref.Key()).Int("movements", len(all)).Msg("movimientos revertidos")
	return movs, nil
}

// restoreLayers devuelve a cada capa física lo que las salidas tomaron de ella.
// Las capas virtuales (faltante) no tienen nada que restaurar.
func restoreLayers(ctx context.Context, repos repository.Repositories, details []entity.ConsumptionDetail) error {
	byLayer := make(map[string]decimal.Decimal)
	for _, d := range details {
		if d.IsVirtual() {
			continue
		}
		byLayer[d.LayerID] = byLayer[d.LayerID].Add(d.Quantity)
	}
	ids := make([]string, 0, len(byLayer))
	for id := range byLayer {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		layer, err := repos.Movements.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if layer == nil {
			continue
		}
		restored := layer.Remaining.Add(byLayer[id])
		if restored.GreaterThan(layer.Quantity) {
			return fmt.Errorf("%w: la capa %s quedaría con remanente %s mayor a %s",
				domain.ErrConflict, id, restored, layer.Quantity)
		}
		if err := repos.Movements.UpdateRemaining(ctx, id, restored); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) inbound(ctx context.Context, repos repository.Repositories, in InboundInput) (*entity.MovementRecord, error) {
	if in.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidQuantity
	}
	if err := ensureUnique(ctx, repos, in.Source); err != nil {
		return nil, err
	}
	now := l.now()
	m := &entity.MovementRecord{
		ID:         movementID(in.Source),
		ProductID:  in.ProductID,
		BranchID:   in.BranchID,
		Kind:       entity.MovementInbound,
		Date:       dateOr(in.Date, now),
		CreatedAt:  now,
		Quantity:   in.Quantity,
		Remaining:  in.Quantity,
		UnitCost:   in.UnitCost,
		TotalCost:  in.Quantity.Mul(in.UnitCost),
		SalePrice:  in.SalePrice,
		Shortfall:  decimal.Zero,
		Note:       in.Note,
		Source:     in.Source,
		TransferID: in.TransferID,
	}
	if err := repos.Movements.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (l *Ledger) outbound(ctx context.Context, repos repository.Repositories, in OutboundInput) (*OutboundResult, error) {
	if err := ensureUnique(ctx, repos, in.Source); err != nil {
		return nil, err
	}
	if !in.AllowNegative {
		available, err := l.available(ctx, repos, in.ProductID, in.BranchID)
		if err != nil {
			return nil, err
		}
		if in.Quantity.GreaterThan(available) {
			return nil, &domain.InsufficientStockError{
				ProductID: in.ProductID,
				BranchID:  in.BranchID,
				Requested: in.Quantity,
				Available: available,
			}
		}
	}
	layers, err := repos.Movements.OpenLayers(ctx, in.ProductID, in.BranchID)
	if err != nil {
		return nil, err
	}
	alloc, err := inventory.Allocate(layers, in.Quantity)
	if err != nil {
		return nil, err
	}
	// el faltante se valora al último costo conocido del par
	shortfallCost := alloc.LastUnitCost()
	if alloc.HasShortfall() && len(alloc.Takes) == 0 {
		latest, err := repos.Movements.LatestInbound(ctx, in.ProductID, in.BranchID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			shortfallCost = latest.UnitCost
		}
	}
	total := alloc.TotalCost(shortfallCost)

	now := l.now()
	m := &entity.MovementRecord{
		ID:         movementID(in.Source),
		ProductID:  in.ProductID,
		BranchID:   in.BranchID,
		Kind:       entity.MovementOutbound,
		Date:       dateOr(in.Date, now),
		CreatedAt:  now,
		Quantity:   in.Quantity,
		Remaining:  decimal.Zero,
		UnitCost:   total.Div(in.Quantity).Round(inventory.QuantityPlaces),
		TotalCost:  total,
		SalePrice:  in.SalePrice,
		Shortfall:  alloc.Shortfall,
		Note:       in.Note,
		Source:     in.Source,
		TransferID: in.TransferID,
	}
	if err := repos.Movements.Create(ctx, m); err != nil {
		return nil, err
	}
	for _, take := range alloc.Takes {
		if err := repos.Movements.UpdateRemaining(ctx, take.LayerID, take.RemainingAfter); err != nil {
			return nil, err
		}
	}
	details := alloc.Details(m.ID, shortfallCost)
	if err := repos.Consumptions.CreateBatch(ctx, details); err != nil {
		return nil, err
	}
	if alloc.HasShortfall() {
		l.log.Warn().
			Str("product_id", in.ProductID).
			Str("branch_id", in.BranchID).
			Str("source", in.Source.Key()).
			Str("shortfall", alloc.Shortfall.String()).
			Msg("salida sin capas suficientes, stock negativo")
	}
	return &OutboundResult{Movement: m, Details: details, CostOfGoods: total}, nil
}

// available físico (del ledger) menos reservado.
func (l *Ledger) available(ctx context.Context, repos repository.Repositories, productID, branchID string) (decimal.Decimal, error) {
	physical, err := physicalStock(ctx, repos, productID, branchID)
	if err != nil {
		return decimal.Zero, err
	}
	reserved, err := l.reserved(ctx, productID, branchID)
	if err != nil {
		return decimal.Zero, err
	}
	return physical.Sub(reserved), nil
}

func (l *Ledger) reserved(ctx context.Context, productID, branchID string) (decimal.Decimal, error) {
	if l.reservations == nil {
		return decimal.Zero, nil
	}
	return l.reservations.Reserved(ctx, productID, branchID)
}

func physicalStock(ctx context.Context, repos repository.Repositories, productID, branchID string) (decimal.Decimal, error) {
	movs, err := repos.Movements.ListByPair(ctx, productID, branchID, nil, nil)
	if err != nil {
		return decimal.Zero, err
	}
	return inventory.PhysicalStock(movs), nil
}

// write ejecuta fn con el gate compartido, los pares bloqueados (proceso y BD) y una
// transacción; antes del commit recalcula el snapshot de cada par tocado.
func (l *Ledger) write(ctx context.Context, pairs []repository.Pair, fn func(ctx context.Context, repos repository.Repositories) error) ([]*entity.StockSnapshot, error) {
	return l.writeOrUndo(ctx, pairs, fn, nil)
}

// writeOrUndo como write; si la transacción falla ejecuta undo antes de soltar los
// bloqueos de los pares. Sirve para efectos fuera de la BD (reservas).
func (l *Ledger) writeOrUndo(
	ctx context.Context,
	pairs []repository.Pair,
	fn func(ctx context.Context, repos repository.Repositories) error,
	undo func(ctx context.Context),
) ([]*entity.StockSnapshot, error) {
	leave, err := l.gate.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	ordered := uniquePairs(pairs)
	keys := make([]string, len(ordered))
	for i, p := range ordered {
		keys[i] = p.Key()
	}
	unlock := l.locks.LockMany(keys...)
	defer unlock()

	var snaps []*entity.StockSnapshot
	err = l.tx.Run(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if repos.Locks != nil {
			if !l.exclusive {
				if err := repos.Locks.EnterShared(ctx); err != nil {
					return err
				}
			}
			for _, p := range ordered {
				if err := repos.Locks.LockPair(ctx, p.ProductID, p.BranchID); err != nil {
					return err
				}
			}
		}
		if err := fn(ctx, repos); err != nil {
			return err
		}
		snaps = make([]*entity.StockSnapshot, 0, len(ordered))
		for _, p := range ordered {
			snap, err := l.recompute(ctx, repos, p.ProductID, p.BranchID)
			if err != nil {
				return err
			}
			snaps = append(snaps, snap)
		}
		return nil
	})
	if err != nil {
		if undo != nil {
			undo(context.WithoutCancel(ctx))
		}
		return nil, err
	}
	return snaps, nil
}

// recompute proyecta los movimientos del par y persiste el snapshot.
// Un par sin movimientos no tiene snapshot.
func (l *Ledger) recompute(ctx context.Context, repos repository.Repositories, productID, branchID string) (*entity.StockSnapshot, error) {
	movs, err := repos.Movements.ListByPair(ctx, productID, branchID, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(movs) == 0 {
		if err := repos.Snapshots.Delete(ctx, productID, branchID); err != nil {
			return nil, err
		}
		return &entity.StockSnapshot{ProductID: productID, BranchID: branchID}, nil
	}
	fallback := decimal.Zero
	product, err := repos.Products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product != nil {
		fallback = product.SalePrice
	}
	snap := inventory.Project(productID, branchID, movs, l.strategy, fallback)
	if err := repos.Snapshots.Upsert(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func ensureUnique(ctx context.Context, repos repository.Repositories, ref entity.SourceRef) error {
	if ref.IsZero() {
		return nil
	}
	exists, err := repos.Movements.ExistsSourceKey(ctx, ref.Key())
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateSourceReference, ref.Key())
	}
	return nil
}

func validatePair(productID, branchID string) error {
	if productID == "" || branchID == "" {
		return fmt.Errorf("%w: producto y sucursal son obligatorios", domain.ErrInvalidInput)
	}
	return nil
}

func dateOr(date, now time.Time) time.Time {
	if date.IsZero() {
		return now
	}
	return date
}

func pairsOf(movs []*entity.MovementRecord) []repository.Pair {
	pairs := make([]repository.Pair, 0, len(movs))
	for _, m := range movs {
		pairs = append(pairs, repository.Pair{ProductID: m.ProductID, BranchID: m.BranchID})
	}
	return uniquePairs(pairs)
}

// uniquePairs sin repetidos y ordenados por clave (orden global de bloqueo).
func uniquePairs(pairs []repository.Pair) []repository.Pair {
	seen := make(map[string]struct{}, len(pairs))
	out := make([]repository.Pair, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := seen[p.Key()]; ok {
			continue
		}
		seen[p.Key()] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
