// Package reconcile reconstruye el ledger desde las transacciones de origen y detecta o
// corrige diferencias entre el ledger, los snapshots y los flujos externos.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jhoicas/Inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	dominv "github.com/jhoicas/Inventario-ledger/internal/domain/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/jhoicas/Inventario-ledger/internal/domain/source"
	"github.com/jhoicas/Inventario-ledger/pkg/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// ReplayOrder orden fijo de reproducción: primero todo lo que crea capas, luego lo que
// las consume; los traslados al final.
var ReplayOrder = []entity.SourceType{
	entity.SourcePurchase,
	entity.SourceProduction,
	entity.SourceConsignment,
	entity.SourceSale,
	entity.SourceOpname,
	entity.SourceManual,
	entity.SourceProductionMaterial,
	entity.SourceTransfer,
}

// Staging ledger temporal donde se reproduce la historia antes del intercambio.
type Staging interface {
	inventory.TxRunner
	Dataset(ctx context.Context) (repository.Dataset, error)
}

// StagingFactory crea un staging vacío por reconstrucción.
type StagingFactory func() Staging

// Engine motor de reconstrucción y conciliación.
type Engine struct {
	ledger  *inventory.Ledger
	tx      inventory.TxRunner
	store   repository.LedgerStore
	sources repository.SourceReader
	staging StagingFactory
	gate    inventory.Gate
	log     *logger.Logger
	now     func() time.Time
}

// NewEngine construye el motor. gate debe ser el mismo que usa el ledger en vivo.
func NewEngine(
	ledger *inventory.Ledger,
	tx inventory.TxRunner,
	store repository.LedgerStore,
	sources repository.SourceReader,
	staging StagingFactory,
	gate inventory.Gate,
	log *logger.Logger,
) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		ledger:  ledger,
		tx:      tx,
		store:   store,
		sources: sources,
		staging: staging,
		gate:    gate,
		log:     log.Component("reconcile"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RebuildAll reproduce todas las transacciones de origen en un staging y reemplaza el
// ledger persistido en una sola transacción. Si algo falla antes del intercambio el
// ledger persistido queda intacto. Las escrituras en vivo fallan mientras corre.
func (e *Engine) RebuildAll(ctx context.Context) (*RebuildResult, error) {
	release, err := e.gate.Exclusive(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	res := &RebuildResult{StartedAt: e.now()}
	e.log.Info().Msg("reconstrucción del ledger iniciada")

	batches, err := e.loadEvents(ctx)
	if err != nil {
		return nil, err
	}
	data, events, err := e.replay(ctx, batches)
	if err != nil {
		e.log.Error().Err(err).Msg("reconstrucción abortada, ledger sin cambios")
		return nil, err
	}
	if err := e.store.ReplaceAll(ctx, data); err != nil {
		return nil, fmt.Errorf("intercambiar ledger: %w", err)
	}

	res.Events = events
	res.Movements = len(data.Movements)
	res.Pairs = len(data.Snapshots)
	for _, snap := range data.Snapshots {
		if snap.HasNegative {
			res.NegativePairs = append(res.NegativePairs, repository.Pair{ProductID: snap.ProductID, BranchID: snap.BranchID})
		}
	}
	res.FinishedAt = e.now()
	e.log.Info().
		Int("events", res.Events).
		Int("movements", res.Movements).
		Int("pairs", res.Pairs).
		Int("negative_pairs", len(res.NegativePairs)).
		Dur("duration", res.FinishedAt.Sub(res.StartedAt)).
		Msg("reconstrucción del ledger terminada")
	return res, nil
}

// CheckDiscrepancies lista por tipo de origen las transacciones sin movimiento y por par
// la diferencia entre el saldo reconstruido y el snapshot persistido, además de los
// snapshots que no coinciden con la proyección de su propio ledger.
func (e *Engine) CheckDiscrepancies(ctx context.Context) (*Report, error) {
	batches, err := e.loadEvents(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{GeneratedAt: e.now(), Missing: make(map[entity.SourceType][]MissingEntry)}

	var persisted map[string]*entity.StockSnapshot
	var projected map[string]*entity.StockSnapshot
	err = e.tx.Run(ctx, func(ctx context.Context, repos repository.Repositories) error {
		for i, t := range ReplayOrder {
			keys, err := repos.Movements.SourceKeys(ctx, t)
			if err != nil {
				return err
			}
			for _, ev := range batches[i] {
				it := ev.Movement()
				if it.Direction == source.DirectionNone {
					continue
				}
				if _, ok := keys[ev.Reference().Key()]; ok {
					continue
				}
				report.Missing[t] = append(report.Missing[t], missingEntry(t, ev, it))
			}
		}
		var err error
		persisted, projected, err = e.liveState(ctx, repos)
		return err
	})
	if err != nil {
		return nil, err
	}

	data, _, err := e.replay(ctx, batches)
	if err != nil {
		return nil, err
	}
	expected := make(map[string]*entity.StockSnapshot, len(data.Snapshots))
	for _, snap := range data.Snapshots {
		expected[entity.PairKey(snap.ProductID, snap.BranchID)] = snap
	}
	for _, key := range unionKeys(expected, persisted) {
		exp, act := stockOf(expected[key]), stockOf(persisted[key])
		if !exp.Equal(act) {
			p := pairOf(key, expected, persisted)
			report.Drifts = append(report.Drifts, newDrift(p.ProductID, p.BranchID, exp, act))
		}
	}
	for _, key := range unionKeys(projected, persisted) {
		proj, snap := projected[key], persisted[key]
		if proj != nil && proj.Equal(snap) {
			continue
		}
		p := pairOf(key, projected, persisted)
		report.Stale = append(report.Stale, newDrift(p.ProductID, p.BranchID, stockOf(proj), stockOf(snap)))
	}

	if report.HasDrift() {
		e.log.Warn().
			Int("missing", report.MissingCount()).
			Int("drifts", len(report.Drifts)).
			Int("stale", len(report.Stale)).
			Msg("diferencias en el ledger")
	}
	return report, nil
}

// Fix inserta solo los movimientos faltantes del reporte (omite referencias que ya
// tienen movimiento) y recalcula los snapshots afectados desde el ledger. Repetirlo no
// duplica nada. Las fallas por evento se acumulan y no detienen el resto.
func (e *Engine) Fix(ctx context.Context, report *Report) (*FixResult, error) {
	if report == nil {
		return nil, fmt.Errorf("%w: reporte vacío", domain.ErrInvalidInput)
	}
	release, err := e.gate.Exclusive(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ledger := e.ledger.Ungated()
	res := &FixResult{}
	var errs error
	touched := make(map[string]repository.Pair)
	for _, t := range ReplayOrder {
		for _, m := range report.Missing[t] {
			if m.Event == nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: evento de origen no disponible", m.Reference))
				continue
			}
			_, err := ledger.Apply(ctx, inventory.ApplyOptions{AllowNegative: true}, m.Event)
			switch {
			case err == nil:
				res.Inserted++
				p := repository.Pair{ProductID: m.ProductID, BranchID: m.BranchID}
				touched[p.Key()] = p
			case errors.Is(err, domain.ErrDuplicateSourceReference):
				res.Skipped++
			default:
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", m.Reference, err))
			}
		}
	}
	for _, d := range append(append([]Drift{}, report.Drifts...), report.Stale...) {
		touched[d.pair().Key()] = d.pair()
	}
	keys := make([]string, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p := touched[k]
		if _, err := ledger.Recompute(ctx, p.ProductID, p.BranchID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("recalcular %s: %w", k, err))
			continue
		}
		res.Recomputed++
	}
	e.log.Info().
		Int("inserted", res.Inserted).
		Int("skipped", res.Skipped).
		Int("recomputed", res.Recomputed).
		Int("errors", len(multierr.Errors(errs))).
		Msg("corrección del ledger aplicada")
	return res, errs
}

// CheckAndFix revisa y corrige en una sola llamada (los eventos no viajan en el reporte serializado).
func (e *Engine) CheckAndFix(ctx context.Context) (*Report, *FixResult, error) {
	report, err := e.CheckDiscrepancies(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !report.HasDrift() {
		return report, &FixResult{}, nil
	}
	res, err := e.Fix(ctx, report)
	return report, res, err
}

// DeleteAllFor reinicia un par: movimientos, detalle de consumo, snapshot y reservas.
// Corre con el gate en modo exclusivo, como la reconstrucción.
func (e *Engine) DeleteAllFor(ctx context.Context, productID, branchID string) (int, error) {
	release, err := e.gate.Exclusive(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	n, err := e.ledger.Ungated().Purge(ctx, productID, branchID)
	if err != nil {
		return 0, err
	}
	e.log.Warn().Str("product_id", productID).Str("branch_id", branchID).Int("movements", n).Msg("par reiniciado")
	return n, nil
}

// loadEvents carga cada tipo de origen en paralelo; el resultado sigue ReplayOrder.
func (e *Engine) loadEvents(ctx context.Context) ([][]source.Event, error) {
	batches := make([][]source.Event, len(ReplayOrder))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range ReplayOrder {
		g.Go(func() error {
			var events []source.Event
			var err error
			switch t {
			case entity.SourceManual:
				events, err = e.ledger.ManualEvents(gctx)
			case entity.SourceTransfer:
				events, err = e.ledger.TransferEvents(gctx)
			default:
				events, err = e.sources.Load(gctx, t)
			}
			if err != nil {
				return fmt.Errorf("cargar origen %s: %w", t, err)
			}
			batches[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}

// replay reproduce los eventos en un staging nuevo con sobreconsumo autorizado.
func (e *Engine) replay(ctx context.Context, batches [][]source.Event) (repository.Dataset, int, error) {
	staging := e.staging()
	ledger := inventory.NewLedger(staging, nil,
		inventory.WithStrategy(e.ledger.Strategy()),
		inventory.WithClock(sequenceClock(e.now())),
		inventory.WithLogger(logger.Nop()),
	)
	count := 0
	for _, events := range batches {
		for _, ev := range events {
			if _, err := ledger.Apply(ctx, inventory.ApplyOptions{AllowNegative: true}, ev); err != nil {
				return repository.Dataset{}, 0, fmt.Errorf("reproducir %s: %w", ev.Reference().Key(), err)
			}
			count++
		}
	}
	data, err := staging.Dataset(ctx)
	if err != nil {
		return repository.Dataset{}, 0, err
	}
	return data, count, nil
}

// liveState snapshots persistidos y proyección del ledger actual por par.
func (e *Engine) liveState(ctx context.Context, repos repository.Repositories) (map[string]*entity.StockSnapshot, map[string]*entity.StockSnapshot, error) {
	snaps, err := repos.Snapshots.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	persisted := make(map[string]*entity.StockSnapshot, len(snaps))
	for _, s := range snaps {
		persisted[entity.PairKey(s.ProductID, s.BranchID)] = s
	}
	pairs, err := repos.Movements.Pairs(ctx)
	if err != nil {
		return nil, nil, err
	}
	projected := make(map[string]*entity.StockSnapshot, len(pairs))
	for _, p := range pairs {
		movs, err := repos.Movements.ListByPair(ctx, p.ProductID, p.BranchID, nil, nil)
		if err != nil {
			return nil, nil, err
		}
		product, err := repos.Products.GetByID(ctx, p.ProductID)
		if err != nil {
			return nil, nil, err
		}
		snap := dominv.Project(p.ProductID, p.BranchID, movs, e.ledger.Strategy(), salePriceOf(product))
		projected[p.Key()] = snap
	}
	return persisted, projected, nil
}

func missingEntry(t entity.SourceType, ev source.Event, it source.Intent) MissingEntry {
	dir := string(entity.MovementInbound)
	if it.Direction == source.DirectionOutbound {
		dir = string(entity.MovementOutbound)
	}
	return MissingEntry{
		SourceType: t,
		Reference:  ev.Reference().Key(),
		ProductID:  it.ProductID,
		BranchID:   it.BranchID,
		Date:       it.Date,
		Quantity:   it.Quantity,
		Direction:  dir,
		Event:      ev,
	}
}

// sequenceClock reloj determinista para el staging: cada llamada avanza un microsegundo.
func sequenceClock(base time.Time) func() time.Time {
	var n int64
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Microsecond)
	}
}

func salePriceOf(p *entity.Product) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.SalePrice
}

func stockOf(s *entity.StockSnapshot) decimal.Decimal {
	if s == nil {
		return decimal.Zero
	}
	return s.CurrentStock
}

// unionKeys claves de ambos mapas en orden.
func unionKeys(a, b map[string]*entity.StockSnapshot) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for _, m := range []map[string]*entity.StockSnapshot{a, b} {
		for k := range m {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func pairOf(key string, a, b map[string]*entity.StockSnapshot) repository.Pair {
	s := a[key]
	if s == nil {
		s = b[key]
	}
	return repository.Pair{ProductID: s.ProductID, BranchID: s.BranchID}
}
