package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Inventario-ledger/internal/application/dto"
	"github.com/jhoicas/Inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/application/reconcile"
	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/jhoicas/Inventario-ledger/internal/domain/source"
	"github.com/jhoicas/Inventario-ledger/internal/infrastructure/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(n int) time.Time { return time.Date(2024, 3, n, 0, 0, 0, 0, time.UTC) }

type env struct {
	store   *memory.Store
	sources *memory.Sources
	gate    *inventory.MemoryGate
	ledger  *inventory.Ledger
	engine  *reconcile.Engine
}

func newEnv(t *testing.T) env {
	t.Helper()
	store := memory.NewStore()
	density := d("0.9")
	store.AddProduct(&entity.Product{ID: "p1", SKU: "ACE-1", Name: "Aceite de Coco", Unit: "kg", SalePrice: d("15")})
	store.AddProduct(&entity.Product{ID: "bulk", SKU: "GRA-1", Name: "Aceite granel", Unit: "kg", Density: &density})
	store.AddProduct(&entity.Product{ID: "retail", SKU: "BOT-1", Name: "Aceite botella", Unit: "ml"})
	gate := inventory.NewMemoryGate()
	ledger := inventory.NewLedger(store, memory.NewReservations(), inventory.WithGate(gate))
	sources := memory.NewSources()
	staging := func() reconcile.Staging { return memory.NewStaging(store.Products()) }
	return env{
		store:   store,
		sources: sources,
		gate:    gate,
		ledger:  ledger,
		engine:  reconcile.NewEngine(ledger, store, store, sources, staging, gate, nil),
	}
}

// record registra el evento en su flujo de origen y, si live, también en el ledger.
func (e env) record(t *testing.T, live bool, events ...source.Event) {
	t.Helper()
	e.sources.Add(events...)
	if !live {
		return
	}
	_, err := e.ledger.Apply(context.Background(), inventory.ApplyOptions{}, events...)
	require.NoError(t, err)
}

func (e env) snapshots(t *testing.T) map[string]*entity.StockSnapshot {
	t.Helper()
	data, err := e.store.Dataset(context.Background())
	require.NoError(t, err)
	out := make(map[string]*entity.StockSnapshot, len(data.Snapshots))
	for _, s := range data.Snapshots {
		out[entity.PairKey(s.ProductID, s.BranchID)] = s
	}
	return out
}

func (e env) dropSnapshots(t *testing.T) {
	t.Helper()
	err := e.store.Run(context.Background(), func(ctx context.Context, repos repository.Repositories) error {
		snaps, err := repos.Snapshots.List(ctx)
		if err != nil {
			return err
		}
		for _, s := range snaps {
			if err := repos.Snapshots.Delete(ctx, s.ProductID, s.BranchID); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func purchaseEv(id, branch string, date time.Time, qty, cost string) source.PurchaseReceipt {
	return source.PurchaseReceipt{ReceiptID: id, ProductID: "p1", BranchID: branch, Date: date, Quantity: d(qty), UnitCost: d(cost)}
}

func saleEv(id, branch string, date time.Time, qty string) source.SaleLine {
	return source.SaleLine{SaleID: id, Line: "1", ProductID: "p1", BranchID: branch, Date: date, Quantity: d(qty), UnitPrice: d("15")}
}

func seedScenario(t *testing.T, e env) {
	t.Helper()
	e.record(t, true,
		purchaseEv("R-1", "b1", day(1), "10", "2"),
		purchaseEv("R-2", "b1", day(2), "5", "3"),
		purchaseEv("R-3", "b2", day(1), "8", "4"),
		saleEv("S-1", "b1", day(3), "12"),
		saleEv("S-2", "b2", day(4), "3"),
	)
}

func TestRebuildAll_SnapshotsIgualesALaSumaManual(t *testing.T) {
	e := newEnv(t)
	seedScenario(t, e)
	e.dropSnapshots(t)
	require.Empty(t, e.snapshots(t))

	res, err := e.engine.RebuildAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Events)
	assert.Equal(t, 5, res.Movements)
	assert.Equal(t, 2, res.Pairs)
	assert.Empty(t, res.NegativePairs)

	snaps := e.snapshots(t)
	b1 := snaps[entity.PairKey("p1", "b1")]
	require.NotNil(t, b1)
	assert.True(t, d("3").Equal(b1.CurrentStock), "10 + 5 - 12")
	assert.True(t, d("15").Equal(b1.StockInTotal))
	assert.True(t, d("12").Equal(b1.StockOutTotal))
	assert.True(t, d("9").Equal(b1.StockValue), "quedan 3 de la capa a 3")

	b2 := snaps[entity.PairKey("p1", "b2")]
	require.NotNil(t, b2)
	assert.True(t, d("5").Equal(b2.CurrentStock), "8 - 3")
	assert.True(t, d("20").Equal(b2.StockValue), "5 × 4")
}

func TestRebuildAll_EsIdempotente(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seedScenario(t, e)

	_, err := e.engine.RebuildAll(ctx)
	require.NoError(t, err)
	first, err := e.store.Dataset(ctx)
	require.NoError(t, err)
	_, err = e.engine.RebuildAll(ctx)
	require.NoError(t, err)
	second, err := e.store.Dataset(ctx)
	require.NoError(t, err)

	require.Len(t, second.Movements, len(first.Movements))
	for i := range first.Movements {
		assert.Equal(t, first.Movements[i].ID, second.Movements[i].ID)
		assert.True(t, first.Movements[i].Remaining.Equal(second.Movements[i].Remaining))
	}
	require.Len(t, second.Snapshots, len(first.Snapshots))
	for i := range first.Snapshots {
		assert.True(t, first.Snapshots[i].Equal(second.Snapshots[i]), "snapshot %s", first.Snapshots[i].ProductID)
	}
	assert.Len(t, second.Consumptions, len(first.Consumptions))
}

func TestRebuildAll_ConservaAjustesManualesYTraslados(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.record(t, true, source.PurchaseReceipt{ReceiptID: "R-9", ProductID: "bulk", BranchID: "b1", Date: day(1), Quantity: d("9"), UnitCost: d("20")})
	_, err := e.ledger.RegisterMovementFromRequest(ctx, dto.RegisterMovementRequest{
		ProductID: "p1", BranchID: "b1", Type: inventory.MovementTypeADJUSTMENT, Quantity: d("-2"), Reference: "AJ-1",
	})
	require.NoError(t, err)
	_, err = e.ledger.Transfer(ctx, inventory.TransferInput{
		ID: "T-1", SourceProductID: "bulk", TargetProductID: "retail", BranchID: "b1", Date: day(2), InputQuantity: d("4.5"),
	})
	require.NoError(t, err)
	before := e.snapshots(t)

	_, err = e.engine.RebuildAll(ctx)
	require.NoError(t, err)
	after := e.snapshots(t)

	require.Len(t, after, len(before))
	for k, snap := range before {
		assert.True(t, snap.CurrentStock.Equal(after[k].CurrentStock), "stock de %s", k)
	}
	assert.True(t, d("-2").Equal(after[entity.PairKey("p1", "b1")].CurrentStock))
	assert.True(t, d("5000").Equal(after[entity.PairKey("retail", "b1")].CurrentStock))

	_, err = e.ledger.CancelTransfer(ctx, "T-1")
	require.NoError(t, err, "el traslado sigue siendo cancelable tras reconstruir")
}

func TestRebuildAll_FallaDejaElLedgerIntacto(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seedScenario(t, e)
	before := e.snapshots(t)
	e.record(t, false, source.SaleLine{SaleID: "S-X", Line: "1", BranchID: "b1", Date: day(5), Quantity: d("1")})

	_, err := e.engine.RebuildAll(ctx)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, before, e.snapshots(t))
	assert.False(t, e.gate.Rebuilding(), "el gate se libera")

	_, err = e.ledger.RecordInbound(ctx, inventory.InboundInput{ProductID: "p1", BranchID: "b1", Quantity: d("1"), UnitCost: d("1")})
	assert.NoError(t, err)
}

func TestRebuildAll_UnaSolaALaVez(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	release, err := e.gate.Exclusive(ctx)
	require.NoError(t, err)
	defer release()

	_, err = e.engine.RebuildAll(ctx)
	assert.ErrorIs(t, err, domain.ErrRebuildInProgress)
	_, err = e.ledger.RecordInbound(ctx, inventory.InboundInput{ProductID: "p1", BranchID: "b1", Quantity: d("1"), UnitCost: d("1")})
	assert.ErrorIs(t, err, domain.ErrRebuildInProgress)
}

func TestCheckDiscrepancies_LedgerConsistenteNoReporta(t *testing.T) {
	e := newEnv(t)
	seedScenario(t, e)

	report, err := e.engine.CheckDiscrepancies(context.Background())
	require.NoError(t, err)
	assert.False(t, report.HasDrift())
	assert.NoError(t, report.Err())
}

func TestCheckDiscrepancies_VentaSinMovimientoYFix(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seedScenario(t, e)
	e.record(t, false, saleEv("S-3", "b2", day(6), "2"))
	before, err := e.store.Dataset(ctx)
	require.NoError(t, err)

	report, err := e.engine.CheckDiscrepancies(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.MissingCount())
	missing := report.Missing[entity.SourceSale]
	require.Len(t, missing, 1)
	assert.Equal(t, "sale:S-3:1", missing[0].Reference)
	assert.Equal(t, string(entity.MovementOutbound), missing[0].Direction)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, "b2", report.Drifts[0].BranchID)
	assert.True(t, d("-2").Equal(report.Drifts[0].Delta))
	assert.ErrorIs(t, report.Err(), domain.ErrReconciliationDrift)

	res, err := e.engine.Fix(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	after, err := e.store.Dataset(ctx)
	require.NoError(t, err)
	require.Len(t, after.Movements, len(before.Movements)+1)
	prev := make(map[string]*entity.MovementRecord, len(before.Movements))
	for _, m := range before.Movements {
		prev[m.ID] = m
	}
	for _, m := range after.Movements {
		old, ok := prev[m.ID]
		if !ok {
			assert.Equal(t, "sale:S-3:1", m.Source.Key())
			continue
		}
		if old.ProductID == "p1" && old.BranchID == "b2" && old.IsInbound() {
			assert.True(t, old.Remaining.Sub(d("2")).Equal(m.Remaining), "la capa de b2 cubre la venta nueva")
			continue
		}
		assert.Equal(t, old, m, "movimiento %s sin cambios", m.ID)
	}

	res, err = e.engine.Fix(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Skipped, "no duplica")

	report, err = e.engine.CheckDiscrepancies(ctx)
	require.NoError(t, err)
	assert.False(t, report.HasDrift())
}

func TestCheckDiscrepancies_SnapshotDesactualizado(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seedScenario(t, e)
	err := e.store.Run(ctx, func(ctx context.Context, repos repository.Repositories) error {
		snap, err := repos.Snapshots.Get(ctx, "p1", "b1")
		if err != nil {
			return err
		}
		snap.CurrentStock = d("99")
		return repos.Snapshots.Upsert(ctx, snap)
	})
	require.NoError(t, err)

	_, fix, err := e.engine.CheckAndFix(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, fix.Inserted)
	assert.Equal(t, 1, fix.Recomputed)
	assert.True(t, d("3").Equal(e.snapshots(t)[entity.PairKey("p1", "b1")].CurrentStock))
}

func TestDeleteAllFor_ReiniciaElPar(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seedScenario(t, e)

	n, err := e.engine.DeleteAllFor(ctx, "p1", "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, ok := e.snapshots(t)[entity.PairKey("p1", "b1")]
	assert.False(t, ok)
	_, ok = e.snapshots(t)[entity.PairKey("p1", "b2")]
	assert.True(t, ok, "la otra sucursal no se toca")
}

func TestDeleteAllFor_EsperaEscriturasEnCursoYTomaElGate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seedScenario(t, e)

	leave, err := e.gate.Enter(ctx)
	require.NoError(t, err)

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := e.engine.DeleteAllFor(ctx, "p1", "b1")
		done <- result{n, err}
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("el reinicio no debe correr con una escritura en curso")
	default:
	}
	assert.True(t, e.gate.Rebuilding(), "el gate queda pendiente en exclusivo")
	_, err = e.gate.Enter(ctx)
	assert.ErrorIs(t, err, domain.ErrRebuildInProgress, "nuevas escrituras fallan mientras espera")

	leave()
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 3, res.n)
	assert.False(t, e.gate.Rebuilding(), "el gate se libera")
}
