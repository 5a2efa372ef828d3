package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Inventario-ledger/internal/application/dto"
	"github.com/jhoicas/Inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/application/reconcile"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/source"
	"github.com/jhoicas/Inventario-ledger/internal/infrastructure/memory"
	apphttp "github.com/jhoicas/Inventario-ledger/internal/interfaces/http"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(n int) time.Time { return time.Date(2024, 5, n, 0, 0, 0, 0, time.UTC) }

type fakeQueue struct {
	calls int
	err   error
}

func (q *fakeQueue) EnqueueRebuild(context.Context, string) (string, error) {
	q.calls++
	return "task-1", q.err
}

type testAPI struct {
	app     *fiber.App
	store   *memory.Store
	sources *memory.Sources
	gate    *inventory.MemoryGate
	ledger  *inventory.Ledger
}

func newTestAPI(t *testing.T, queue apphttp.RebuildEnqueuer) testAPI {
	t.Helper()
	store := memory.NewStore()
	density := d("0.9")
	store.AddProduct(&entity.Product{ID: "p1", SKU: "ACE-1", Name: "Aceite de Coco", Unit: "kg", SalePrice: d("15"), ReorderPoint: d("40")})
	store.AddProduct(&entity.Product{ID: "bulk", SKU: "GRA-1", Name: "Aceite granel", Unit: "kg", Density: &density})
	store.AddProduct(&entity.Product{ID: "retail", SKU: "BOT-1", Name: "Aceite botella", Unit: "ml"})
	store.AddBranch(entity.Branch{ID: "b1", Name: "Centro"})
	store.AddBranch(entity.Branch{ID: "b2", Name: "Norte"})

	gate := inventory.NewMemoryGate()
	ledger := inventory.NewLedger(store, memory.NewReservations(), inventory.WithGate(gate))
	sources := memory.NewSources()
	staging := func() reconcile.Staging { return memory.NewStaging(store.Products()) }
	engine := reconcile.NewEngine(ledger, store, store, sources, staging, gate, nil)

	app := fiber.New()
	apphttp.Router(app, apphttp.RouterDeps{
		Ledger:        ledger,
		Replenishment: inventory.NewReplenishmentUseCase(store),
		Engine:        engine,
		Queue:         queue,
	})
	return testAPI{app: app, store: store, sources: sources, gate: gate, ledger: ledger}
}

func (a testAPI) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func event(t *testing.T, kind string, payload interface{}) dto.SourceEventRequest {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return dto.SourceEventRequest{Kind: kind, Payload: raw}
}

func (a testAPI) purchase(t *testing.T, id, product, branch string, date time.Time, qty, cost string) {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/inventory/events", dto.ApplyEventsRequest{Events: []dto.SourceEventRequest{
		event(t, source.KindPurchaseReceipt, source.PurchaseReceipt{ReceiptID: id, ProductID: product, BranchID: branch, Date: date, Quantity: d(qty), UnitCost: d(cost)}),
	}})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
}

func TestRegisterMovement_EntradaYSalidaManual(t *testing.T) {
	api := newTestAPI(t, nil)
	cost := d("2")

	resp := api.do(t, http.MethodPost, "/api/inventory/movements", dto.RegisterMovementRequest{
		ProductID: "p1", BranchID: "b1", Type: "IN", Quantity: d("10"), UnitCost: &cost,
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var in dto.MovementResponse
	decode(t, resp, &in)
	assert.Equal(t, "inbound", in.Kind)
	assert.True(t, d("10").Equal(in.Remaining))

	resp = api.do(t, http.MethodPost, "/api/inventory/movements", dto.RegisterMovementRequest{
		ProductID: "p1", BranchID: "b1", Type: "OUT", Quantity: d("4"),
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var out dto.MovementResponse
	decode(t, resp, &out)
	assert.Equal(t, "outbound", out.Kind)
	assert.True(t, d("8").Equal(out.TotalCost), "4 × 2")
}

func TestRegisterMovement_SinStockRespondeConflictoConFaltante(t *testing.T) {
	api := newTestAPI(t, nil)
	api.purchase(t, "R-1", "p1", "b1", day(1), "10", "2")

	resp := api.do(t, http.MethodPost, "/api/inventory/movements", dto.RegisterMovementRequest{
		ProductID: "p1", BranchID: "b1", Type: "OUT", Quantity: d("25"),
	})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	var body dto.ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "INSUFFICIENT_STOCK", body.Code)
	assert.Contains(t, body.Message, "disponible 10")
	assert.Contains(t, body.Message, "faltante 15")
}

func TestRegisterMovement_CuerpoInvalido(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.do(t, http.MethodPost, "/api/inventory/movements", dto.RegisterMovementRequest{BranchID: "b1", Type: "IN", Quantity: d("1")})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/inventory/movements", dto.RegisterMovementRequest{ProductID: "p1", BranchID: "b1", Type: "TRANSFER", Quantity: d("1")})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestApplyEvents_TipoDesconocidoRechazaTodo(t *testing.T) {
	api := newTestAPI(t, nil)
	resp := api.do(t, http.MethodPost, "/api/inventory/events", dto.ApplyEventsRequest{Events: []dto.SourceEventRequest{
		event(t, source.KindPurchaseReceipt, source.PurchaseReceipt{ReceiptID: "R-1", ProductID: "p1", BranchID: "b1", Date: day(1), Quantity: d("5"), UnitCost: d("1")}),
		{Kind: "devolucion", Payload: json.RawMessage(`{}`)},
	}})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	state, err := api.ledger.Availability(context.Background(), "p1", "b1")
	require.NoError(t, err)
	assert.True(t, state.PhysicalStock.IsZero(), "nada se aplicó")
}

func TestApplyEvents_ReferenciaDuplicada(t *testing.T) {
	api := newTestAPI(t, nil)
	api.purchase(t, "R-1", "p1", "b1", day(1), "10", "2")

	resp := api.do(t, http.MethodPost, "/api/inventory/events", dto.ApplyEventsRequest{Events: []dto.SourceEventRequest{
		event(t, source.KindPurchaseReceipt, source.PurchaseReceipt{ReceiptID: "R-1", ProductID: "p1", BranchID: "b1", Date: day(1), Quantity: d("10"), UnitCost: d("2")}),
	}})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestReverseSource_VentaDevuelveCapas(t *testing.T) {
	api := newTestAPI(t, nil)
	api.purchase(t, "R-1", "p1", "b1", day(1), "10", "2")
	resp := api.do(t, http.MethodPost, "/api/inventory/events", dto.ApplyEventsRequest{Events: []dto.SourceEventRequest{
		event(t, source.KindSaleLine, source.SaleLine{SaleID: "S-1", Line: "1", ProductID: "p1", BranchID: "b1", Date: day(2), Quantity: d("6"), UnitPrice: d("15")}),
	}})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = api.do(t, http.MethodDelete, "/api/inventory/sources/sale/S-1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var rev dto.ReversalResponse
	decode(t, resp, &rev)
	require.Len(t, rev.Removed, 1)
	require.Len(t, rev.Snapshots, 1)
	assert.True(t, d("10").Equal(rev.Snapshots[0].CurrentStock))

	resp = api.do(t, http.MethodDelete, "/api/inventory/sources/sale/S-1", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestListStock_UnaFilaPorSucursal(t *testing.T) {
	api := newTestAPI(t, nil)
	api.purchase(t, "R-1", "p1", "b1", day(1), "10", "2")
	api.purchase(t, "R-2", "p1", "b2", day(1), "8", "4")

	resp := api.do(t, http.MethodGet, "/api/inventory/stock?product_id=p1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var list dto.StockListResponse
	decode(t, resp, &list)
	require.Len(t, list.Items, 2)
	assert.Equal(t, 2, list.Page.Total)
	for _, row := range list.Items {
		assert.Equal(t, "Aceite de Coco", row.ProductName)
	}

	resp = api.do(t, http.MethodGet, "/api/inventory/stock?branch_id=b2", nil)
	decode(t, resp, &list)
	require.Len(t, list.Items, 1)
	assert.True(t, d("8").Equal(list.Items[0].CurrentStock), "el stock no se suma entre sucursales")
}

func TestHistory_SaldoCorridoConRango(t *testing.T) {
	api := newTestAPI(t, nil)
	api.purchase(t, "R-1", "p1", "b1", day(1), "10", "2")
	api.purchase(t, "R-2", "p1", "b1", day(3), "5", "3")

	resp := api.do(t, http.MethodGet, "/api/inventory/stock/p1/b1/history?from=2024-05-02&to=2024-05-03", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var hist dto.HistoryResponse
	decode(t, resp, &hist)
	assert.True(t, d("10").Equal(hist.Opening))
	require.Len(t, hist.Entries, 1)
	assert.True(t, d("15").Equal(hist.Entries[0].Balance))
	assert.True(t, d("15").Equal(hist.Summary.PhysicalStock))

	resp = api.do(t, http.MethodGet, "/api/inventory/stock/p1/b1/history?from=ayer", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestTransfer_CreaYAnula(t *testing.T) {
	api := newTestAPI(t, nil)
	api.purchase(t, "R-1", "bulk", "b1", day(1), "9", "20")

	resp := api.do(t, http.MethodPost, "/api/inventory/transfers", dto.TransferRequest{
		ID: "T-1", SourceProductID: "bulk", TargetProductID: "retail", BranchID: "b1", Quantity: d("0.9"),
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var tr dto.TransferResponse
	decode(t, resp, &tr)
	assert.True(t, d("1000").Equal(tr.OutputQuantity), "0.9 kg → 1000 mL")
	assert.Equal(t, "mass_to_volume", tr.ConversionKind)

	resp = api.do(t, http.MethodDelete, "/api/inventory/transfers/T-1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	state, err := api.ledger.Availability(context.Background(), "bulk", "b1")
	require.NoError(t, err)
	assert.True(t, d("9").Equal(state.PhysicalStock))

	resp = api.do(t, http.MethodDelete, "/api/inventory/transfers/T-1", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestTransfer_MismoProductoEsInvalido(t *testing.T) {
	api := newTestAPI(t, nil)
	resp := api.do(t, http.MethodPost, "/api/inventory/transfers", dto.TransferRequest{
		SourceProductID: "bulk", TargetProductID: "bulk", BranchID: "b1", Quantity: d("1"),
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestTransferBatch_ParRepetido(t *testing.T) {
	api := newTestAPI(t, nil)
	api.purchase(t, "R-1", "bulk", "b1", day(1), "9", "20")
	req := dto.TransferRequest{SourceProductID: "bulk", TargetProductID: "retail", BranchID: "b1", Quantity: d("0.9")}

	resp := api.do(t, http.MethodPost, "/api/inventory/transfers/batch", dto.TransferBatchRequest{Transfers: []dto.TransferRequest{req, req}})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestReservations_DisponibleYRechazo(t *testing.T) {
	api := newTestAPI(t, nil)
	api.purchase(t, "R-1", "p1", "b1", day(1), "100", "2")

	resp := api.do(t, http.MethodPost, "/api/inventory/reservations/reserve", dto.ReservationRequest{ProductID: "p1", BranchID: "b1", Quantity: d("50")})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var state dto.ReservationStateResponse
	decode(t, resp, &state)
	assert.True(t, d("100").Equal(state.PhysicalStock))
	assert.True(t, d("50").Equal(state.AvailableQuantity))

	resp = api.do(t, http.MethodPost, "/api/inventory/reservations/reserve", dto.ReservationRequest{ProductID: "p1", BranchID: "b1", Quantity: d("60")})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	var body dto.ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "INSUFFICIENT_AVAILABLE", body.Code)

	resp = api.do(t, http.MethodPost, "/api/inventory/reservations/commit", dto.CommitReservationRequest{
		ProductID: "p1", BranchID: "b1", Quantity: d("50"), SourceType: "sale", SourceID: "S-9", Line: "1", SalePrice: d("15"),
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var out dto.OutboundResponse
	decode(t, resp, &out)
	assert.True(t, d("100").Equal(out.CostOfGoods), "50 × 2")

	resp = api.do(t, http.MethodGet, "/api/inventory/reservations/p1/b1", nil)
	decode(t, resp, &state)
	assert.True(t, d("50").Equal(state.PhysicalStock))
	assert.True(t, state.ReservedQuantity.IsZero())
	assert.True(t, d("50").Equal(state.AvailableQuantity))
}

func TestRebuild_SincronoYAsincrono(t *testing.T) {
	q := &fakeQueue{}
	api := newTestAPI(t, q)
	ev := source.PurchaseReceipt{ReceiptID: "R-1", ProductID: "p1", BranchID: "b1", Date: day(1), Quantity: d("10"), UnitCost: d("2")}
	api.sources.Add(ev)

	resp := api.do(t, http.MethodPost, "/api/inventory/reconcile/rebuild", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var res reconcile.RebuildResult
	decode(t, resp, &res)
	assert.Equal(t, 1, res.Movements)

	resp = api.do(t, http.MethodPost, "/api/inventory/reconcile/rebuild?async=true", nil)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, q.calls)

	q.err = errors.New("redis caído")
	resp = api.do(t, http.MethodPost, "/api/inventory/reconcile/rebuild?async=true", nil)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestRebuild_AsincronoSinCola(t *testing.T) {
	api := newTestAPI(t, nil)
	resp := api.do(t, http.MethodPost, "/api/inventory/reconcile/rebuild?async=true", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestEscrituras_BloqueadasDuranteReconstruccion(t *testing.T) {
	api := newTestAPI(t, nil)
	release, err := api.gate.Exclusive(context.Background())
	require.NoError(t, err)
	defer release()

	cost := d("1")
	resp := api.do(t, http.MethodPost, "/api/inventory/movements", dto.RegisterMovementRequest{
		ProductID: "p1", BranchID: "b1", Type: "IN", Quantity: d("1"), UnitCost: &cost,
	})
	assert.Equal(t, fiber.StatusLocked, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/inventory/reconcile/rebuild", nil)
	assert.Equal(t, fiber.StatusLocked, resp.StatusCode)
}

func TestCheckYFix_VentaSinMovimiento(t *testing.T) {
	api := newTestAPI(t, nil)
	purchase := source.PurchaseReceipt{ReceiptID: "R-1", ProductID: "p1", BranchID: "b1", Date: day(1), Quantity: d("10"), UnitCost: d("2")}
	api.sources.Add(purchase)
	_, err := api.ledger.Apply(context.Background(), inventory.ApplyOptions{}, purchase)
	require.NoError(t, err)
	api.sources.Add(source.SaleLine{SaleID: "S-1", Line: "1", ProductID: "p1", BranchID: "b1", Date: day(2), Quantity: d("3"), UnitPrice: d("15")})

	resp := api.do(t, http.MethodGet, "/api/inventory/reconcile/check", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var report reconcile.Report
	decode(t, resp, &report)
	require.Len(t, report.Missing[entity.SourceSale], 1)
	assert.Equal(t, "sale:S-1:1", report.Missing[entity.SourceSale][0].Reference)

	resp = api.do(t, http.MethodPost, "/api/inventory/reconcile/fix", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var fixed struct {
		Result reconcile.FixResult `json:"result"`
	}
	decode(t, resp, &fixed)
	assert.Equal(t, 1, fixed.Result.Inserted)

	state, err := api.ledger.Availability(context.Background(), "p1", "b1")
	require.NoError(t, err)
	assert.True(t, d("7").Equal(state.PhysicalStock))
}

func TestDeleteAllFor_ReiniciaElPar(t *testing.T) {
	api := newTestAPI(t, nil)
	api.purchase(t, "R-1", "p1", "b1", day(1), "10", "2")
	api.purchase(t, "R-2", "p1", "b1", day(2), "5", "3")

	resp := api.do(t, http.MethodDelete, "/api/inventory/stock/p1/b1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var body map[string]int
	decode(t, resp, &body)
	assert.Equal(t, 2, body["removed_movements"])

	resp = api.do(t, http.MethodGet, "/api/inventory/stock?product_id=p1", nil)
	var list dto.StockListResponse
	decode(t, resp, &list)
	assert.Empty(t, list.Items)
}

func TestReplenishmentList_BajoPuntoDeReorden(t *testing.T) {
	api := newTestAPI(t, nil)
	api.purchase(t, "R-1", "p1", "b1", day(1), "10", "2")

	resp := api.do(t, http.MethodGet, "/api/inventory/replenishment-list?branch_id=b1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var body struct {
		Total          int                              `json:"total"`
		Replenishments []dto.ReplenishmentSuggestionDTO `json:"replenishments"`
	}
	decode(t, resp, &body)
	require.Equal(t, 1, body.Total)
	assert.True(t, d("50").Equal(body.Replenishments[0].SuggestedOrderQty), "40 × 1.5 − 10")
}
