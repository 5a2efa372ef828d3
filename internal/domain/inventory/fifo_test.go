package inventory_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/inventory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(n int) time.Time { return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC) }

func layer(id string, date time.Time, qty, cost string) *entity.MovementRecord {
	return &entity.MovementRecord{
		ID:        id,
		Kind:      entity.MovementInbound,
		Date:      date,
		CreatedAt: date,
		Quantity:  d(qty),
		Remaining: d(qty),
		UnitCost:  d(cost),
	}
}

// Escenario base: 100 @10 el día 1, 50 @12 el día 5, salida de 120.
func TestAllocate_ConsumeCapasEnOrdenDeFecha(t *testing.T) {
	layers := []*entity.MovementRecord{
		layer("b", day(5), "50", "12"),
		layer("a", day(1), "100", "10"),
	}
	alloc, err := inventory.Allocate(layers, d("120"))
	require.NoError(t, err)

	require.Len(t, alloc.Takes, 2)
	assert.Equal(t, "a", alloc.Takes[0].LayerID, "la capa más antigua se consume primero")
	assert.True(t, alloc.Takes[0].Quantity.Equal(d("100")))
	assert.True(t, alloc.Takes[0].RemainingAfter.IsZero())
	assert.Equal(t, "b", alloc.Takes[1].LayerID)
	assert.True(t, alloc.Takes[1].Quantity.Equal(d("20")))
	assert.True(t, alloc.Takes[1].RemainingAfter.Equal(d("30")))
	assert.True(t, alloc.Cost.Equal(d("1240")), "COGS esperado 1240, obtenido %s", alloc.Cost)
	assert.False(t, alloc.HasShortfall())
}

func TestAllocate_SalidaMenorSoloTocaLaCapaMasAntigua(t *testing.T) {
	layers := []*entity.MovementRecord{
		layer("a", day(1), "100", "10"),
		layer("b", day(5), "50", "12"),
		layer("c", day(9), "10", "15"),
	}
	alloc, err := inventory.Allocate(layers, d("40"))
	require.NoError(t, err)
	require.Len(t, alloc.Takes, 1)
	assert.Equal(t, "a", alloc.Takes[0].LayerID)
	assert.True(t, alloc.Takes[0].RemainingAfter.Equal(d("60")))
	assert.True(t, alloc.Cost.Equal(d("400")))
}

func TestAllocate_DesempateMismaFechaPorInsercionEId(t *testing.T) {
	first := layer("z", day(3), "5", "1")
	second := layer("a", day(3), "5", "2")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	third := layer("b", day(3), "5", "3")
	third.CreatedAt = second.CreatedAt

	alloc, err := inventory.Allocate([]*entity.MovementRecord{third, second, first}, d("12"))
	require.NoError(t, err)
	require.Len(t, alloc.Takes, 3)
	assert.Equal(t, []string{"z", "a", "b"}, []string{alloc.Takes[0].LayerID, alloc.Takes[1].LayerID, alloc.Takes[2].LayerID})
}

func TestAllocate_IgnoraCapasAgotadasYSalidas(t *testing.T) {
	empty := layer("a", day(1), "10", "9")
	empty.Remaining = decimal.Zero
	out := &entity.MovementRecord{ID: "o", Kind: entity.MovementOutbound, Date: day(2), Quantity: d("3")}
	alloc, err := inventory.Allocate([]*entity.MovementRecord{empty, out, layer("b", day(4), "10", "11")}, d("4"))
	require.NoError(t, err)
	require.Len(t, alloc.Takes, 1)
	assert.Equal(t, "b", alloc.Takes[0].LayerID)
}

func TestAllocate_FaltanteYDetalleVirtual(t *testing.T) {
	alloc, err := inventory.Allocate([]*entity.MovementRecord{layer("a", day(1), "10", "7")}, d("15"))
	require.NoError(t, err)
	assert.True(t, alloc.HasShortfall())
	assert.True(t, alloc.Shortfall.Equal(d("5")))
	assert.True(t, alloc.Covered.Equal(d("10")))

	details := alloc.Details("out-1", alloc.LastUnitCost())
	require.Len(t, details, 2)
	assert.False(t, details[0].IsVirtual())
	assert.True(t, details[1].IsVirtual(), "el faltante se registra como capa virtual")
	assert.True(t, details[1].UnitCost.Equal(d("7")), "valorado al costo conocido más reciente")
	assert.True(t, alloc.TotalCost(d("7")).Equal(d("105")))
}

func TestAllocate_CantidadInvalida(t *testing.T) {
	_, err := inventory.Allocate(nil, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	_, err = inventory.Allocate(nil, d("-1"))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}
