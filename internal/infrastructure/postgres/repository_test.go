package postgres

import (
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
)

func TestWhere_ArmaFiltrosEnOrden(t *testing.T) {
	cond, args := where(repository.StockFilter{})
	assert.Empty(t, cond)
	assert.Empty(t, args)

	cond, args = where(repository.StockFilter{ProductID: "p1", BranchID: "b1", Search: " coco "})
	assert.Equal(t, " WHERE s.product_id = $1 AND s.branch_id = $2 AND (p.name ILIKE $3 OR p.sku ILIKE $3)", cond)
	assert.Equal(t, []any{"p1", "b1", "%coco%"}, args)
}

func TestSourceKey_NilSinReferencia(t *testing.T) {
	assert.Nil(t, sourceKey(entity.SourceRef{}))
	k := sourceKey(entity.SourceRef{Type: entity.SourceSale, ID: "S-1", Line: "2"})
	if assert.NotNil(t, k) {
		assert.Equal(t, "sale:S-1:2", *k)
	}
}

func TestLayerID_CapaVirtualEsNull(t *testing.T) {
	assert.Nil(t, layerID(entity.ConsumptionDetail{OutboundID: "o"}))
	id := layerID(entity.ConsumptionDetail{OutboundID: "o", LayerID: "l"})
	if assert.NotNil(t, id) {
		assert.Equal(t, "l", *id)
	}
}

func TestSourceQueries_CubrenLosFlujosExternos(t *testing.T) {
	for _, st := range []entity.SourceType{
		entity.SourcePurchase, entity.SourceProduction, entity.SourceProductionMaterial,
		entity.SourceSale, entity.SourceConsignment, entity.SourceOpname,
	} {
		_, ok := sourceQueries[st]
		assert.True(t, ok, "falta consulta para %s", st)
	}
	_, ok := sourceQueries[entity.SourceManual]
	assert.False(t, ok, "los manuales se leen del ledger")
}

func TestIsUniqueViolation_SoloCodigo23505(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(fmt.Errorf("texto con 23505")))
}

func TestCompact_ColapsaYRecorta(t *testing.T) {
	assert.Equal(t, "SELECT 1 FROM t", compact("SELECT 1\n\t  FROM t"))
	long := compact(strings.Repeat("x ", 300))
	assert.Len(t, long, 203)
	assert.True(t, strings.HasSuffix(long, "..."))
}
