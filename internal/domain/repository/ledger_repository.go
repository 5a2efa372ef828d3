package repository

import (
	"context"
	"time"

	"github.com/jhoicas/Inventario-ledger/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// MovementRepository define el puerto de persistencia para movimientos del ledger.
// Las implementaciones transaccionales bloquean las capas devueltas por OpenLayers.
type MovementRepository interface {
	Create(ctx context.Context, movement *entity.MovementRecord) error
	GetByID(ctx context.Context, id string) (*entity.MovementRecord, error)
	// OpenLayers entradas con remanente > 0 ordenadas por fecha, creación e id.
	OpenLayers(ctx context.Context, productID, branchID string) ([]*entity.MovementRecord, error)
	UpdateRemaining(ctx context.Context, id string, remaining decimal.Decimal) error
	// ListByPair movimientos del par en orden cronológico; from/to opcionales e inclusivos.
	ListByPair(ctx context.Context, productID, branchID string, from, to *time.Time) ([]*entity.MovementRecord, error)
	// ListBySource todos los movimientos (todas las líneas) de una transacción de origen.
	ListBySource(ctx context.Context, sourceType entity.SourceType, sourceID string) ([]*entity.MovementRecord, error)
	// ListBySourceType movimientos de un tipo de origen en orden cronológico.
	ListBySourceType(ctx context.Context, sourceType entity.SourceType) ([]*entity.MovementRecord, error)
	ExistsSourceKey(ctx context.Context, key string) (bool, error)
	// SourceKeys claves de referencia presentes para un tipo de origen.
	SourceKeys(ctx context.Context, sourceType entity.SourceType) (map[string]struct{}, error)
	LatestInbound(ctx context.Context, productID, branchID string) (*entity.MovementRecord, error)
	Delete(ctx context.Context, ids []string) error
	DeletePair(ctx context.Context, productID, branchID string) error
	// Pairs pares (producto, sucursal) con al menos un movimiento.
	Pairs(ctx context.Context) ([]Pair, error)
}

// ConsumptionRepository detalle de consumo de capas por salida (para reversión exacta).
type ConsumptionRepository interface {
	CreateBatch(ctx context.Context, details []entity.ConsumptionDetail) error
	ListByOutbound(ctx context.Context, outboundIDs []string) ([]entity.ConsumptionDetail, error)
	DeleteByOutbound(ctx context.Context, outboundIDs []string) error
}

// SnapshotRepository proyección materializada por (producto, sucursal).
type SnapshotRepository interface {
	Get(ctx context.Context, productID, branchID string) (*entity.StockSnapshot, error)
	Upsert(ctx context.Context, snapshot *entity.StockSnapshot) error
	Delete(ctx context.Context, productID, branchID string) error
	List(ctx context.Context) ([]*entity.StockSnapshot, error)
	Query(ctx context.Context, filter StockFilter) ([]entity.StockRow, int, error)
	Summary(ctx context.Context, filter StockFilter) (StockSummary, error)
	// LowStock filas con punto de reorden > 0 y stock <= punto de reorden; branchID vacío = todas.
	LowStock(ctx context.Context, branchID string) ([]entity.StockRow, error)
}

// ProductRepository lectura de datos maestros de productos y sucursales.
type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Product, error)
}

// TransferRepository traslados con conversión persistidos (fuente de replay).
type TransferRepository interface {
	Create(ctx context.Context, transfer *entity.ConversionTransfer) error
	GetByID(ctx context.Context, id string) (*entity.ConversionTransfer, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*entity.ConversionTransfer, error)
}

// PairLocker serializa escrituras sobre un par dentro de la transacción en curso.
// EnterShared marca la transacción como escritura en vivo; falla con
// domain.ErrRebuildInProgress si otro proceso está reconstruyendo el ledger.
type PairLocker interface {
	EnterShared(ctx context.Context) error
	LockPair(ctx context.Context, productID, branchID string) error
}

// Repositories repositorios atados a una misma transacción.
type Repositories struct {
	Movements    MovementRepository
	Consumptions ConsumptionRepository
	Snapshots    SnapshotRepository
	Products     ProductRepository
	Transfers    TransferRepository
	Locks        PairLocker
}

// Pair identifica un par (producto, sucursal).
type Pair struct {
	ProductID string
	BranchID  string
}

// Key clave del par.
func (p Pair) Key() string { return entity.PairKey(p.ProductID, p.BranchID) }

// StockFilter filtros del listado de stock.
type StockFilter struct {
	ProductID string
	BranchID  string
	Search    string
	Limit     int
	Offset    int
}

// StockSummary agregados del listado de stock.
type StockSummary struct {
	TotalItems    int
	StockByUnit   map[string]decimal.Decimal
	LowStockCount int
	NegativeCount int
}

// Dataset estado completo del ledger para el intercambio atómico tras una reconstrucción.
type Dataset struct {
	Movements    []*entity.MovementRecord
	Consumptions []entity.ConsumptionDetail
	Snapshots    []*entity.StockSnapshot
}

// LedgerStore reemplaza todo el ledger persistido en una sola transacción.
type LedgerStore interface {
	ReplaceAll(ctx context.Context, data Dataset) error
}

// ReservationStore cantidades reservadas por transacciones en borrador.
type ReservationStore interface {
	Reserved(ctx context.Context, productID, branchID string) (decimal.Decimal, error)
	// Reserve suma qty solo si reservado+qty <= limit; si no devuelve
	// *domain.InsufficientAvailableError. Devuelve el nuevo reservado.
	Reserve(ctx context.Context, productID, branchID string, qty, limit decimal.Decimal) (decimal.Decimal, error)
	// Release resta qty con piso en cero.
	Release(ctx context.Context, productID, branchID string, qty decimal.Decimal) (decimal.Decimal, error)
	// Restore vuelve a sumar qty sin validar (deshace un Release).
	Restore(ctx context.Context, productID, branchID string, qty decimal.Decimal) (decimal.Decimal, error)
	Clear(ctx context.Context, productID, branchID string) error
}
