// Package bootstrap arma las dependencias del ledger compartidas por la API y el worker.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/Inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/application/reconcile"
	dominv "github.com/jhoicas/Inventario-ledger/internal/domain/inventory"
	"github.com/jhoicas/Inventario-ledger/internal/domain/repository"
	"github.com/jhoicas/Inventario-ledger/internal/infrastructure/memory"
	"github.com/jhoicas/Inventario-ledger/internal/infrastructure/postgres"
	"github.com/jhoicas/Inventario-ledger/internal/infrastructure/redisstore"
	"github.com/jhoicas/Inventario-ledger/pkg/config"
	"github.com/jhoicas/Inventario-ledger/pkg/logger"
)

// Components dependencias construidas a partir de la configuración.
type Components struct {
	Pool          *pgxpool.Pool
	Redis         *redis.Client // nil sin REDIS_ADDR
	Ledger        *inventory.Ledger
	Engine        *reconcile.Engine
	Replenishment *inventory.ReplenishmentUseCase
}

// RedisOpt opciones de conexión para asynq. ok es false si Redis no está configurado.
func RedisOpt(cfg config.RedisConfig) (asynq.RedisClientOpt, bool) {
	if !cfg.Enabled() {
		return asynq.RedisClientOpt{}, false
	}
	return asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}, true
}

// Build conecta PostgreSQL (y Redis si está configurado) y construye ledger y motor de
// conciliación. Sin Redis las reservas y el gate de reconstrucción viven en el proceso.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Components, func(), error) {
	strategy, err := dominv.StrategyByName(cfg.Ledger.CostStrategy)
	if err != nil {
		return nil, nil, err
	}

	pool, err := postgres.NewPool(ctx, cfg.DB, log)
	if err != nil {
		return nil, nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
	}
	closers := []func(){pool.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	local := inventory.NewMemoryGate()
	var gate inventory.Gate = local
	var reservations repository.ReservationStore = memory.NewReservations()
	var client *redis.Client
	if cfg.Redis.Enabled() {
		client = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		closers = append(closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("conexión a Redis: %w", err)
		}
		g, err := redisstore.NewGate(client, local, cfg.Ledger.RebuildLockTTL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		gate = g
		reservations = redisstore.NewReservations(client)
	} else {
		log.Warn().Msg("REDIS_ADDR vacío: reservas y gate de reconstrucción en memoria del proceso")
	}

	// Entre procesos las escrituras en curso se drenan con el advisory lock de reconstrucción.
	gate = postgres.NewRebuildGate(pool, gate)

	tx := postgres.NewTxRunner(pool)
	ledger := inventory.NewLedger(tx, reservations,
		inventory.WithGate(gate),
		inventory.WithStrategy(strategy),
		inventory.WithLogger(log.Component("ledger")),
	)
	products := postgres.NewProductRepository(pool)
	staging := func() reconcile.Staging { return memory.NewStaging(products) }
	engine := reconcile.NewEngine(ledger, tx, tx, postgres.NewSourceRepository(pool), staging, gate, log)

	log.Info().
		Str("cost_strategy", strategy.Name()).
		Bool("redis", client != nil).
		Msg("ledger listo")

	return &Components{
		Pool:          pool,
		Redis:         client,
		Ledger:        ledger,
		Engine:        engine,
		Replenishment: inventory.NewReplenishmentUseCase(tx),
	}, cleanup, nil
}
