package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jhoicas/Inventario-ledger/internal/bootstrap"
	"github.com/jhoicas/Inventario-ledger/internal/infrastructure/queue"
	"github.com/jhoicas/Inventario-ledger/pkg/config"
	"github.com/jhoicas/Inventario-ledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})

	opt, ok := bootstrap.RedisOpt(cfg.Redis)
	if !ok {
		log.Fatal().Msg("el worker requiere REDIS_ADDR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar dependencias")
	}
	defer cleanup()

	var cron []queue.CronRegistration
	if cfg.Ledger.CheckCron != "" {
		newTask := queue.NewCheckTask
		if cfg.Ledger.AutoFix {
			newTask = queue.NewFixTask
		}
		task, err := newTask(queue.Payload{RequestedBy: "cron"}, cfg.Ledger.Queue)
		if err != nil {
			log.Fatal().Err(err).Msg("construir trabajo programado")
		}
		cron = append(cron, queue.CronRegistration{Spec: cfg.Ledger.CheckCron, Task: task, Options: []asynq.Option{asynq.Queue(cfg.Ledger.Queue)}})
		log.Info().Str("cron", cfg.Ledger.CheckCron).Bool("auto_fix", cfg.Ledger.AutoFix).Msg("revisión programada")
	}

	worker, err := queue.NewWorker(queue.WorkerConfig{
		RedisOpts: opt,
		Queue:     cfg.Ledger.Queue,
		Handlers:  queue.NewHandlers(deps.Engine, log),
		Cron:      cron,
		Logger:    log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("crear worker")
	}
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("worker finalizado con error")
	}
	log.Info().Msg("worker detenido")
}
