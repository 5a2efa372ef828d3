package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jhoicas/Inventario-ledger/pkg/logger"
	"github.com/rs/zerolog"
)

// asynqLogger redirige el log interno de asynq al logger del servicio.
type asynqLogger struct{ zl zerolog.Logger }

func (a asynqLogger) Debug(args ...interface{}) { a.zl.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.zl.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.zl.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.zl.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.zl.Fatal().Msg(fmt.Sprint(args...)) }

// CronRegistration asocia una expresión cron a un trabajo ya construido.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig dependencias del worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Queue       string
	Concurrency int
	Handlers    *Handlers
	Cron        []CronRegistration
	Logger      *logger.Logger
}

// Worker servidor asynq más scheduler opcional.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

// NewWorker construye el worker. Concurrency se limita a 1 por defecto: rebuild y fix son
// exclusivos de todos modos.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Handlers == nil {
		return nil, errors.New("worker: handlers requeridos")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	alog := asynqLogger{zl: log.Component("asynq").Zerolog()}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{queueOr(cfg.Queue): 1},
		Logger:      alog,
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRebuild, cfg.Handlers.HandleRebuild)
	mux.HandleFunc(TaskCheck, cfg.Handlers.HandleCheck)
	mux.HandleFunc(TaskFix, cfg.Handlers.HandleFix)

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC, Logger: alog})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}
	return &Worker{server: srv, mux: mux, scheduler: scheduler, log: log.Component("worker")}, nil
}

// Run procesa trabajos hasta que ctx se cancele.
func (w *Worker) Run(ctx context.Context) error {
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	w.log.Info().Msg("worker del ledger iniciado")
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client encola trabajos del ledger.
type Client struct {
	client *asynq.Client
	queue  string
}

// NewClient construye el cliente.
func NewClient(redisOpts asynq.RedisClientOpt, queue string) *Client {
	return &Client{client: asynq.NewClient(redisOpts), queue: queue}
}

// EnqueueRebuild encola una reconstrucción completa.
func (c *Client) EnqueueRebuild(ctx context.Context, requestedBy string) (string, error) {
	task, err := NewRebuildTask(Payload{RequestedBy: requestedBy, RequestedAt: time.Now().UTC()}, c.queue)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Close libera el cliente.
func (c *Client) Close() error {
	return c.client.Close()
}
