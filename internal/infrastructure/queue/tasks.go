// Package queue ejecuta reconstrucción y conciliación del ledger como trabajos asynq,
// bajo demanda o por cron.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jhoicas/Inventario-ledger/internal/application/reconcile"
	"github.com/jhoicas/Inventario-ledger/internal/domain"
	"github.com/jhoicas/Inventario-ledger/pkg/logger"
)

const (
	// QueueDefault cola por defecto de los trabajos del ledger.
	QueueDefault = "ledger"
	// TaskRebuild reconstrucción completa.
	TaskRebuild = "ledger:rebuild"
	// TaskCheck revisión de diferencias (solo reporta).
	TaskCheck = "ledger:check"
	// TaskFix revisión seguida de corrección.
	TaskFix = "ledger:fix"
)

// Payload metadatos comunes de los trabajos del ledger.
type Payload struct {
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func newTask(typ string, p Payload, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, opts...), nil
}

// NewRebuildTask construye el trabajo de reconstrucción. Un reintento durante otra
// reconstrucción no tiene sentido: MaxRetry bajo y unicidad por ventana.
func NewRebuildTask(p Payload, queue string) (*asynq.Task, error) {
	return newTask(TaskRebuild, p, asynq.Queue(queueOr(queue)), asynq.MaxRetry(1), asynq.Unique(10*time.Minute))
}

// NewCheckTask construye la revisión de diferencias.
func NewCheckTask(p Payload, queue string) (*asynq.Task, error) {
	return newTask(TaskCheck, p, asynq.Queue(queueOr(queue)), asynq.MaxRetry(3))
}

// NewFixTask construye la revisión con corrección.
func NewFixTask(p Payload, queue string) (*asynq.Task, error) {
	return newTask(TaskFix, p, asynq.Queue(queueOr(queue)), asynq.MaxRetry(3))
}

func queueOr(q string) string {
	if q == "" {
		return QueueDefault
	}
	return q
}

// Reconciler lo que los handlers necesitan del motor de conciliación.
type Reconciler interface {
	RebuildAll(ctx context.Context) (*reconcile.RebuildResult, error)
	CheckDiscrepancies(ctx context.Context) (*reconcile.Report, error)
	CheckAndFix(ctx context.Context) (*reconcile.Report, *reconcile.FixResult, error)
}

// Handlers procesa los trabajos del ledger.
type Handlers struct {
	engine Reconciler
	log    *logger.Logger
}

// NewHandlers construye los handlers.
func NewHandlers(engine Reconciler, log *logger.Logger) *Handlers {
	if log == nil {
		log = logger.Nop()
	}
	return &Handlers{engine: engine, log: log.Component("queue")}
}

func decode(t *asynq.Task) (Payload, error) {
	var p Payload
	if len(t.Payload()) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("payload inválido: %v: %w", err, asynq.SkipRetry)
	}
	return p, nil
}

// HandleRebuild ejecuta RebuildAll. Si ya hay una reconstrucción en curso no reintenta.
func (h *Handlers) HandleRebuild(ctx context.Context, t *asynq.Task) error {
	p, err := decode(t)
	if err != nil {
		return err
	}
	res, err := h.engine.RebuildAll(ctx)
	if errors.Is(err, domain.ErrRebuildInProgress) {
		h.log.Warn().Str("requested_by", p.RequestedBy).Msg("reconstrucción omitida: ya hay una en curso")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	h.log.Info().Str("requested_by", p.RequestedBy).Int("movements", res.Movements).Int("pairs", res.Pairs).Msg("trabajo de reconstrucción terminado")
	return nil
}

// HandleCheck solo reporta; las diferencias quedan en el log.
func (h *Handlers) HandleCheck(ctx context.Context, t *asynq.Task) error {
	if _, err := decode(t); err != nil {
		return err
	}
	report, err := h.engine.CheckDiscrepancies(ctx)
	if err != nil {
		return err
	}
	if err := report.Err(); err != nil {
		h.log.Warn().Err(err).Msg("revisión programada encontró diferencias")
	}
	return nil
}

// HandleFix revisa y corrige.
func (h *Handlers) HandleFix(ctx context.Context, t *asynq.Task) error {
	if _, err := decode(t); err != nil {
		return err
	}
	_, res, err := h.engine.CheckAndFix(ctx)
	if errors.Is(err, domain.ErrRebuildInProgress) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	h.log.Info().Int("inserted", res.Inserted).Int("recomputed", res.Recomputed).Msg("trabajo de corrección terminado")
	return nil
}
