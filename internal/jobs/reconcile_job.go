package job

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/maheshrc27/postflow/internal/service"
)

const DefaultReconcileTimeout = 5 * time.Minute

type Reconciler interface {
	Reconcile(ctx context.Context) (*service.ReconcileReport, error)
}

// ReconcileJob brings queue and native schedules back in line with post state.
// It runs once on startup and then from cron.
type ReconcileJob struct {
	scheduler Reconciler
	log       *zap.Logger
	timeout   time.Duration
	running   atomic.Bool
}

func NewReconcileJob(scheduler Reconciler, log *zap.Logger) *ReconcileJob {
	return &ReconcileJob{
		scheduler: scheduler,
		log:       log.Named("reconcile"),
		timeout:   DefaultReconcileTimeout,
	}
}

// Run skips the tick while a previous run is still going.
func (j *ReconcileJob) Run() {
	if !j.running.CompareAndSwap(false, true) {
		j.log.Info("Reconcile still running, skipping tick")
		return
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	report, err := j.scheduler.Reconcile(ctx)
	if err != nil {
		j.log.Error("Reconcile failed", zap.Error(err))
		return
	}

	if report.Requeued+report.Confirmed+report.Recovered == 0 {
		j.log.Debug("Reconcile found nothing to repair", zap.Duration("took", time.Since(start)))
		return
	}
	j.log.Info("Reconcile finished",
		zap.Int("requeued", report.Requeued),
		zap.Int("confirmed", report.Confirmed),
		zap.Int("recovered", report.Recovered),
		zap.Duration("took", time.Since(start)))
}
