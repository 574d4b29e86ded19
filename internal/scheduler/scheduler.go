// Package scheduler commits the provider document of completed orders that
// still lack a committed sales invoice.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/salestax/internal/clock"
	"github.com/smallbiznis/salestax/internal/lock"
	obsmetrics "github.com/smallbiznis/salestax/internal/observability/metrics"
	salesinvoicedomain "github.com/smallbiznis/salestax/internal/salesinvoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const JobCommitCompletedOrders = "commit_completed_orders"

const (
	resultCommitted = "committed"
	resultSkipped   = "skipped"
	resultDeferred  = "deferred"
	resultFailed    = "failed"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Invoices   salesinvoicedomain.Service
	Locker     lock.Locker
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config                 `optional:"true"`
	TaxMetrics *obsmetrics.TaxMetrics `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	invoices   salesinvoicedomain.Service
	locker     lock.Locker
	taxMetrics *obsmetrics.TaxMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Invoices == nil || p.Locker == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler"),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		invoices:   p.Invoices,
		locker:     p.Locker,
		taxMetrics: p.TaxMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)

	err := fn(ctx)
	s.taxMetrics.ObserveJob(name, s.clock.Now().Sub(start), err)
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// a deadline ends the run early; the next tick picks up the rest
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, JobCommitCompletedOrders, s.cfg.BatchSize, s.cfg.JobTimeout, s.CommitCompletedOrdersJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type pendingOrder struct {
	ID snowflake.ID
}

// CommitCompletedOrdersJob walks completed orders in id order, batch by
// batch, generating and committing each one's sales invoice. Per-order
// failures are logged and joined; they never stop the walk.
func (s *Scheduler) CommitCompletedOrdersJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobCommitCompletedOrders, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	since := s.clock.Now().Add(-s.cfg.Lookback)

	var (
		jobErr  error
		afterID snowflake.ID
	)
	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		batch, err := s.pendingOrders(ctx, since, afterID)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(batch) == 0 {
			break
		}

		for _, order := range batch {
			if err := s.commitOrder(ctx, run, order.ID); err != nil {
				jobErr = errors.Join(jobErr, err)
			}
			afterID = order.ID
		}
		run.AddProcessed(len(batch))

		if len(batch) < s.cfg.BatchSize {
			break
		}
	}
	return jobErr
}

// pendingOrders lists completed orders without a committed or canceled
// sales invoice.
func (s *Scheduler) pendingOrders(ctx context.Context, since time.Time, afterID snowflake.ID) ([]pendingOrder, error) {
	var rows []pendingOrder
	err := s.db.WithContext(ctx).
		Table("orders AS o").
		Select("o.id").
		Joins("LEFT JOIN sales_invoices si ON si.order_id = o.id").
		Where("o.completed_at IS NOT NULL AND o.completed_at >= ?", since).
		Where("si.id IS NULL OR (si.committed_at IS NULL AND si.canceled_at IS NULL)").
		Where("o.id > ?", afterID).
		Order("o.id ASC").
		Limit(s.cfg.BatchSize).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Scheduler) commitOrder(ctx context.Context, run *jobRun, orderID snowflake.ID) error {
	ctx = s.withOrderContext(ctx, orderID)

	var skipped bool
	err := lock.WithLock(ctx, s.locker, lock.OrderKey(orderID.String()), s.cfg.LockTTL, func(ctx context.Context) error {
		inv, err := s.invoices.Generate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		if inv == nil {
			skipped = true
			return nil
		}
		if _, err := s.invoices.Commit(ctx, orderID); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})

	switch {
	case errors.Is(err, lock.ErrLockHeld):
		run.deferredCount++
		s.taxMetrics.IncJobOrder(JobCommitCompletedOrders, resultDeferred)
		s.logger(ctx).Debug("order locked, deferring")
		return nil
	case err != nil:
		s.taxMetrics.IncJobOrder(JobCommitCompletedOrders, resultFailed)
		s.logOrderError(ctx, run, "scheduler.order.failed", orderID, err)
		return fmt.Errorf("order %s: %w", orderID, err)
	case skipped:
		run.skippedCount++
		s.taxMetrics.IncJobOrder(JobCommitCompletedOrders, resultSkipped)
		return nil
	default:
		run.committedCount++
		s.taxMetrics.IncJobOrder(JobCommitCompletedOrders, resultCommitted)
		s.logger(ctx).Info("sales_invoice.committed")
		return nil
	}
}
