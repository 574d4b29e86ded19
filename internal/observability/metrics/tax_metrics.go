package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/salestax/internal/avatax"
	"gorm.io/gorm"
)

const (
	OutcomeSuccess              = "success"
	OutcomeProviderTransport    = "provider_transport"
	OutcomeProviderAPI          = "provider_api"
	OutcomeProviderGeneric      = "provider_generic"
	OutcomeDeadlineExceeded     = "deadline_exceeded"
	OutcomeDBLockTimeout        = "db_lock_timeout"
	OutcomeSerializationFailure = "serialization_failure"
	OutcomeUniqueViolation      = "unique_violation"
	OutcomeDB                   = "db"
	OutcomeUnknown              = "unknown"
)

const (
	ComputeTaxed    = "taxed"
	ComputeSkipped  = "skipped"
	ComputeFallback = "fallback"
	ComputeError    = "error"
)

const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheShared = "shared"
)

// TaxMetrics captures provider health and compute outcomes.
type TaxMetrics struct {
	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	computations     *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	invoiceOps       *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobOrders        *prometheus.CounterVec
}

// NewTaxMetrics registers the collectors on registerer. Collectors that are
// already registered are reused.
func NewTaxMetrics(registerer prometheus.Registerer, cfg Config) *TaxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "salestax"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	return &TaxMetrics{
		providerRequests: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "salestax_provider_requests_total",
			Help:        "Tax provider calls by operation and outcome.",
			ConstLabels: constLabels,
		}, []string{"op", "outcome"})),
		providerDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "salestax_provider_request_duration_seconds",
			Help:        "Tax provider round trip latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			ConstLabels: constLabels,
		}, []string{"op"})),
		computations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "salestax_computations_total",
			Help:        "Order tax computations by document type and result.",
			ConstLabels: constLabels,
		}, []string{"doc_type", "result"})),
		fallbacks: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "salestax_fallbacks_total",
			Help:        "Provider failures that were zero-filled, by kind and whether an alert was sent.",
			ConstLabels: constLabels,
		}, []string{"kind", "notified"})),
		cacheLookups: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "salestax_line_item_cache_lookups_total",
			Help:        "Line item compute cache lookups by result.",
			ConstLabels: constLabels,
		}, []string{"result"})),
		invoiceOps: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "salestax_sales_invoice_operations_total",
			Help:        "Sales invoice lifecycle operations by outcome.",
			ConstLabels: constLabels,
		}, []string{"op", "outcome"})),
		jobRuns: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "salestax_scheduler_job_runs_total",
			Help:        "Scheduler job runs by outcome.",
			ConstLabels: constLabels,
		}, []string{"job", "outcome"})),
		jobDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "salestax_scheduler_job_duration_seconds",
			Help:        "Scheduler job wall time.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"job"})),
		jobOrders: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "salestax_scheduler_orders_total",
			Help:        "Orders visited by scheduler jobs, by result.",
			ConstLabels: constLabels,
		}, []string{"job", "result"})),
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveProviderCall records one provider round trip.
func (m *TaxMetrics) ObserveProviderCall(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(op, ClassifyOutcome(err)).Inc()
	m.providerDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *TaxMetrics) IncComputation(docType, result string) {
	if m == nil {
		return
	}
	m.computations.WithLabelValues(docType, result).Inc()
}

func (m *TaxMetrics) IncFallback(kind string, notified bool) {
	if m == nil {
		return
	}
	flag := "false"
	if notified {
		flag = "true"
	}
	m.fallbacks.WithLabelValues(kind, flag).Inc()
}

func (m *TaxMetrics) IncCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *TaxMetrics) IncInvoiceOperation(op string, err error) {
	if m == nil {
		return
	}
	m.invoiceOps.WithLabelValues(op, ClassifyOutcome(err)).Inc()
}

func (m *TaxMetrics) ObserveJob(job string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, ClassifyOutcome(err)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *TaxMetrics) IncJobOrder(job, result string) {
	if m == nil {
		return
	}
	m.jobOrders.WithLabelValues(job, result).Inc()
}

// ClassifyOutcome maps an error to a low-cardinality label.
func ClassifyOutcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if perr, ok := avatax.AsError(err); ok {
		switch perr.Kind {
		case avatax.KindTransport:
			return OutcomeProviderTransport
		case avatax.KindAPI:
			return OutcomeProviderAPI
		default:
			return OutcomeProviderGeneric
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return OutcomeDeadlineExceeded
	}
	if isDBLockTimeout(err) {
		return OutcomeDBLockTimeout
	}
	if isSerializationFailure(err) {
		return OutcomeSerializationFailure
	}
	if isUniqueViolation(err) {
		return OutcomeUniqueViolation
	}
	if isDBError(err) {
		return OutcomeDB
	}
	return OutcomeUnknown
}

func isDBLockTimeout(err error) bool {
	return hasPGCode(err, "55P03")
}

func isSerializationFailure(err error) bool {
	return hasPGCode(err, "40001")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return hasPGCode(err, "23505")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
