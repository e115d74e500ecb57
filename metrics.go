package tempest

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by a DB and its pagers.
type Metrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	PagerPages prometheus.Counter
	PagerItems prometheus.Counter
}

// NewMetrics creates the collectors under namespace and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dynamodb_operations_total",
				Help:      "Total number of DynamoDB operations",
			},
			[]string{"operation", "table", "status"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dynamodb_operation_duration_seconds",
				Help:      "DynamoDB operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		PagerPages: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pager_pages_total",
				Help:      "Total number of transactions committed by writing pagers",
			},
		),
		PagerItems: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pager_items_total",
				Help:      "Total number of updates applied by writing pagers",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.Operations, m.Duration, m.PagerPages, m.PagerItems} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observe(operation, table string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, table, status(err)).Inc()
	m.Duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) pageWritten(items int) {
	if m == nil {
		return
	}
	m.PagerPages.Inc()
	m.PagerItems.Add(float64(items))
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case isConditionalCheckFailed(err):
		return "condition_failed"
	case isTransactionCanceled(err):
		return "cancelled"
	case errors.Is(err, ErrItemNotFound):
		return "not_found"
	default:
		return "error"
	}
}
