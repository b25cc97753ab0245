// Package metrics exposes Prometheus instrumentation for the allocation
// engine: reservation outcomes, shortages, buffer dips, and HTTP latency.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReservationsTotal counts units successfully reserved at approval.
	ReservationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bloodengine_reservations_total",
		Help: "Units successfully reserved at approval time.",
	})

	// ReservationConflictsTotal counts approvals that lost a CAS race.
	ReservationConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bloodengine_reservation_conflicts_total",
		Help: "Approvals that lost the reservation race and were rolled back.",
	})

	// ShortagesTotal counts approvals rejected for insufficient supply,
	// labeled by requested blood group.
	ShortagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodengine_shortages_total",
		Help: "Approvals rejected because compatible stock could not cover the request.",
	}, []string{"group"})

	// BufferDipsTotal counts plans that reached into the emergency reserve.
	BufferDipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bloodengine_buffer_dips_total",
		Help: "Allocation plans that selected emergency reserve units.",
	})

	// HandoverUnitsTotal counts units committed at handover.
	HandoverUnitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bloodengine_handover_units_total",
		Help: "Units committed and handed over to hospitals.",
	})

	// PartialCommitsTotal counts fatal partial handover batches.
	PartialCommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bloodengine_partial_commits_total",
		Help: "Handover batches that committed only partially and need manual reconciliation.",
	})

	// StaleReleasesTotal counts reservations reclaimed by the sweeper.
	StaleReleasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bloodengine_stale_releases_total",
		Help: "Reservations force-released after aging past the TTL.",
	})

	// ExpiredUnitsTotal counts units the sweeper flipped to expired.
	ExpiredUnitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bloodengine_expired_units_total",
		Help: "Units marked expired by the inventory sweep.",
	})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bloodengine_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

// HTTPMiddleware records request latency and status for every handler.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpDuration.WithLabelValues(r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
