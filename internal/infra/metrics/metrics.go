package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	DispatchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_seconds",
		Help:    "Time spent fanning out one message",
		Buckets: prometheus.DefBuckets,
	})
	DispatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatches_total",
		Help: "Message dispatches by result",
	}, []string{"result"})
	ReceiptsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receipts_created_total",
		Help: "Delivery receipts created",
	})
	PushErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "push_errors_total",
		Help: "Failed push broadcasts",
	})
	SMSErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sms_errors_total",
		Help: "Failed outbound SMS sends",
	})
	InboundOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inbound_sms_total",
		Help: "Inbound SMS by classification outcome",
	}, []string{"outcome"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Duration of network requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Number of network requests",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister registers all collectors.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		DispatchSeconds,
		DispatchesTotal,
		ReceiptsCreated,
		PushErrors,
		SMSErrors,
		InboundOutcomes,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer runs an HTTP server exposing /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest records the duration and status of one network request.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
