package metrics

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ragkasi/BreatheSafe/internal/identity"
	"github.com/ragkasi/BreatheSafe/internal/locker"
	"github.com/ragkasi/BreatheSafe/internal/notification"
)

const namespace = "breathesafe"

// Prom groups the service's Prometheus collectors.
type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec

	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	SMSCommands     *prometheus.CounterVec
	SMSSendFailures *prometheus.CounterVec
}

// NewProm creates the collectors and registers them with reg.
func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed.",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "Store operation latency by logical op.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "Store errors by logical op and class.",
			},
			[]string{"op", "class"},
		),
		SMSCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sms",
				Name:      "commands_total",
				Help:      "Inbound SMS commands by command and outcome.",
			},
			[]string{"command", "outcome"},
		),
		SMSSendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sms",
				Name:      "send_failures_total",
				Help:      "Outbound SMS delivery failures by reason.",
			},
			[]string{"reason"},
		),
	}
	reg.MustRegister(p.RequestsTotal, p.RequestsDuration, p.InFlight, p.DbQueryDuration, p.DbErrorsTotal, p.SMSCommands, p.SMSSendFailures)
	return p
}

// Middleware records request counts, latency and in-flight requests.
func (p *Prom) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		method := c.Method()

		p.InFlight.WithLabelValues(method).Inc()
		defer p.InFlight.WithLabelValues(method).Dec()

		err := c.Next()

		// route template is only known after routing
		route := c.Route().Path
		if route == "" || route == "/" && c.Path() != "/" {
			route = "unmatched"
		}
		status := c.Response().StatusCode()
		var ferr *fiber.Error
		if err != nil && errors.As(err, &ferr) {
			status = ferr.Code
		}
		statusLabel := strconv.Itoa(status)

		p.RequestsTotal.WithLabelValues(method, route, statusLabel).Inc()
		p.RequestsDuration.WithLabelValues(method, route, statusLabel).Observe(time.Since(start).Seconds())
		return err
	}
}

// ObserveDB times a store operation and counts its failures.
func (p *Prom) ObserveDB(op string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := "ok"
	if err != nil {
		class := classifyDBErr(err)
		if class != "not_found" {
			status = "error"
		}
		p.DbErrorsTotal.WithLabelValues(op, class).Inc()
	}
	p.DbQueryDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return err
}

// RecordCommand counts one handled SMS command.
func (p *Prom) RecordCommand(command, outcome string) {
	p.SMSCommands.WithLabelValues(command, outcome).Inc()
}

// RecordSendFailure counts a failed outbound message.
func (p *Prom) RecordSendFailure(err error) {
	reason := "provider_error"
	switch {
	case errors.Is(err, notification.ErrRecipientUnreachable):
		reason = "recipient_unreachable"
	case errors.Is(err, notification.ErrCircuitOpen):
		reason = "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	}
	p.SMSSendFailures.WithLabelValues(reason).Inc()
}

func classifyDBErr(err error) string {
	switch {
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, locker.ErrNotFound):
		return "not_found"
	case errors.Is(err, identity.ErrPhoneTaken):
		return "unique_violation"
	case errors.Is(err, locker.ErrNoCapacity):
		return "no_capacity"
	case errors.Is(err, locker.ErrNotOwner):
		return "not_owner"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return "unique_violation"
		case "40001":
			return "serialization_failure"
		case "40P01":
			return "deadlock"
		case "57014":
			return "query_canceled"
		default:
			return "pg_" + pgErr.Code
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "connection"):
		return "connection"
	default:
		return "unknown"
	}
}
