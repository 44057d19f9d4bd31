package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/recalld/internal/http"

// HTTPMetrics records per-route request metrics. The vectors API carries
// whole chunk batches on insert, so request bodies are measured rather
// than responses.
type HTTPMetrics struct {
	requests     metric.Int64Counter
	duration     metric.Float64Histogram
	requestSize  metric.Int64Histogram
	inFlight     metric.Int64UpDownCounter
	authFailures metric.Int64Counter
}

// NewHTTPMetrics registers instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("creating http instrument failed", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &HTTPMetrics{}
	var err error
	m.requests, err = meter.Int64Counter("recalld.http.requests_total",
		metric.WithDescription("HTTP requests by api (vectors, chats, ops), route and status class."),
		metric.WithUnit("{request}"))
	warn("requests_total", err)
	m.duration, err = meter.Float64Histogram("recalld.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency. Sync and insert include embedding time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	warn("request_duration_seconds", err)
	m.requestSize, err = meter.Int64Histogram("recalld.http.request_size_bytes",
		metric.WithDescription("Request body size as declared by Content-Length."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1<<10, 16<<10, 128<<10, 1<<20, 4<<20, 16<<20))
	warn("request_size_bytes", err)
	m.inFlight, err = meter.Int64UpDownCounter("recalld.http.active_requests",
		metric.WithDescription("Requests being served."),
		metric.WithUnit("{request}"))
	warn("active_requests", err)
	m.authFailures, err = meter.Int64Counter("recalld.http.auth_failures_total",
		metric.WithDescription("Requests to /api rejected for a wrong API key."),
		metric.WithUnit("{request}"))
	warn("auth_failures_total", err)
	return m
}

// MetricsMiddleware records every request once the handler and error
// mapping are known.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			m.add(ctx, m.inFlight, 1)

			err := next(c)

			status := responseStatus(c, err)
			route := routeLabel(c.Path())
			attrs := metric.WithAttributes(
				attribute.String("api", apiLabel(route)),
				attribute.String("method", c.Request().Method),
				attribute.String("route", route),
				attribute.String("status_class", strconv.Itoa(status/100)+"xx"),
			)
			m.add(ctx, m.requests, 1, attrs)
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if n := c.Request().ContentLength; n > 0 && m.requestSize != nil {
				m.requestSize.Record(ctx, n, attrs)
			}
			if status == http.StatusUnauthorized {
				m.add(ctx, m.authFailures, 1, metric.WithAttributes(attribute.String("route", route)))
			}
			m.add(ctx, m.inFlight, -1)
			return err
		}
	}
}

// add tolerates instruments that failed to register.
func (m *HTTPMetrics) add(ctx context.Context, inst interface {
	Add(context.Context, int64, ...metric.AddOption)
}, n int64, opts ...metric.AddOption) {
	if inst == nil {
		return
	}
	inst.Add(ctx, n, opts...)
}

// routeLabel is the matched route pattern, so /api/v1/chats/:chatId stays
// one series. Unmatched requests share one label.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

func apiLabel(route string) string {
	switch {
	case strings.HasPrefix(route, "/api/vector/"):
		return "vectors"
	case strings.HasPrefix(route, "/api/v1/chats"):
		return "chats"
	default:
		return "ops"
	}
}
