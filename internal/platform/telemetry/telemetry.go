// Package telemetry instruments the HTTP surface: a Prometheus request
// histogram and an OpenTelemetry server span per request.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

// HTTPMetrics holds the request collectors.
type HTTPMetrics struct {
	duration *prometheus.HistogramVec
	active   prometheus.Gauge
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carebook",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "carebook",
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Requests currently being served",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.duration, m.active)
	return m
}

func route(c echo.Context) string {
	if r := c.Path(); r != "" {
		return r
	}
	return c.Request().URL.Path
}

// status reports the code the error handler will write when the handler
// returned an *echo.HTTPError before committing a response.
func status(c echo.Context, err error) int {
	if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
		return he.Code
	}
	return c.Response().Status
}

// Middleware records latency labelled by the route pattern, never the raw path.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.active.Inc()
			defer m.active.Dec()

			start := time.Now()
			err := next(c)

			m.duration.WithLabelValues(c.Request().Method, route(c), strconv.Itoa(status(c, err))).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// TracingMiddleware
// ---------------------------------------------------------------------------

// Tracing starts a server span named "HTTP {method} {route}" around each
// request. A nil tracer uses the global provider.
func Tracing(tracer trace.Tracer) echo.MiddlewareFunc {
	if tracer == nil {
		tracer = otel.Tracer("carebook.internal.platform.telemetry")
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx, span := tracer.Start(req.Context(), "HTTP "+req.Method+" "+route(c),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", route(c)),
				))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			code := status(c, err)
			span.SetAttributes(attribute.Int("http.status_code", code))
			if tenant, ok := c.Get("tenant_id").(string); ok && tenant != "" {
				span.SetAttributes(attribute.String("tenant.id", tenant))
			}
			if code >= 500 {
				span.SetStatus(codes.Error, strconv.Itoa(code))
			}
			return err
		}
	}
}
