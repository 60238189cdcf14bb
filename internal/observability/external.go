// Package observability wraps calls to external dependencies with metrics,
// tracing, a per-call timeout and a circuit breaker, and carries
// request-scoped loggers through contexts.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ConnectionType names an external dependency.
type ConnectionType string

// Dependencies the gateway talks to besides the model providers.
const (
	ConnectionTypeDatabase ConnectionType = "database"
	ConnectionTypeQueue    ConnectionType = "queue"
	ConnectionTypeVectorDB ConnectionType = "vectordb"
	ConnectionTypeTika     ConnectionType = "tika"
	ConnectionTypeHTTP     ConnectionType = "http"
)

// OperationType names what a call does.
type OperationType string

// Operation types.
const (
	OperationTypeQuery   OperationType = "query"
	OperationTypePublish OperationType = "publish"
	OperationTypeSearch  OperationType = "search"
	OperationTypeUpsert  OperationType = "upsert"
	OperationTypeExtract OperationType = "extract"
	OperationTypeRequest OperationType = "request"
)

// ErrCircuitOpen is returned without calling the dependency while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

var (
	externalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "external_requests_total",
			Help: "Calls to external dependencies by outcome",
		},
		[]string{"connection", "operation", "outcome"},
	)
	externalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "external_request_duration_seconds",
			Help:    "Duration of calls to external dependencies",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"connection", "operation"},
	)
	circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "external_circuit_open",
			Help: "1 while the circuit breaker of a dependency is open",
		},
		[]string{"connection", "endpoint"},
	)
)

// Collectors returns the collectors of this package for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{externalRequests, externalDuration, circuitState}
}

// BreakerState is the state of a circuit breaker.
type BreakerState int

// Breaker states.
const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker opens after maxFailures consecutive failures and lets one
// trial call through once cooldown has passed.
type CircuitBreaker struct {
	mu          sync.Mutex
	maxFailures int
	cooldown    time.Duration
	state       BreakerState
	failures    int
	openedAt    time.Time
	now         func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{maxFailures: max(1, maxFailures), cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may proceed, moving an expired open breaker to half-open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = StateHalfOpen
		return true
	default:
		return true
	}
}

// Success closes the breaker.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state, cb.failures = StateClosed, 0
}

// Failure counts a failure; a failed trial call reopens the breaker.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ExternalClient instruments calls to one dependency endpoint.
type ExternalClient struct {
	Conn     ConnectionType
	Endpoint string
	Timeout  time.Duration
	Breaker  *CircuitBreaker
}

// NewExternalClient creates a client with a breaker that opens after five consecutive failures for 30s.
func NewExternalClient(conn ConnectionType, endpoint string, timeout time.Duration) *ExternalClient {
	return &ExternalClient{Conn: conn, Endpoint: endpoint, Timeout: timeout, Breaker: NewCircuitBreaker(5, 30*time.Second)}
}

// Execute runs fn under a span, the client timeout and the breaker, and records the outcome.
func (c *ExternalClient) Execute(ctx context.Context, op OperationType, fn func(ctx context.Context) error) error {
	conn, opName := string(c.Conn), string(op)
	if c.Breaker != nil && !c.Breaker.Allow() {
		externalRequests.WithLabelValues(conn, opName, "rejected").Inc()
		return fmt.Errorf("op=%s.%s: %w", conn, opName, ErrCircuitOpen)
	}

	ctx, span := otel.Tracer("external").Start(ctx, conn+"."+opName)
	defer span.End()
	span.SetAttributes(attribute.String("peer.service", conn), attribute.String("server.address", c.Endpoint))

	callCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(callCtx)
	d := time.Since(start)
	externalDuration.WithLabelValues(conn, opName).Observe(d.Seconds())

	outcome := "ok"
	switch {
	case err == nil:
		c.recordSuccess()
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		outcome = "timeout"
		c.recordFailure()
	case errors.Is(err, context.Canceled):
		outcome = "canceled"
	default:
		outcome = "error"
		c.recordFailure()
	}
	externalRequests.WithLabelValues(conn, opName, outcome).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		LoggerFromContext(ctx).WarnContext(ctx, "external call failed",
			slog.String("connection", conn),
			slog.String("operation", opName),
			slog.String("endpoint", c.Endpoint),
			slog.String("outcome", outcome),
			slog.Duration("duration", d),
			slog.Any("error", err))
	}
	return err
}

func (c *ExternalClient) recordSuccess() {
	if c.Breaker == nil {
		return
	}
	c.Breaker.Success()
	circuitState.WithLabelValues(string(c.Conn), c.Endpoint).Set(0)
}

func (c *ExternalClient) recordFailure() {
	if c.Breaker == nil {
		return
	}
	c.Breaker.Failure()
	if c.Breaker.State() == StateOpen {
		circuitState.WithLabelValues(string(c.Conn), c.Endpoint).Set(1)
	}
}
