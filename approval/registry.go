// Package approval coordinates human-in-the-loop decisions for gated tool
// calls. A tool executor registers a request and suspends on Await while the
// question travels to the user over whatever transport carries the
// conversation; any other goroutine (an HTTP handler, a websocket reader)
// settles it with Resolve.
//
// Each wait blocks on its own buffered channel, so a slow decision on one
// request never delays another. The registry lock guards only map mutation.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tailored-agentic-units/relay/observability"
)

// Request is a pending approval awaiting a decision.
type Request struct {
	ID           string
	ToolName     string
	Arguments    json.RawMessage
	RegisteredAt time.Time
}

// Decision is the outcome of an approval request. A timed-out wait yields a
// denial with TimedOut set so logs and metrics can tell the two apart.
type Decision struct {
	Approved bool
	TimedOut bool
}

// Outcome returns the decision as a metric and log label.
func (d Decision) Outcome() string {
	switch {
	case d.TimedOut:
		return "timeout"
	case d.Approved:
		return "approved"
	default:
		return "denied"
	}
}

// Option configures a Registry after construction.
type Option func(*Registry)

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithInstrumentation attaches Prometheus instrumentation. Without it the
// registry still keeps its internal counters.
func WithInstrumentation(m *observability.Metrics) Option {
	return func(r *Registry) { r.instruments = m }
}

// Registry tracks approval requests from registration to decision.
type Registry struct {
	pending  map[string]Request
	waiters  map[string]chan Decision
	buffered map[string]Decision
	mutex    sync.RWMutex

	config      Config
	observer    observability.Observer
	metrics     *Metrics
	instruments *observability.Metrics
}

// New creates a Registry. Zero fields in cfg fall back to defaults.
func New(cfg Config, opts ...Option) *Registry {
	config := DefaultConfig()
	config.Merge(&cfg)

	r := &Registry{
		pending:  make(map[string]Request),
		waiters:  make(map[string]chan Decision),
		buffered: make(map[string]Decision),
		config:   config,
		observer: observability.NoOpObserver{},
		metrics:  NewMetrics(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register records a request as pending. Registering an id that is already
// pending replaces it and discards any undelivered decision for that id;
// the replacement is logged, not an error.
func (r *Registry) Register(ctx context.Context, requestID, toolName string, args json.RawMessage) error {
	if requestID == "" {
		return ErrEmptyRequestID
	}

	request := Request{
		ID:           requestID,
		ToolName:     toolName,
		Arguments:    append(json.RawMessage(nil), args...),
		RegisteredAt: time.Now(),
	}

	r.mutex.Lock()
	_, replaced := r.pending[requestID]
	r.pending[requestID] = request
	delete(r.buffered, requestID)
	r.mutex.Unlock()

	r.metrics.RecordRegistered(1)
	if !replaced {
		r.instruments.ApprovalRegistered()
	}

	if replaced {
		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventReplaced,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "approval.Register",
			Data: map[string]any{
				"request_id": requestID,
				"tool":       toolName,
			},
		})
	}

	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventRegistered,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "approval.Register",
		Data: map[string]any{
			"request_id": requestID,
			"tool":       toolName,
		},
	})

	return nil
}

// Await blocks until the request is decided, the timeout elapses, or ctx is
// cancelled. A timeout is returned as a denial with Decision.TimedOut set and
// a nil error. A non-positive timeout falls back to the configured
// ExecutionTimeout. At most one waiter may exist per request id.
func (r *Registry) Await(ctx context.Context, requestID string, timeout time.Duration) (Decision, error) {
	if timeout <= 0 {
		timeout = r.config.ExecutionTimeout
	}
	start := time.Now()

	r.mutex.Lock()
	if decision, ok := r.buffered[requestID]; ok {
		delete(r.buffered, requestID)
		r.mutex.Unlock()
		r.settle(ctx, requestID, decision, time.Since(start))
		return decision, nil
	}
	if _, ok := r.pending[requestID]; !ok {
		r.mutex.Unlock()
		return Decision{}, fmt.Errorf("%w: %s", ErrNotRegistered, requestID)
	}
	if _, ok := r.waiters[requestID]; ok {
		r.mutex.Unlock()
		return Decision{}, fmt.Errorf("%w: %s", ErrAlreadyAwaited, requestID)
	}
	decisionChannel := make(chan Decision, 1)
	r.waiters[requestID] = decisionChannel
	r.mutex.Unlock()

	select {
	case decision := <-decisionChannel:
		r.settle(ctx, requestID, decision, time.Since(start))
		return decision, nil

	case <-ctx.Done():
		if decision, ok := r.abandon(requestID, decisionChannel); ok {
			r.settle(ctx, requestID, decision, time.Since(start))
			return decision, nil
		}
		r.instruments.ApprovalSettled("cancelled", time.Since(start).Seconds())
		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventCancelled,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "approval.Await",
			Data: map[string]any{
				"request_id": requestID,
			},
		})
		return Decision{}, fmt.Errorf("approval wait cancelled: %w", ctx.Err())

	case <-time.After(timeout):
		if decision, ok := r.abandon(requestID, decisionChannel); ok {
			r.settle(ctx, requestID, decision, time.Since(start))
			return decision, nil
		}
		decision := Decision{TimedOut: true}
		r.metrics.RecordTimeout(1)
		r.instruments.ApprovalSettled("timeout", time.Since(start).Seconds())
		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventTimeout,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "approval.Await",
			Data: map[string]any{
				"request_id": requestID,
				"timeout":    timeout.String(),
			},
		})
		return decision, nil
	}
}

// Resolve settles a request with a decision. If a waiter is blocked the
// decision is delivered to it; if the request is pending but not yet awaited
// the decision is buffered for the future waiter. Returns false when the id
// is unknown, which is logged and otherwise ignored.
func (r *Registry) Resolve(ctx context.Context, requestID string, approved bool) bool {
	decision := Decision{Approved: approved}

	r.mutex.Lock()
	if decisionChannel, ok := r.waiters[requestID]; ok {
		request := r.pending[requestID]
		delete(r.waiters, requestID)
		delete(r.pending, requestID)
		r.mutex.Unlock()

		decisionChannel <- decision
		r.metrics.RecordDecision(approved)
		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventDecided,
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "approval.Resolve",
			Data: map[string]any{
				"request_id": requestID,
				"tool":       request.ToolName,
				"approved":   approved,
				"delivery":   "direct",
			},
		})
		return true
	}

	if request, ok := r.pending[requestID]; ok {
		r.buffered[requestID] = decision
		delete(r.pending, requestID)
		r.mutex.Unlock()

		r.metrics.RecordDecision(approved)
		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventDecided,
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "approval.Resolve",
			Data: map[string]any{
				"request_id": requestID,
				"tool":       request.ToolName,
				"approved":   approved,
				"delivery":   "buffered",
			},
		})
		return true
	}
	r.mutex.Unlock()

	r.metrics.RecordOrphaned(1)
	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventOrphaned,
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "approval.Resolve",
		Data: map[string]any{
			"request_id": requestID,
			"approved":   approved,
		},
	})
	return false
}

// PendingCount returns the number of requests awaiting a decision.
func (r *Registry) PendingCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.pending)
}

// Pending returns a snapshot of open requests in registration order.
func (r *Registry) Pending() []Request {
	r.mutex.RLock()
	requests := make([]Request, 0, len(r.pending))
	for _, request := range r.pending {
		requests = append(requests, request)
	}
	r.mutex.RUnlock()

	sort.Slice(requests, func(i, j int) bool {
		if requests[i].RegisteredAt.Equal(requests[j].RegisteredAt) {
			return requests[i].ID < requests[j].ID
		}
		return requests[i].RegisteredAt.Before(requests[j].RegisteredAt)
	})
	return requests
}

// Metrics returns a snapshot of the registry's counters.
func (r *Registry) Metrics() MetricsSnapshot {
	return r.metrics.Snapshot()
}

// ExecutionTimeout returns the configured default wait bound.
func (r *Registry) ExecutionTimeout() time.Duration {
	return r.config.ExecutionTimeout
}

// InteractiveTimeout returns the configured bound for user-facing waits.
func (r *Registry) InteractiveTimeout() time.Duration {
	return r.config.InteractiveTimeout
}

// abandon removes the wait state for requestID. A decision that raced in on
// decisionChannel is recovered and returned so it is not lost.
func (r *Registry) abandon(requestID string, decisionChannel chan Decision) (Decision, bool) {
	r.mutex.Lock()
	delete(r.waiters, requestID)
	delete(r.pending, requestID)
	r.mutex.Unlock()

	select {
	case decision := <-decisionChannel:
		return decision, true
	default:
		return Decision{}, false
	}
}

// settle records the end of a wait that produced a decision.
func (r *Registry) settle(ctx context.Context, requestID string, decision Decision, waited time.Duration) {
	r.instruments.ApprovalSettled(decision.Outcome(), waited.Seconds())
	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventSettled,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "approval.Await",
		Data: map[string]any{
			"request_id": requestID,
			"outcome":    decision.Outcome(),
			"waited_ms":  waited.Milliseconds(),
		},
	})
}
