// Package agent implements the orchestrator: a short-lived Scope bound to
// a long-lived Client, driving a Re-Act tool-calling loop over a Provider
// and a Memory Manager.
package agent

import (
	"github.com/relaychat/relay/internal/memory"
	"github.com/relaychat/relay/internal/observability"
	"github.com/relaychat/relay/internal/provider"
	"github.com/relaychat/relay/internal/usage"
)

// Client owns a provider and a memory manager for the lifetime of a
// configuration; it is constructed once and released deterministically via
// Close. Scopes are created from it per top-level conversation call.
type Client struct {
	provider provider.Provider
	memory   *memory.Manager
	log      *observability.Logger
	metrics  *observability.Metrics

	usage *usage.Tracker
	costs map[string]usage.Cost
}

// NewClient builds a Client. If log is nil, a default logger is used.
func NewClient(p provider.Provider, m *memory.Manager, log *observability.Logger) *Client {
	if log == nil {
		log = observability.NewLogger(observability.LogConfig{})
	}
	return &Client{provider: p, memory: m, log: log}
}

// WithMetrics attaches Prometheus instrumentation; nil disables metrics
// recording (the default). Returns c for chaining.
func (c *Client) WithMetrics(m *observability.Metrics) *Client {
	c.metrics = m
	return c
}

// WithUsageTracking attaches an in-process token/cost tracker alongside
// Prometheus metrics: tracker retains a queryable recent-history window (see
// usage.Tracker), while costs prices each model (keyed by the model name
// passed as GenerationOptions.ModelOverride) for per-request cost
// estimation. A model absent from costs is recorded with zero cost. Returns
// c for chaining.
func (c *Client) WithUsageTracking(tracker *usage.Tracker, costs map[string]usage.Cost) *Client {
	c.usage = tracker
	c.costs = costs
	return c
}

// NewScope creates a Scope bound to this client, bounded to maxToolRounds
// Re-Act iterations. maxToolRounds <= 0 applies the default of 5.
func (c *Client) NewScope(maxToolRounds int) *Scope {
	if maxToolRounds <= 0 {
		maxToolRounds = defaultMaxToolRounds
	}
	return &Scope{
		client:        c,
		maxToolRounds: maxToolRounds,
		tools:         make(map[string]registeredTool),
		log:           c.log,
	}
}

// Close releases the client's provider and waits for the memory manager's
// in-flight background persistence to drain.
func (c *Client) Close() error {
	c.memory.Wait()
	return c.provider.Close()
}
