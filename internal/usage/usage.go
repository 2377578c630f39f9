// Package usage tracks token usage and estimated cost per provider call and
// renders it into the summaries the relay CLI prints after a turn.
package usage

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Usage represents token usage for a single request.
type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64 `json:"cache_write_tokens,omitempty"`
}

// Total returns the total token count.
func (u *Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// Add adds another usage record to this one.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}

// Cost prices a model in dollars per million tokens, keyed by the model
// name a caller passes as GenerationOptions.ModelOverride.
type Cost struct {
	Input      float64 `json:"input" yaml:"input"`
	Output     float64 `json:"output" yaml:"output"`
	CacheRead  float64 `json:"cache_read" yaml:"cache_read"`
	CacheWrite float64 `json:"cache_write" yaml:"cache_write"`
}

// Estimate calculates the estimated cost for the given usage.
func (c *Cost) Estimate(usage *Usage) float64 {
	if usage == nil {
		return 0
	}
	total := float64(usage.InputTokens)*c.Input +
		float64(usage.OutputTokens)*c.Output +
		float64(usage.CacheReadTokens)*c.CacheRead +
		float64(usage.CacheWriteTokens)*c.CacheWrite
	return total / 1_000_000
}

// Record is one provider call, as recorded by the agent package's
// recordProviderCall after every completion and every streamed round.
type Record struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	SessionID string    `json:"session_id,omitempty"`
	Usage     Usage     `json:"usage"`
	Cost      float64   `json:"cost,omitempty"`
	ElapsedMs int64     `json:"elapsed_ms,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker accumulates Records across a process's lifetime so a CLI session
// can report what it spent: tokens, dollars, cache hit rate, and latency,
// broken down by session and by provider:model.
type Tracker struct {
	mu        sync.RWMutex
	records   []Record
	totals    map[string]*Usage // keyed by "provider:model"
	bySession map[string]*Usage
	maxAge    time.Duration
	maxCount  int
}

// TrackerConfig bounds how much history a Tracker retains.
type TrackerConfig struct {
	MaxAge   time.Duration
	MaxCount int
}

// DefaultTrackerConfig returns the retention window used by the relay CLI:
// a day of history, capped at 10000 records so a long-running chat session
// doesn't grow the tracker unbounded.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxAge:   24 * time.Hour,
		MaxCount: 10000,
	}
}

// NewTracker creates a usage tracker with the given retention config.
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	if config.MaxCount <= 0 {
		config.MaxCount = 10000
	}

	return &Tracker{
		records:   make([]Record, 0),
		totals:    make(map[string]*Usage),
		bySession: make(map[string]*Usage),
		maxAge:    config.MaxAge,
		maxCount:  config.MaxCount,
	}
}

// Record adds a usage record, as agent.recordProviderCall does after every
// successful provider call.
func (t *Tracker) Record(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	t.records = append(t.records, r)

	key := r.Provider + ":" + r.Model
	if t.totals[key] == nil {
		t.totals[key] = &Usage{}
	}
	t.totals[key].Add(&r.Usage)

	if r.SessionID != "" {
		if t.bySession[r.SessionID] == nil {
			t.bySession[r.SessionID] = &Usage{}
		}
		t.bySession[r.SessionID].Add(&r.Usage)
	}

	t.pruneOld()
}

// pruneOld removes records older than maxAge and beyond maxCount.
func (t *Tracker) pruneOld() {
	cutoff := time.Now().Add(-t.maxAge)

	startIdx := 0
	for i, r := range t.records {
		if r.Timestamp.After(cutoff) {
			startIdx = i
			break
		}
		startIdx = i + 1
	}

	if startIdx > 0 {
		t.records = t.records[startIdx:]
	}

	if len(t.records) > t.maxCount {
		t.records = t.records[len(t.records)-t.maxCount:]
	}
}

// GetSessionTotals returns accumulated usage for a session, or nil if the
// tracker holds no records for it.
func (t *Tracker) GetSessionTotals(sessionID string) *Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if usage := t.bySession[sessionID]; usage != nil {
		u := *usage
		return &u
	}
	return nil
}

// GetRecentRecords returns the most recent records, most recent last.
// limit <= 0 returns every retained record.
func (t *Tracker) GetRecentRecords(limit int) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.records) {
		limit = len(t.records)
	}

	start := len(t.records) - limit
	result := make([]Record, limit)
	copy(result, t.records[start:])
	return result
}

// GetSummary returns accumulated usage per "provider:model" key, across
// every session the tracker has seen.
func (t *Tracker) GetSummary() map[string]*Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]*Usage)
	for k, v := range t.totals {
		u := *v
		result[k] = &u
	}
	return result
}

// Report renders a one-line usage summary for a session: tokens, estimated
// cost, the share of input tokens served from cache, and average provider
// latency across its recorded calls. The relay CLI prints this after an ask
// turn and after each chat loop turn.
func (t *Tracker) Report(sessionID string) string {
	totals := t.GetSessionTotals(sessionID)
	if totals == nil {
		return "no usage recorded"
	}

	var cost float64
	var elapsedMs int64
	var calls int
	for _, r := range t.GetRecentRecords(0) {
		if r.SessionID != sessionID {
			continue
		}
		cost += r.Cost
		elapsedMs += r.ElapsedMs
		calls++
	}

	var cacheFraction float64
	if total := totals.Total(); total > 0 {
		cacheFraction = float64(totals.CacheReadTokens) / float64(total) * 100
	}

	avgLatency := "n/a"
	if calls > 0 {
		avgLatency = FormatDurationMs(elapsedMs / int64(calls))
	}

	summary := fmt.Sprintf("%s, %s cached, avg %s/call", FormatUsageDetailed(totals), FormatPercentage(cacheFraction), avgLatency)
	if usd := FormatUSD(cost); usd != "" {
		summary = usd + " · " + summary
	}
	return summary
}

// FormatTokenCount formats a token count for display.
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}

// FormatUSD formats a dollar amount for display, or "" when there's nothing
// to show (zero, negative, or a model with no Cost entry).
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ""
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}

// FormatUsageDetailed formats usage with a per-category breakdown, e.g.
// "1.5k (in: 1.0k, out: 500)".
func FormatUsageDetailed(usage *Usage) string {
	if usage == nil {
		return "no usage"
	}
	parts := []string{}
	if usage.InputTokens > 0 {
		parts = append(parts, fmt.Sprintf("in: %s", FormatTokenCount(usage.InputTokens)))
	}
	if usage.OutputTokens > 0 {
		parts = append(parts, fmt.Sprintf("out: %s", FormatTokenCount(usage.OutputTokens)))
	}
	if usage.CacheReadTokens > 0 {
		parts = append(parts, fmt.Sprintf("cache-r: %s", FormatTokenCount(usage.CacheReadTokens)))
	}
	if usage.CacheWriteTokens > 0 {
		parts = append(parts, fmt.Sprintf("cache-w: %s", FormatTokenCount(usage.CacheWriteTokens)))
	}
	if len(parts) == 0 {
		return "0 tokens"
	}
	return fmt.Sprintf("%s tokens (%s)", FormatTokenCount(usage.Total()), joinParts(parts))
}

func joinParts(parts []string) string {
	result := ""
	for i, p := range parts {
		if i > 0 {
			result += ", "
		}
		result += p
	}
	return result
}

// FormatPercentage formats a fraction (0-100) for display, using more
// decimal precision the smaller the value so a near-zero cache hit rate
// doesn't round away to "0%".
func FormatPercentage(value float64) string {
	if value < 1 {
		return fmt.Sprintf("%.2f%%", value)
	}
	if value < 10 {
		return fmt.Sprintf("%.1f%%", value)
	}
	return fmt.Sprintf("%.0f%%", value)
}

// FormatDurationMs formats a provider call's latency for display.
func FormatDurationMs(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%.1fm", float64(ms)/60000)
}
