// Package memory owns the bounded, access-ordered session cache and
// arbitrates every read or write that crosses it: hydration from durable
// storage (coalesced single-flight), eviction with a best-effort durable
// flush, and write-through persistence dispatched off the cache's critical
// section.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/relaychat/relay/internal/cache"
	"github.com/relaychat/relay/internal/infra"
	"github.com/relaychat/relay/internal/observability"
	"github.com/relaychat/relay/internal/sessions"
	"github.com/relaychat/relay/pkg/models"
)

// ErrNoCurrentSession is returned by operations that act on the current
// session (Append, CurrentHistory, ClearCurrent) before one has been set.
var ErrNoCurrentSession = errors.New("memory: no current session")

// ErrDeleteActiveSession is returned when Delete targets the current session.
var ErrDeleteActiveSession = models.NewError(models.ErrArgument, "cannot delete the active session", nil)

// Manager owns the LRU session cache and every operation that touches it.
// The cache mutex it holds internally never spans an awaited persistence
// call: writes are dispatched to background goroutines once the
// cache-critical section has returned.
type Manager struct {
	store   sessions.Store
	log     *observability.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	cache   *cache.LRU[string, models.SessionState]
	current string
	// suppressEvictFlush marks session ids whose removal from the cache is
	// an explicit Delete, not a size-driven eviction: the eviction callback
	// must not re-persist state for a session that is being deleted.
	suppressEvictFlush map[string]bool
	// createdAt tracks per-session creation time for SessionDuration, keyed
	// independently of cache residency since a session may be evicted and
	// rehydrated many times before it is deleted.
	createdAt map[string]time.Time

	hydration infra.Group[string, models.SessionState]

	// persist serializes write-through persistence per session: each
	// session id is its own lane, so two appends to the same session
	// durably land in submission order even though neither blocks the
	// caller, while distinct sessions' writes never queue behind one
	// another. dispatchPersist enqueues onto it while m.mu is still held,
	// so lane order matches the order operations observed the cache.
	persist *infra.CommandQueue

	bg sync.WaitGroup
}

// Config configures a Manager.
type Config struct {
	Store      sessions.Store
	MaxEntries int
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// New builds a Manager bounded to cfg.MaxEntries resident sessions.
// MaxEntries <= 0 means unbounded.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	m := &Manager{
		store:              cfg.Store,
		log:                logger,
		metrics:            cfg.Metrics,
		suppressEvictFlush: make(map[string]bool),
		createdAt:          make(map[string]time.Time),
		persist:            infra.NewCommandQueue(),
	}
	m.cache = cache.New[string, models.SessionState](cfg.MaxEntries, m.onEvict)
	return m
}

// onEvict runs under the cache's lock (see cache.EvictFunc's contract): it
// must not perform I/O itself, only decide whether to dispatch it.
func (m *Manager) onEvict(id string, state models.SessionState) {
	if m.suppressEvictFlush[id] {
		delete(m.suppressEvictFlush, id)
		return
	}
	m.dispatchPersist(func(ctx context.Context) error {
		return m.store.SaveFullContext(ctx, id, state)
	}, "save_full_context on eviction", id)
}

// dispatchPersist enqueues fn onto sessionID's persistence lane and
// returns immediately: the queue append is synchronous and lock-free of
// I/O, so dispatchPersist is safe to call while m.mu is held, which is
// precisely what every call site does. That is what gives two persistence
// tasks for the same session their relative order: the order Append (or
// any other write-through op) observed the cache under m.mu is the order
// their durable writes are enqueued, and a lane drains strictly FIFO.
// Failures are logged, never raised; cancellation of fn's own background
// context never reaches a foreground caller.
func (m *Manager) dispatchPersist(fn func(ctx context.Context) error, op, sessionID string) {
	m.bg.Add(1)
	m.persist.EnqueueAsyncInLane(sessionID, func(ctx context.Context) (any, error) {
		defer m.bg.Done()
		ctx = context.Background()
		if err := fn(ctx); err != nil {
			m.log.Error(ctx, "memory: background persistence failed",
				"op", op, "session_id", sessionID, "error", err)
		}
		return nil, nil
	})
}

// Wait blocks until every dispatched background persistence task has
// finished. Intended for clean shutdown and tests; not part of the
// public steady-state contract.
func (m *Manager) Wait() {
	m.bg.Wait()
}

// hydrate loads a session's full state from the store. Callers must NOT
// hold m.mu: hydrate performs I/O and must never run with the cache lock
// held.
func (m *Manager) hydrate(ctx context.Context, id string) (models.SessionState, error) {
	val, err, _ := m.hydration.Do(id, func() (models.SessionState, error) {
		prompt, err := m.store.GetSystemPrompt(ctx, id)
		if err != nil && !errors.Is(err, sessions.ErrNotFound) {
			return models.SessionState{}, models.NewError(models.ErrIO, "hydrating system prompt", err)
		}
		messages, err := m.store.GetMessages(ctx, id, -1)
		if err != nil {
			return models.SessionState{}, models.NewError(models.ErrIO, "hydrating messages", err)
		}
		return models.SessionState{SystemPrompt: prompt, Messages: messages}, nil
	})
	return val, err
}

// Preload ensures id is resident in the cache, hydrating it from storage
// (joining any in-flight hydration for the same id) if it is not.
func (m *Manager) Preload(ctx context.Context, id string) error {
	if err := models.ValidateSessionID(id); err != nil {
		return err
	}
	m.mu.Lock()
	_, ok := m.cache.Get(id)
	m.mu.Unlock()
	if ok {
		return nil
	}

	state, err := m.hydrate(ctx, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cache.Put(id, state)
	// Ensure a durable session record exists before any write-through for
	// this session reaches the store: the ensure goes down the same lane as
	// later appends and the eviction flush, so it always lands first. A
	// session that already exists durably makes this a no-op.
	m.dispatchPersist(func(ctx context.Context) error {
		err := m.store.CreateSession(ctx, &models.Session{ID: id, SystemPrompt: state.SystemPrompt})
		if errors.Is(err, sessions.ErrAlreadyExists) {
			return nil
		}
		return err
	}, "ensure session on preload", id)
	m.mu.Unlock()
	return nil
}

// Create ensures a SessionState exists for id, optionally setting its
// system prompt, and persists the session record if it is new.
func (m *Manager) Create(ctx context.Context, id string, systemPrompt *string) error {
	if err := models.ValidateSessionID(id); err != nil {
		return err
	}

	m.mu.Lock()
	state, ok := m.cache.Get(id)
	if !ok {
		state = models.SessionState{}
	}
	if systemPrompt != nil {
		state.SystemPrompt = *systemPrompt
	}
	m.cache.Put(id, state)
	if systemPrompt != nil {
		prompt := *systemPrompt
		m.dispatchPersist(func(ctx context.Context) error {
			return m.store.SetSystemPrompt(ctx, id, prompt)
		}, "set_system_prompt on create", id)
	}
	m.mu.Unlock()

	if !ok {
		if err := m.store.CreateSession(ctx, &models.Session{ID: id, SystemPrompt: state.SystemPrompt}); err != nil && !errors.Is(err, sessions.ErrAlreadyExists) {
			return models.NewError(models.ErrIO, "creating session record", err)
		}
		m.mu.Lock()
		m.createdAt[id] = time.Now()
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.SessionStarted()
		}
	}
	return nil
}

// SwitchTo makes id the current session, preloading it first if necessary.
// Calling SwitchTo(id) twice in a row is equivalent to calling it once.
func (m *Manager) SwitchTo(ctx context.Context, id string) error {
	if err := models.ValidateSessionID(id); err != nil {
		return err
	}
	m.mu.Lock()
	_, ok := m.cache.Get(id)
	m.mu.Unlock()

	if !ok {
		if err := m.Preload(ctx, id); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.current = id
	m.mu.Unlock()
	return nil
}

// Delete removes id from the cache and schedules its durable deletion. It
// is an error to delete the active session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	if id == m.current {
		m.mu.Unlock()
		return ErrDeleteActiveSession
	}
	if _, ok := m.cache.Get(id); ok {
		m.suppressEvictFlush[id] = true
		m.cache.Remove(id)
	}
	startedAt, hadStart := m.createdAt[id]
	delete(m.createdAt, id)
	m.dispatchPersist(func(ctx context.Context) error {
		return m.store.DeleteSession(ctx, id)
	}, "delete_session", id)
	m.mu.Unlock()

	if m.metrics != nil && hadStart {
		m.metrics.SessionEnded(time.Since(startedAt).Seconds())
	}
	return nil
}

// UpdateSystemPrompt updates id's cached system prompt, hydrating it first
// if it is not resident, and schedules a durable update when prompt is
// non-nil.
func (m *Manager) UpdateSystemPrompt(ctx context.Context, id string, prompt *string) error {
	if err := models.ValidateSessionID(id); err != nil {
		return err
	}
	if err := m.Preload(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	state, _ := m.cache.Get(id)
	if prompt != nil {
		state.SystemPrompt = *prompt
	}
	m.cache.Put(id, state)
	if prompt != nil {
		p := *prompt
		m.dispatchPersist(func(ctx context.Context) error {
			return m.store.SetSystemPrompt(ctx, id, p)
		}, "set_system_prompt", id)
	}
	m.mu.Unlock()
	return nil
}

// Append writes a new message to the current session's cached transcript
// and schedules its durable append.
func (m *Manager) Append(ctx context.Context, role models.Role, content models.Content, toolCalls []models.ToolCall, toolCallID, name string) error {
	m.mu.Lock()
	id := m.current
	if id == "" {
		m.mu.Unlock()
		return ErrNoCurrentSession
	}
	state, _ := m.cache.Get(id)
	msg := models.Message{
		Role:       role,
		Content:    content,
		Name:       name,
		ToolCalls:  toolCalls,
		ToolCallID: toolCallID,
	}
	state.Messages = append(state.Messages, msg)
	m.cache.Put(id, state)
	m.dispatchPersist(func(ctx context.Context) error {
		return m.store.AppendMessage(ctx, id, msg)
	}, "append_message", id)
	m.mu.Unlock()
	return nil
}

// CurrentHistory returns the current session's messages, optionally
// truncated to the last window items (-1 means all, 0 means none) and
// prepended with a synthesized System message when includeSystem is true
// and an effective system prompt exists (tempSystem overrides the
// session's own prompt when both are set).
func (m *Manager) CurrentHistory(window int, tempSystem *string, includeSystem bool) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.current
	if id == "" {
		return nil, ErrNoCurrentSession
	}
	state, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNoCurrentSession
	}

	windowed := windowMessages(state.Messages, window)

	effectivePrompt := state.SystemPrompt
	if tempSystem != nil {
		effectivePrompt = *tempSystem
	}

	out := make([]models.Message, 0, len(windowed)+1)
	if includeSystem && effectivePrompt != "" {
		out = append(out, models.Message{Role: models.RoleSystem, Content: models.NewTextContent(effectivePrompt)})
	}
	out = append(out, windowed...)
	return out, nil
}

// windowMessages returns the last n messages: -1 means all, 0 means none,
// n >= len(messages) means all.
func windowMessages(messages []models.Message, n int) []models.Message {
	if n == 0 {
		return nil
	}
	if n < 0 || n >= len(messages) {
		out := make([]models.Message, len(messages))
		copy(out, messages)
		return out
	}
	start := len(messages) - n
	out := make([]models.Message, n)
	copy(out, messages[start:])
	return out
}

// ClearCurrent truncates the current session's messages (keeping its
// system prompt) and schedules a durable clear.
func (m *Manager) ClearCurrent(ctx context.Context) error {
	m.mu.Lock()
	id := m.current
	if id == "" {
		m.mu.Unlock()
		return ErrNoCurrentSession
	}
	state, _ := m.cache.Get(id)
	state.Messages = nil
	m.cache.Put(id, state)
	m.dispatchPersist(func(ctx context.Context) error {
		return m.store.ClearMessages(ctx, id)
	}, "clear_messages", id)
	m.mu.Unlock()
	return nil
}

// Current returns the current session id, or "" if none is set.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Len reports the number of resident sessions, for tests and diagnostics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}
