package main

import (
	"fmt"
	"os"

	"github.com/relaychat/relay/internal/agent"
	"github.com/relaychat/relay/internal/memory"
	"github.com/relaychat/relay/internal/observability"
	"github.com/relaychat/relay/internal/provider"
	"github.com/relaychat/relay/internal/provider/openaicompat"
	"github.com/relaychat/relay/internal/sessions"
	"github.com/relaychat/relay/internal/usage"
)

// demoFlags collects the flags common to every subcommand: how to reach a
// provider and where to persist sessions.
type demoFlags struct {
	baseURL string
	apiKey  string
	model   string
	store   string

	sqlitePath string

	sessionID string
	debug     bool
	showUsage bool
}

func (f *demoFlags) resolveAPIKey() string {
	if f.apiKey != "" {
		return f.apiKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

func buildStore(f *demoFlags) (sessions.Store, error) {
	switch f.store {
	case "", "memory":
		return sessions.NewMemoryStore(), nil
	case "sqlite":
		cfg := sessions.DefaultSQLiteConfig()
		if f.sqlitePath != "" {
			cfg.Path = f.sqlitePath
		}
		return sessions.NewSQLiteStore(cfg)
	default:
		return nil, fmt.Errorf("unknown --store %q (want memory or sqlite)", f.store)
	}
}

// buildClient assembles a logger, a Store, a Provider, a memory Manager, and
// an agent Client from f, returning the Client and its bound Manager so the
// caller can create/switch sessions before issuing turns. When f.showUsage
// is set, the returned Tracker is non-nil and already attached to the
// Client; the caller prints Tracker.Report after each turn.
func buildClient(f *demoFlags) (*agent.Client, *memory.Manager, *usage.Tracker, error) {
	level := "info"
	if f.debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level, Format: "text"})

	store, err := buildStore(f)
	if err != nil {
		return nil, nil, nil, err
	}

	apiKey := f.resolveAPIKey()
	if apiKey == "" {
		return nil, nil, nil, fmt.Errorf("no API key: pass --api-key or set OPENAI_API_KEY")
	}
	var p provider.Provider = openaicompat.New(openaicompat.Config{
		BaseURL: f.baseURL,
		APIKey:  apiKey,
		Model:   f.model,
		Logger:  logger,
	})

	mgr := memory.New(memory.Config{
		Store:      store,
		MaxEntries: 100,
		Logger:     logger,
	})

	client := agent.NewClient(p, mgr, logger)

	var tracker *usage.Tracker
	if f.showUsage {
		tracker = usage.NewTracker(usage.DefaultTrackerConfig())
		client = client.WithUsageTracking(tracker, nil)
	}

	return client, mgr, tracker, nil
}
