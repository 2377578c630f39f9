package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaychat/relay/internal/agent"
	"github.com/relaychat/relay/internal/sessions"
	"github.com/relaychat/relay/internal/usage"
	"github.com/relaychat/relay/pkg/models"
)

func registerCommonFlags(cmd *cobra.Command, f *demoFlags) {
	cmd.Flags().StringVar(&f.baseURL, "base-url", "https://api.openai.com/v1", "OpenAI-compatible endpoint base URL")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "API key (falls back to OPENAI_API_KEY)")
	cmd.Flags().StringVar(&f.model, "model", "gpt-4o-mini", "Model name")
	cmd.Flags().StringVar(&f.store, "store", "memory", "Session store: memory or sqlite")
	cmd.Flags().StringVar(&f.sqlitePath, "sqlite-path", "relay.db", "SQLite database path (when --store=sqlite)")
	cmd.Flags().StringVar(&f.sessionID, "session", "", "Session ID (generated if empty)")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&f.showUsage, "show-usage", false, "Print token usage and estimated cost after each turn")
}

// buildAskCmd issues a single Ask turn and prints the response.
func buildAskCmd() *cobra.Command {
	f := &demoFlags{}
	var system string

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask a single question and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, mgr, tracker, err := buildClient(f)
			if err != nil {
				return err
			}
			defer client.Close()

			sessionID := f.sessionID
			if sessionID == "" {
				sessionID = sessions.NewSessionID()
			}
			var sysPtr *string
			if system != "" {
				sysPtr = &system
			}
			if err := mgr.Create(ctx, sessionID, sysPtr); err != nil {
				return err
			}
			if err := mgr.SwitchTo(ctx, sessionID); err != nil {
				return err
			}

			scope := client.NewScope(5)
			answer, err := scope.Ask(ctx, args[0], agent.PrepareOpts{
				Strategy: models.MemoryReadWrite,
				Window:   -1,
			}, models.GenerationOptions{ModelOverride: f.model})
			if err != nil {
				return err
			}
			fmt.Println(answer)
			if tracker != nil {
				fmt.Fprintln(os.Stderr, "usage:", tracker.Report(sessionID))
			}
			return nil
		},
	}
	registerCommonFlags(cmd, f)
	cmd.Flags().StringVar(&system, "system", "", "System prompt for the session")
	return cmd
}

// buildChatCmd runs an interactive streaming REPL over a single session.
func buildChatCmd() *cobra.Command {
	f := &demoFlags{}
	var system string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive streaming chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, mgr, tracker, err := buildClient(f)
			if err != nil {
				return err
			}
			defer client.Close()

			sessionID := f.sessionID
			if sessionID == "" {
				sessionID = sessions.NewSessionID()
			}
			var sysPtr *string
			if system != "" {
				sysPtr = &system
			}
			if err := mgr.Create(ctx, sessionID, sysPtr); err != nil {
				return err
			}
			if err := mgr.SwitchTo(ctx, sessionID); err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "session %s ready; type a message and press enter (Ctrl-D to quit)\n", sessionID)
			scope := client.NewScope(5)
			return runChatLoop(ctx, scope, f.model, sessionID, tracker)
		},
	}
	registerCommonFlags(cmd, f)
	cmd.Flags().StringVar(&system, "system", "", "System prompt for the session")
	return cmd
}

func runChatLoop(ctx context.Context, scope *agent.Scope, model, sessionID string, tracker *usage.Tracker) error {
	reader := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !reader.Scan() {
			return reader.Err()
		}
		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		sink := func(delta string) error {
			fmt.Print(delta)
			return nil
		}
		_, err := scope.AskStream(ctx, line, agent.PrepareOpts{
			Strategy: models.MemoryReadWrite,
			Window:   -1,
		}, models.GenerationOptions{ModelOverride: model}, sink)
		fmt.Println()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		if tracker != nil {
			fmt.Fprintln(os.Stderr, "usage:", tracker.Report(sessionID))
		}
	}
}
