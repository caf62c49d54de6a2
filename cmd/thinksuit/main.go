// Package main provides the thinksuit CLI.
//
// ThinkSuit schedules LLM orchestration turns: each turn is classified into
// signals, matched against module rules, planned, and executed with optional
// MCP tool access. Session history is an append-only journal on disk.
//
// # Basic Usage
//
// Run one turn:
//
//	thinksuit run "summarize the notes in this directory"
//
// Inspect sessions:
//
//	thinksuit sessions list
//	thinksuit sessions show <sessionId>
//
// # Environment Variables
//
//   - THINKSUIT_CONFIG: path to the config file (default: ~/.thinksuit.json)
//   - THINKSUIT_HOME: storage root (default: ~/.thinksuit)
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY: provider credentials
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thinksuit/thinksuit/internal/config"
	"github.com/thinksuit/thinksuit/internal/ids"
	"github.com/thinksuit/thinksuit/internal/module"
	"github.com/thinksuit/thinksuit/internal/scheduler"
	"github.com/thinksuit/thinksuit/pkg/models"
)

var version = "dev"

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "thinksuit",
		Short:        "ThinkSuit - LLM orchestration engine",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: ~/.thinksuit.json)")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildSessionsCmd(),
		buildTraceCmd(),
	)
	return rootCmd
}

// loadScheduler resolves configuration and wires a scheduler over it.
func loadScheduler(ctx context.Context, mutate func(*config.Config)) (*scheduler.Scheduler, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	provider, err := cfg.BuildProvider(ctx)
	if err != nil {
		return nil, nil, err
	}
	registry, err := module.NewRegistry(nil)
	if err != nil {
		return nil, nil, err
	}

	s := scheduler.New(scheduler.Config{
		Paths:    ids.DefaultPaths(),
		Provider: provider,
		Model:    cfg.Model,
		Modules:  registry,
		Policy:   cfg.Policy,
		Tools:    cfg.ToolsConfig(),
		Trace:    cfg.Trace,
		Logger:   cfg.Logger(),
	})
	return s, cfg, nil
}

func buildRunCmd() *cobra.Command {
	var (
		sessionID       string
		sourceSessionID string
		forkFromIndex   int
		planJSON        string
		frameJSON       string
		moduleKey       string
		providerName    string
		model           string
		trace           bool
		autoApprove     bool
		showEvents      bool
	)
	cmd := &cobra.Command{
		Use:   "run <input>",
		Short: "Execute one turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, cfg, err := loadScheduler(ctx, func(c *config.Config) {
				if moduleKey != "" {
					c.Module = moduleKey
				}
				if providerName != "" {
					c.Provider = providerName
				}
				if model != "" {
					c.Model = model
				}
				if trace {
					c.Trace = true
				}
				if autoApprove {
					c.AutoApproveTools = true
				}
			})
			if err != nil {
				return err
			}

			req := scheduler.Request{
				Input:           args[0],
				SessionID:       sessionID,
				SourceSessionID: sourceSessionID,
				ForkFromIndex:   forkFromIndex,
				Module:          cfg.Module,
			}
			if planJSON != "" {
				var plan models.Plan
				if err := json.Unmarshal([]byte(planJSON), &plan); err != nil {
					return models.WrapError(models.CodeConfigInvalidPlan, err, "parse --plan")
				}
				req.SelectedPlan = &plan
			}
			if frameJSON != "" {
				var frame map[string]any
				if err := json.Unmarshal([]byte(frameJSON), &frame); err != nil {
					return fmt.Errorf("parse --frame: %w", err)
				}
				req.Frame = frame
			}

			res, err := s.Schedule(req)
			if err != nil {
				return err
			}
			if !res.Scheduled {
				return fmt.Errorf("turn not scheduled: %s", res.Reason)
			}

			out := cmd.OutOrStdout()
			var unsubscribe func()
			if showEvents {
				enc := json.NewEncoder(cmd.ErrOrStderr())
				unsubscribe = s.SubscribeToSession(res.SessionID, func(e models.Entry) {
					_ = enc.Encode(e)
				}, nil)
				defer unsubscribe()
			}

			// Tool approvals are resolved at the terminal while the turn
			// runs. The registry denies on expiry when nobody answers.
			if !cfg.AutoApproveTools {
				unsubApprovals := s.SubscribeToSession(res.SessionID,
					approvalPrompter(s.Approvals().Resolve, cmd.InOrStdin(), cmd.ErrOrStderr()), nil)
				defer unsubApprovals()
			}

			go func() {
				<-ctx.Done()
				res.Interrupt("user cancel")
			}()

			turn := <-res.Done
			if turn.Err != nil {
				return turn.Err
			}
			fmt.Fprintln(out, turn.Output)
			fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", res.SessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume an existing session")
	cmd.Flags().StringVar(&sourceSessionID, "fork-from", "", "Fork a new session from this source session")
	cmd.Flags().IntVar(&forkFromIndex, "fork-index", -1, "Entry index to fork at (inclusive)")
	cmd.Flags().StringVar(&planJSON, "plan", "", "Execution plan JSON, bypassing signal detection")
	cmd.Flags().StringVar(&frameJSON, "frame", "", "Opaque frame JSON recorded with the input entry")
	cmd.Flags().StringVar(&moduleKey, "module", "", "Module key (default thinksuit/mu)")
	cmd.Flags().StringVar(&providerName, "provider", "", "LLM provider: openai|anthropic|vertexAi")
	cmd.Flags().StringVar(&model, "model", "", "Model name")
	cmd.Flags().BoolVar(&trace, "trace", false, "Record interpreter transitions to a trace stream")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve-tools", false, "Skip the tool approval gate")
	cmd.Flags().BoolVar(&showEvents, "events", false, "Stream journal entries to stderr as they happen")
	return cmd
}

// approvalPrompter resolves tool approval requests by asking at the
// terminal. Prompts are serialized; the answer resolves the registry entry
// the mediator is waiting on.
func approvalPrompter(resolve func(id string, approved bool) bool, in io.Reader, out io.Writer) func(models.Entry) {
	reader := bufio.NewReader(in)
	var mu sync.Mutex
	return func(e models.Entry) {
		if e.Event != models.EventToolApprovalRequest {
			return
		}
		id, _ := e.Data["approvalId"].(string)
		tool, _ := e.Data["tool"].(string)
		if id == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "approve tool call %q? [y/N] ", tool)
		line, err := reader.ReadString('\n')
		approved := err == nil && strings.EqualFold(strings.TrimSpace(line), "y")
		resolve(id, approved)
	}
}

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored sessions",
	}
	cmd.AddCommand(
		buildSessionsListCmd(),
		buildSessionsShowCmd(),
		buildSessionsStatusCmd(),
		buildSessionsForksCmd(),
	)
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var (
		fromTime string
		toTime   string
		desc     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := loadScheduler(cmd.Context(), forInspection)
			if err != nil {
				return err
			}
			opts := scheduler.ListOptions{}
			if fromTime != "" {
				t, err := time.Parse(time.RFC3339, fromTime)
				if err != nil {
					return fmt.Errorf("parse --from: %w", err)
				}
				opts.FromTime = t
			}
			if toTime != "" {
				t, err := time.Parse(time.RFC3339, toTime)
				if err != nil {
					return fmt.Errorf("parse --to: %w", err)
				}
				opts.ToTime = t
			}
			if desc {
				opts.Order = scheduler.SortDescending
			}
			sessions, err := s.ListSessions(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, sess := range sessions {
				fmt.Fprintf(out, "%s  %-12s  %s\n", sess.ID, sess.Status, sess.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fromTime, "from", "", "Only sessions created at or after this RFC3339 time")
	cmd.Flags().StringVar(&toTime, "to", "", "Only sessions created at or before this RFC3339 time")
	cmd.Flags().BoolVar(&desc, "desc", false, "Newest first")
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <sessionId>",
		Short: "Print a session's journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := loadScheduler(cmd.Context(), forInspection)
			if err != nil {
				return err
			}
			view, err := s.GetSession(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			for _, e := range view.Entries {
				fmt.Fprintf(out, "%s  %s", e.Time.Format(time.RFC3339), e.Event)
				if e.Msg != "" {
					fmt.Fprintf(out, "  %s", e.Msg)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the full session view as JSON")
	return cmd
}

func buildSessionsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <sessionId>",
		Short: "Print a session's derived status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := loadScheduler(cmd.Context(), forInspection)
			if err != nil {
				return err
			}
			status, err := s.GetSessionStatus(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func buildSessionsForksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forks <sessionId>",
		Short: "Print the fork graph rooted at a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := loadScheduler(cmd.Context(), forInspection)
			if err != nil {
				return err
			}
			graph, err := s.GetSessionForks(args[0])
			if err != nil {
				return err
			}
			printForkNode(cmd.OutOrStdout(), graph, 0)
			return nil
		},
	}
}

func printForkNode(out io.Writer, node *scheduler.ForkNode, depth int) {
	for i := 0; i < depth; i++ {
		fmt.Fprint(out, "  ")
	}
	if depth == 0 {
		fmt.Fprintln(out, node.SessionID)
	} else {
		fmt.Fprintf(out, "└ %s (from entry %d)\n", node.SessionID, node.ForkFromIndex)
	}
	for _, child := range node.Children {
		printForkNode(out, child, depth+1)
	}
}

func buildTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect trace streams",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <traceId>",
		Short: "Print the state transitions of a trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := loadScheduler(cmd.Context(), forInspection)
			if err != nil {
				return err
			}
			entries, err := s.GetTrace(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				state := ""
				if e.Data != nil {
					state, _ = e.Data["state"].(string)
				}
				fmt.Fprintf(out, "%s  %s\n", e.Time.Format(time.RFC3339Nano), state)
			}
			return nil
		},
	})
	return cmd
}

// forInspection relaxes validation for read-only commands: no provider
// credential is needed to inspect stored sessions.
func forInspection(c *config.Config) {
	c.Provider = "mock"
	if c.Model == "" {
		c.Model = "mock-model"
	}
}
