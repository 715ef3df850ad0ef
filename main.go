package main

import (
	"context"
	"fmt"
	"genesis/pkg/agent"
	"genesis/pkg/api"
	"genesis/pkg/channels"
	_ "genesis/pkg/channels/autoload" // Auto-register Channels
	"genesis/pkg/config"
	"genesis/pkg/gateway"
	"genesis/pkg/handler"
	"genesis/pkg/llm"
	_ "genesis/pkg/llm/autoload" // Auto-register LLM Providers
	"genesis/pkg/memory"
	"genesis/pkg/monitor"
	"genesis/pkg/scheduler"
	"genesis/pkg/tools"
	ostools "genesis/pkg/tools/os" // Aliased to avoid conflict with "os"
	"genesis/pkg/utils"
	"log/slog"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

func main() {
	// Create context listening for system signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initial configuration load to get log level before loop
	// This acts as a fallback or initial console setup.
	_, sysCfg, err := config.Load()
	if err == nil {
		monitor.SetupEnvironment(sysCfg.LogLevel)
	}

	reloadCh := config.WatchConfig(ctx, "config.json", "system.json")

	for {
		err := runAgent(ctx, reloadCh)

		if err != nil {
			slog.Error("System crashed or failed to load config", "error", err)
			slog.Info("Waiting 5 seconds before retrying...")
			// Wait for 5 seconds, or for a file change, or user interrupt
			select {
			case <-ctx.Done():
				return
			case <-reloadCh:
				slog.Info("Configuration change detected while waiting. Retrying immediately...")
			case <-time.After(5 * time.Second):
			}
		} else {
			// Normal exit from runAgent (either manual exit or config reloaded)
			select {
			case <-ctx.Done():
				return // User requested exit
			default:
				slog.Info("==== Configuration Reloaded ====")
			}
		}
	}
}

// runAgent executes a single lifecycle of the agent
func runAgent(ctx context.Context, reloadCh <-chan struct{}) error {
	// --- 0. Load Configuration ---
	cfg, sysCfg, err := config.Load()
	if err != nil {
		monitor.PrintBanner()
		monitor.SetupSlog("info")
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// --- 0a. Setup Environment (logger + monitor) ---
	m := monitor.SetupEnvironment(sysCfg.LogLevel)
	slog.Info("==========================================")

	// --- 2. Core Services ---
	// --- 2a. Session Management ---
	sessionsDir := filepath.Join("data", "sessions")
	sessionManager := llm.NewSessionManager(sessionsDir)

	// --- 2b. LLM Client ---
	client, err := llm.NewFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		return fmt.Errorf("failed to init LLM client: %w", err)
	}

	// --- 2b1. Long-term memory ---
	memStore, err := memory.NewStore(filepath.Join("data", "memory"), nil, sysCfg.MemoryDedupOverlapThreshold)
	if err != nil {
		return fmt.Errorf("failed to init memory store: %w", err)
	}

	// --- 2c. Pre-build Components ---
	chs := channels.NewSource(cfg.Channels, sessionManager, sysCfg).Load()
	tls := []api.Tool{
		tools.NewOSTool(ostools.NewOSWorker()),
		tools.NewMemoryTool(memStore),
	}

	// --- 2d. Tools, Engine & Handler ---
	engine := agent.NewAgentEngine(client, cfg, sysCfg, sessionManager)
	engine.RegisterTool(tls...)
	engine.SetEventSink(func(session api.SessionContext, ev llm.StreamEvent) {
		slog.Debug("stream event", "session", session.ChatID, "kind", ev.Kind, "tool", ev.ToolName, "iteration", ev.Iteration)
	})
	h := handler.NewChatHandler(engine, sessionManager)

	// A dedicated, typically cheaper, model group for context compression.
	if cfg.CompilerEndpoints != nil {
		compiler, cerr := llm.NewFromConfig(cfg.CompilerEndpoints, sysCfg)
		if cerr != nil {
			slog.Warn("Failed to init compiler LLM group, falling back to primary model for compression", "error", cerr)
		} else {
			engine.SetCompiler(compiler)
		}
	}

	// --- 3. Gateway Initialization ---
	gw, err := gateway.NewGatewayBuilder().
		WithSystemConfig(sysCfg).
		WithMonitor(m).
		WithChannel(chs...).
		WithAgentEngine(engine).
		WithHandler(h).
		Build()

	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	// --- 3a. Proactive Scheduler ---
	schedStore, err := scheduler.NewFileStore(filepath.Join("data", "scheduler"))
	if err != nil {
		return fmt.Errorf("failed to init scheduler store: %w", err)
	}
	sched := scheduler.New(schedStore, newEngineSink(engine, sessionManager, gw))
	engine.RegisterTool(tools.NewSchedulerTool(sched))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// Periodic memory consolidation sweep, independent of any session's
	// scheduled jobs (see SPEC_FULL.md's consolidation-tracker supplement).
	go runMemoryConsolidation(ctx, memStore)

	// Wait for shutdown signal or reload signal
	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal. Stopping services...")
		gw.StopAll()
		slog.Info("Bye!")
		return nil
	case <-reloadCh:
		slog.Info("Configuration changes detected, stopping services...")
		gw.StopAll()

		slog.Info("Draining connections before restart...")
		time.Sleep(1 * time.Second)

		// Let runAgent return nil to trigger outer loop restart
		return nil
	}
}

// runMemoryConsolidation periodically sweeps the long-term memory store for
// near-duplicate entries, independent of the per-session scheduler.
func runMemoryConsolidation(ctx context.Context, store *memory.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := store.Consolidate(ctx); err != nil {
				slog.Error("Memory consolidation failed", "error", err)
			} else if removed > 0 {
				slog.Info("Memory consolidation removed duplicate entries", "removed", removed)
			}
		}
	}
}

// engineSink adapts an *agent.AgentEngine plus the gateway's responder into
// the scheduler.Sink interface, so scheduled jobs can reach the reasoning
// engine without the scheduler package importing pkg/agent (which would
// create an import cycle back through pkg/tools).
type engineSink struct {
	engine    *agent.AgentEngine
	sessions  *llm.SessionManager
	responder api.MessageResponder
}

func newEngineSink(engine *agent.AgentEngine, sessions *llm.SessionManager, responder api.MessageResponder) *engineSink {
	return &engineSink{engine: engine, sessions: sessions, responder: responder}
}

func (s *engineSink) InsertIntoSession(sessionID string, text string) bool {
	msg := llm.Message{
		ID:        utils.GenerateID(),
		Role:      "user",
		Content:   []llm.ContentBlock{llm.NewTextBlock(text)},
		Timestamp: time.Now().Unix(),
	}
	return s.engine.InsertIntoSession(sessionID, msg)
}

func (s *engineSink) HandlePrompt(ctx context.Context, sessionID string, text string) {
	session, ok := sessionFromID(sessionID)
	if !ok {
		slog.Error("Scheduler fired with malformed session ID", "session_id", sessionID)
		return
	}

	history, err := s.sessions.GetHistory(sessionID)
	if err != nil {
		slog.Error("Failed to load session history for scheduled prompt", "session_id", sessionID, "error", err)
		return
	}

	msg := &api.UnifiedMessage{Session: session, Content: text}
	s.engine.HandleMessage(ctx, msg, history)
}

func (s *engineSink) SendReminder(sessionID string, text string) {
	session, ok := sessionFromID(sessionID)
	if !ok {
		slog.Error("Scheduler fired with malformed session ID", "session_id", sessionID)
		return
	}
	if err := s.responder.SendReply(session, text); err != nil {
		slog.Error("Failed to deliver scheduled reminder", "session_id", sessionID, "error", err)
	}
}

// sessionFromID reverses llm.BuildSessionID's "{channel}:{chat_id}:{user_id}"
// format back into routing fields.
func sessionFromID(sessionID string) (api.SessionContext, bool) {
	parts := strings.SplitN(sessionID, ":", 3)
	if len(parts) != 3 {
		return api.SessionContext{}, false
	}
	return api.SessionContext{ChannelID: parts[0], ChatID: parts[1], UserID: parts[2]}, true
}
