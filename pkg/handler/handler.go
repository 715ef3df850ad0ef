package handler

import (
	"context"
	"genesis/pkg/api"
	"genesis/pkg/llm"
	"log/slog"
)

// ChatHandler bridges the Gateway's channel-agnostic message stream into the
// AgentEngine's reasoning loop. It owns no business logic of its own: its
// only responsibilities are resolving the per-session history and handing
// control (and a cancellable context) to the engine, then persisting
// whatever history mutations the run produced.
type ChatHandler struct {
	engine    api.AgentEngine
	sessions  *llm.SessionManager
	responder api.MessageResponder
}

// NewChatHandler wires an already-constructed AgentEngine to session storage.
// Tool registration and LLM client wiring happen before this call, in main's
// composition root; this handler only orchestrates per-message dispatch.
func NewChatHandler(engine api.AgentEngine, sessions *llm.SessionManager) *ChatHandler {
	return &ChatHandler{engine: engine, sessions: sessions}
}

// SetResponder implements api.ResponderAware. The builder calls this once the
// gateway itself is constructed, since the gateway is both the responder and
// the eventual owner of this handler.
func (h *ChatHandler) SetResponder(responder api.MessageResponder) {
	h.responder = responder
}

// OnMessage implements api.MessageProcessor. It runs on the goroutine that
// delivered the message (the gateway calls it synchronously). Each history
// read and write is guarded by the ChatHistory's own mutex; two concurrent
// calls for the same session are not serialized against each other.
func (h *ChatHandler) OnMessage(msg *api.UnifiedMessage) {
	sessionID := llm.BuildSessionID(msg.Session.ChannelID, msg.Session.ChatID, msg.Session.UserID)

	history, err := h.sessions.GetHistory(sessionID)
	if err != nil {
		slog.Error("Failed to load session history", "session", sessionID, "error", err)
		if h.responder != nil {
			h.responder.SendReply(msg.Session, "Sorry, I couldn't load our conversation history.")
		}
		return
	}

	ctx := context.Background()
	if msg.DebugID != "" {
		ctx = context.WithValue(ctx, llm.DebugDirContextKey, msg.DebugID)
	}

	h.engine.HandleMessage(ctx, msg, history)

	if err := h.sessions.SaveSession(sessionID); err != nil {
		slog.Error("Failed to persist session history", "session", sessionID, "error", err)
	}
}
