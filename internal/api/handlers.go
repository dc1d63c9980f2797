// Package api provides HTTP handlers for LeadFlow endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/leadflow/leadflow/internal/models"
	"github.com/leadflow/leadflow/internal/store"
)

// defaultTurnsLimit caps how many turns a conversation listing returns when
// the caller does not ask for a specific window.
const defaultTurnsLimit = 50

// webhookMessageHandler handles POST /webhook/message, the generic ingestion
// endpoint. The message is validated and enqueued for asynchronous processing;
// the provider message ID doubles as the dedupe key so webhook redeliveries
// never yield a second job.
func (s *Server) webhookMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.webhookMessageHandler: processing inbound message", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookMessageHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var msg models.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		slog.Warn("Server.webhookMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if err := msg.Validate(); err != nil {
		slog.Warn("Server.webhookMessageHandler: validation failed", "error", err, "chat_id", msg.ChatID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Server.webhookMessageHandler: failed to marshal job payload", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to encode message"))
		return
	}

	jobID, err := s.jobs.EnqueueJob(store.JobKindInboundMessage, time.Now(), string(payload), msg.ExternalMessageID)
	if err != nil {
		slog.Error("Server.webhookMessageHandler: failed to enqueue job", "error", err, "chat_id", msg.ChatID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to enqueue message"))
		return
	}

	slog.Info("Server.webhookMessageHandler: message enqueued", "job_id", jobID, "chat_id", msg.ChatID)
	writeJSONResponse(w, http.StatusAccepted, models.Queued(map[string]interface{}{
		"job_id": jobID,
	}))
}

// listConversationsHandler handles GET /conversations.
func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.listConversationsHandler: invoked", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversations, err := s.st.ListConversations()
	if err != nil {
		slog.Error("Server.listConversationsHandler: failed to list conversations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list conversations"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"conversations": conversations,
		"count":         len(conversations),
	}))
}

// conversationsHandler dispatches /conversations/{id} and its sub-resources.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.conversationsHandler: invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/conversations/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation ID required"))
		return
	}
	conversationID := segments[0]

	if len(segments) == 1 {
		s.getConversationHandler(w, r, conversationID)
		return
	}
	if len(segments) == 2 {
		switch segments[1] {
		case "turns":
			s.conversationTurnsHandler(w, r, conversationID)
			return
		case "log":
			s.conversationLogHandler(w, r, conversationID)
			return
		}
	}
	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown conversation endpoint"))
}

// getConversationHandler handles GET /conversations/{id}.
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	conv, err := s.st.GetConversation(conversationID)
	if err != nil {
		slog.Error("Server.getConversationHandler: lookup failed", "error", err, "conversation_id", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

// conversationTurnsHandler handles GET /conversations/{id}/turns. The optional
// limit query parameter bounds the window; turns come back in chronological order.
func (s *Server) conversationTurnsHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	conv, err := s.st.GetConversation(conversationID)
	if err != nil {
		slog.Error("Server.conversationTurnsHandler: lookup failed", "error", err, "conversation_id", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	limit := defaultTurnsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit parameter"))
			return
		}
		limit = parsed
	}

	turns, err := s.st.RecentTurns(conversationID, limit)
	if err != nil {
		slog.Error("Server.conversationTurnsHandler: failed to fetch turns", "error", err, "conversation_id", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch turns"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"turns": turns,
		"count": len(turns),
	}))
}

// conversationLogHandler handles GET /conversations/{id}/log, the per-run
// audit trail written by the orchestrator.
func (s *Server) conversationLogHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	entries, err := s.st.ListInteractionLogs(conversationID)
	if err != nil {
		slog.Error("Server.conversationLogHandler: failed to fetch interaction log", "error", err, "conversation_id", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch interaction log"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	}))
}

// listLeadsHandler handles GET /leads.
func (s *Server) listLeadsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.listLeadsHandler: invoked", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	leads, err := s.st.ListLeads()
	if err != nil {
		slog.Error("Server.listLeadsHandler: failed to list leads", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list leads"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"leads": leads,
		"count": len(leads),
	}))
}

// getLeadHandler handles GET /leads/{id}.
func (s *Server) getLeadHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.getLeadHandler: invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	leadID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/leads/"), "/")
	if leadID == "" || strings.Contains(leadID, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown lead endpoint"))
		return
	}

	lead, err := s.st.GetLead(leadID)
	if err != nil {
		slog.Error("Server.getLeadHandler: lookup failed", "error", err, "lead_id", leadID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch lead"))
		return
	}
	if lead == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(lead))
}

// listPlaybooksHandler handles GET /playbooks.
func (s *Server) listPlaybooksHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.listPlaybooksHandler: invoked", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	playbooks, err := s.st.ListPlaybooks()
	if err != nil {
		slog.Error("Server.listPlaybooksHandler: failed to list playbooks", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list playbooks"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"playbooks": playbooks,
		"count":     len(playbooks),
	}))
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := s.st.ListConversations(); err != nil {
		slog.Warn("Server.healthHandler: repository check failed", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Repository unavailable"
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}
