// Package api provides the conversation surface handlers for VITA-Care.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vita-care/vitacare/internal/flow"
	"github.com/vita-care/vitacare/internal/models"
	"github.com/vita-care/vitacare/internal/util"
)

// bearerToken extracts the opaque bearer token from the Authorization
// header. The token is never inspected, only passed through to the
// scheduling service.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, prefix))
}

// conversationsHandler routes /conversations and /conversations/{id}[/op].
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("conversationsHandler invoked", "method", r.Method, "path", r.URL.Path)

	path := strings.TrimPrefix(r.URL.Path, "/conversations")
	path = strings.TrimPrefix(path, "/")
	segments := strings.Split(path, "/")

	if len(segments) == 0 || segments[0] == "" {
		// /conversations
		switch r.Method {
		case http.MethodPost:
			s.createConversationHandler(w, r)
		default:
			w.Header().Set("Allow", http.MethodPost)
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		}
		return
	}

	conversationID := segments[0]

	if len(segments) == 1 {
		// /conversations/{id}
		switch r.Method {
		case http.MethodGet:
			s.getConversationHandler(w, r, conversationID)
		case http.MethodDelete:
			s.deleteConversationHandler(w, r, conversationID)
		default:
			w.Header().Set("Allow", http.MethodGet+", "+http.MethodDelete)
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		}
		return
	}

	if len(segments) == 2 {
		// /conversations/{id}/{op}
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
			return
		}
		switch segments[1] {
		case "messages":
			s.postMessageHandler(w, r, conversationID)
		case "select":
			s.selectSlotHandler(w, r, conversationID)
		case "confirm":
			s.confirmHandler(w, r, conversationID)
		case "cancel":
			s.cancelHandler(w, r, conversationID)
		default:
			writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown conversation endpoint"))
		}
		return
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown conversation endpoint"))
}

// createConversationHandler handles POST /conversations
func (s *Server) createConversationHandler(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		slog.Warn("createConversationHandler missing bearer token")
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing bearer token"))
		return
	}

	var req models.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("createConversationHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("createConversationHandler validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	opts := s.conversationOptions()
	if req.PatientName != "" {
		opts = append(opts, flow.WithGreeting(req.PatientName))
	}

	conversationID := util.GenerateConversationID()
	conv := flow.NewConversation(conversationID, req.PatientID, token, s.agentClient, opts...)
	s.registerConversation(conv)

	slog.Info("Conversation created", "conversationID", conversationID, "patientID", req.PatientID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Conversation created", conv.Snapshot()))
}

// getConversationHandler handles GET /conversations/{id}
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	conv, ok := s.conversation(conversationID)
	if !ok {
		slog.Debug("getConversationHandler not found", "conversationID", conversationID)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv.Snapshot()))
}

// deleteConversationHandler handles DELETE /conversations/{id}. The
// conversation's persisted state is removed along with the in-memory entry.
func (s *Server) deleteConversationHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	conv, ok := s.conversation(conversationID)
	if !ok {
		slog.Debug("deleteConversationHandler not found", "conversationID", conversationID)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	if err := conv.Reset(r.Context()); err != nil {
		slog.Error("deleteConversationHandler reset failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
		return
	}
	s.removeConversation(conversationID)

	slog.Info("Conversation deleted", "conversationID", conversationID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation deleted", nil))
}

// postMessageHandler handles POST /conversations/{id}/messages
func (s *Server) postMessageHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	conv, ok := s.conversation(conversationID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	var req models.UserMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("postMessageHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if err := conv.HandleInput(r.Context(), req.Message); err != nil {
		s.writeConversationError(w, "postMessageHandler", conversationID, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv.Snapshot()))
}

// selectSlotHandler handles POST /conversations/{id}/select
func (s *Server) selectSlotHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	conv, ok := s.conversation(conversationID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	var req models.SelectSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("selectSlotHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if err := conv.SelectSlot(r.Context(), req.SlotIndex); err != nil {
		s.writeConversationError(w, "selectSlotHandler", conversationID, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv.Snapshot()))
}

// confirmHandler handles POST /conversations/{id}/confirm
func (s *Server) confirmHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	conv, ok := s.conversation(conversationID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	if err := conv.Confirm(r.Context()); err != nil {
		s.writeConversationError(w, "confirmHandler", conversationID, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv.Snapshot()))
}

// cancelHandler handles POST /conversations/{id}/cancel
func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	conv, ok := s.conversation(conversationID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	if err := conv.Cancel(r.Context()); err != nil {
		s.writeConversationError(w, "cancelHandler", conversationID, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv.Snapshot()))
}

// writeConversationError maps conversation machine errors onto HTTP status
// codes: validation problems are the client's fault, phase conflicts mean the
// request raced the machine's current state.
func (s *Server) writeConversationError(w http.ResponseWriter, handler, conversationID string, err error) {
	switch {
	case errors.Is(err, models.ErrEmptyMessage), errors.Is(err, models.ErrMessageTooLong),
		errors.Is(err, flow.ErrSlotIndexOutOfRange):
		slog.Warn(handler+" rejected input", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	case errors.Is(err, flow.ErrConversationBusy), errors.Is(err, flow.ErrInvalidPhase):
		slog.Warn(handler+" phase conflict", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
	default:
		slog.Error(handler+" failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}
