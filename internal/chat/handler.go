package chat

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

// ChatRequest is the /api/chat request body.
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// ChatResponse is the /api/chat response body.
type ChatResponse struct {
	TurnID     string   `json:"turn_id"`
	Response   string   `json:"response"`
	Decision   string   `json:"decision"`
	FlowsFired []string `json:"flows_fired,omitempty"`
	Blocked    bool     `json:"blocked"`
}

// Handler returns the /api/chat endpoint.
func Handler(svc *Service, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "only POST is supported")
			return
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ConversationID == "" {
			req.ConversationID = "default"
		}

		result, err := svc.Chat(r.Context(), req.ConversationID, req.Message)
		if err != nil {
			// Only caller cancellation reaches here; the client is
			// already gone, but finish the exchange cleanly anyway.
			logger.Printf("[http] turn cancelled: %v", err)
			writeError(w, http.StatusRequestTimeout, "request cancelled")
			return
		}

		writeJSON(w, http.StatusOK, ChatResponse{
			TurnID:     result.TurnID,
			Response:   result.Response,
			Decision:   result.Decision,
			FlowsFired: firedNames(result),
			Blocked:    result.Blocked,
		})
	}
}

// HistoryHandler returns the /api/history endpoint: GET reads a
// conversation's history, DELETE clears it.
func HistoryHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := strings.TrimSpace(r.URL.Query().Get("conversation"))
		if conversationID == "" {
			conversationID = "default"
		}

		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"conversation": conversationID,
				"history":      svc.History(conversationID),
			})
		case http.MethodDelete:
			svc.ClearHistory(conversationID)
			writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
		default:
			writeError(w, http.StatusMethodNotAllowed, "only GET and DELETE are supported")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
