package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/RoseVZ/Instalily-casestudy/internal/middleware"
	"github.com/RoseVZ/Instalily-casestudy/internal/model"
)

// TurnRunner executes one conversational turn. *pipeline.Pipeline satisfies
// it; tests substitute a fake.
type TurnRunner interface {
	HandleTurn(ctx context.Context, threadID, userID, userText string) (*model.TurnResult, error)
}

// ChatHandler handles the chat endpoint.
type ChatHandler struct {
	pipeline TurnRunner
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(p TurnRunner) *ChatHandler {
	return &ChatHandler{pipeline: p}
}

// Chat handles POST /api/v1/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	threadID := req.ConversationID
	if threadID == "" {
		threadID = uuid.Must(uuid.NewV7()).String()
	} else if err := middleware.ValidateConversationID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := middleware.GetUserID(r.Context())

	result, err := h.pipeline.HandleTurn(r.Context(), threadID, userID, req.Message)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeError(w, http.StatusServiceUnavailable, "turn could not be completed")
		return
	}

	writeJSON(w, http.StatusOK, model.ChatResponse{
		Message:          result.Reply,
		ConversationID:   result.ThreadID,
		Intent:           result.Intent,
		RecommendedParts: result.Recommendations,
		Metadata:         result.Diagnostics,
	})
}
