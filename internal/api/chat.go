package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/qninhdt/wyvern-ai/internal/agents"
	"github.com/qninhdt/wyvern-ai/internal/db"
	"github.com/qninhdt/wyvern-ai/internal/game"
	"github.com/qninhdt/wyvern-ai/internal/validation"
)

// streamChunk is the number of words written per flush of a streamed reply
const streamChunk = 8

type chatRequest struct {
	CampaignID   string           `json:"campaignId"`
	Messages     []db.ChatMessage `json:"messages"`
	ModelName    string           `json:"modelName"`
	ProviderType string           `json:"providerType"`
}

// chat runs one turn. Failures reply with the user-safe text and the status
// of the failure.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.CampaignID == "" {
		writeError(w, http.StatusBadRequest, "campaignId is required")
		return
	}
	if err := validation.ValidateCampaignID(req.CampaignID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid campaign ID")
		return
	}
	for _, m := range req.Messages {
		if err := validation.ValidateRole(m.Role); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := validation.ValidateMessageID(m.ID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if !s.authorize(w, r, req.CampaignID) {
		return
	}

	result, err := s.engine.RunTurn(r.Context(), game.TurnRequest{
		CampaignID: req.CampaignID,
		Messages:   req.Messages,
		Model:      req.ModelName,
		Provider:   req.ProviderType,
	})
	if errors.Is(err, game.ErrInvalidTurn) {
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), game.ErrInvalidTurn.Error()+": "))
		return
	}

	if result == nil {
		result = &game.TurnResult{Text: agents.UserMessage(err)}
	}

	status := http.StatusOK
	if err != nil {
		status = agents.HTTPStatus(err)
		slog.Error("turn failed",
			"campaign", req.CampaignID,
			"status", status,
			"error", err)
	}

	if r.URL.Query().Get("stream") == "true" {
		streamText(w, status, result.Text)
		return
	}
	if err != nil {
		writeJSON(w, status, map[string]string{"text": result.Text})
		return
	}
	writeJSON(w, status, result)
}

// streamText writes text as a chunked plain text body
func streamText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)

	flusher, _ := w.(http.Flusher)
	words := strings.SplitAfter(text, " ")
	for i := 0; i < len(words); i += streamChunk {
		end := min(i+streamChunk, len(words))
		if _, err := w.Write([]byte(strings.Join(words[i:end], ""))); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// listMessages returns the stored messages of a campaign, oldest first. Like
// chat replies the body is not wrapped in a Response.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	campaignID := r.URL.Query().Get("campaignId")
	if campaignID == "" {
		writeError(w, http.StatusBadRequest, "campaignId is required")
		return
	}
	if err := validation.ValidateCampaignID(campaignID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid campaign ID")
		return
	}
	if !s.authorize(w, r, campaignID) {
		return
	}

	msgs, err := s.store.ListMessages(r.Context(), campaignID)
	if err != nil {
		slog.Error("failed to list messages", "campaign", campaignID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, msgs)
}
