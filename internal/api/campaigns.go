package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/qninhdt/wyvern-ai/internal/db"
	mw "github.com/qninhdt/wyvern-ai/internal/middleware"
	"github.com/qninhdt/wyvern-ai/internal/validation"
)

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// listCampaigns lists campaigns, newest first
func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.store.ListCampaigns(r.Context())
	if err != nil {
		slog.Error("failed to list campaigns", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    campaigns,
	})
}

// createCampaign creates a campaign whose id is the slug of its name
func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := validation.ValidateCampaignName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	campaign := db.Campaign{
		ID:        validation.Slugify(req.Name),
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: time.Now().UTC(),
	}
	if err := validation.ValidateCampaignID(campaign.ID); err != nil {
		writeError(w, http.StatusBadRequest, "Campaign name is too long")
		return
	}

	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid password")
			return
		}
		campaign.PasswordHash = string(hash)
	}

	if err := s.store.CreateCampaign(r.Context(), campaign); err != nil {
		if errors.Is(err, db.ErrConflict) {
			writeError(w, http.StatusConflict, "Campaign already exists")
			return
		}
		slog.Error("failed to create campaign", "campaign", campaign.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create campaign")
		return
	}

	slog.Info("campaign created", "campaign", campaign.ID, "protected", campaign.Protected())
	writeJSON(w, http.StatusCreated, Response{
		Success: true,
		Data:    campaign,
	})
}

// getCampaign returns one campaign
func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")
	if err := validation.ValidateCampaignID(campaignID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid campaign ID")
		return
	}

	campaign, err := s.store.GetCampaign(r.Context(), campaignID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	if err != nil {
		slog.Error("failed to load campaign", "campaign", campaignID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load campaign")
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]any{
			"campaign":  campaign,
			"protected": campaign.Protected(),
		},
	})
}

// createSession exchanges a campaign password for a session token
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")
	if err := validation.ValidateCampaignID(campaignID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid campaign ID")
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	campaign, err := s.store.GetCampaign(r.Context(), campaignID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	if err != nil {
		slog.Error("failed to load campaign", "campaign", campaignID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load campaign")
		return
	}

	if campaign.Protected() {
		if err := bcrypt.CompareHashAndPassword([]byte(campaign.PasswordHash), []byte(req.Password)); err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid password")
			return
		}
	}

	token, expires, err := s.sessions.Issue(campaignID)
	if err != nil {
		slog.Error("failed to issue session", "campaign", campaignID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    sessionResponse{Token: token, ExpiresAt: expires},
	})
}

// getLog returns the campaign log, oldest first
func (s *Server) getLog(w http.ResponseWriter, r *http.Request) {
	campaignID := mw.CampaignFromContext(r.Context())
	if campaignID == "" {
		campaignID = chi.URLParam(r, "id")
	}
	if err := validation.ValidateCampaignID(campaignID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid campaign ID")
		return
	}

	entries, err := s.store.ListLog(r.Context(), campaignID)
	if err != nil {
		slog.Error("failed to list campaign log", "campaign", campaignID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list campaign log")
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    entries,
	})
}
