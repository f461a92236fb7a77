package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"pool-verifier/internal/config"
	"pool-verifier/internal/constants"
	"pool-verifier/internal/domain"
)

// SubmissionProcessor runs one submission through the verification pipeline.
type SubmissionProcessor interface {
	Process(ctx context.Context, sub domain.Submission) (domain.Outcome, error)
}

// RecordReader reads stored verification state for the read endpoints.
type RecordReader interface {
	Get(ctx context.Context, userID string) (*domain.VerificationRecord, error)
	HistoryFor(ctx context.Context, userID string, limit int) ([]domain.VerificationEvent, error)
	PurgeAll(ctx context.Context) (int64, error)
}

// Server exposes the webhook and admin surface over plain JSON HTTP.
type Server struct {
	processor  SubmissionProcessor
	records    RecordReader
	adminToken string
	logger     zerolog.Logger
}

func New(processor SubmissionProcessor, records RecordReader, cfg *config.Config, logger zerolog.Logger) *Server {
	return &Server{
		processor:  processor,
		records:    records,
		adminToken: cfg.AdminToken,
		logger:     logger,
	}
}

// Register attaches the handlers to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/submissions", s.handleSubmission)
	mux.HandleFunc("GET /v1/verifications/{user_id}", s.handleGetVerification)
	mux.HandleFunc("GET /v1/verifications/{user_id}/history", s.handleGetHistory)
	mux.HandleFunc("POST /v1/admin/purge", s.handlePurge)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
}

type submissionRequest struct {
	MessageID   string `json:"message_id"`
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Attachments []struct {
		ID          string `json:"id"`
		URL         string `json:"url"`
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	} `json:"attachments"`
}

type submissionResponse struct {
	Outcome string `json:"outcome"`
	Rank    string `json:"rank,omitempty"`
	Level   int    `json:"level,omitempty"`
}

func (s *Server) handleSubmission(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.MessageID == "" || req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "message_id, channel_id and user_id are required")
		return
	}

	sub := domain.Submission{
		MessageID: req.MessageID,
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		Username:  req.Username,
	}
	for _, a := range req.Attachments {
		sub.Attachments = append(sub.Attachments, domain.Attachment{
			ID:          a.ID,
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
		})
	}

	outcome, err := s.processor.Process(r.Context(), sub)
	if err != nil {
		if errors.Is(err, domain.ErrAllAttachmentsFailed) {
			writeError(w, http.StatusBadGateway, "attachments could not be processed")
			return
		}
		s.logger.Error().Err(err).Str("user_id", sub.UserID).Msg("submission processing failed")
		writeError(w, http.StatusInternalServerError, "submission processing failed")
		return
	}

	resp := submissionResponse{Outcome: outcome.Decision.String()}
	if outcome.Decision == domain.DecisionAccept {
		resp.Rank = outcome.Rank.Name
		resp.Level = outcome.Level
	}
	writeJSON(w, http.StatusOK, resp)
}

type verificationResponse struct {
	UserID        string `json:"user_id"`
	RankName      string `json:"rank_name"`
	LevelDetected int    `json:"level_detected"`
	RoleID        string `json:"role_id"`
	VerifiedAt    string `json:"verified_at"`
	UpdatedAt     string `json:"updated_at"`
}

func (s *Server) handleGetVerification(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	rec, err := s.records.Get(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to read verification record")
		writeError(w, http.StatusInternalServerError, "failed to read verification record")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "user is not verified")
		return
	}

	writeJSON(w, http.StatusOK, verificationResponse{
		UserID:        rec.UserID,
		RankName:      rec.RankName,
		LevelDetected: rec.LevelDetected,
		RoleID:        rec.RoleIDAssigned,
		VerifiedAt:    rec.VerifiedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:     rec.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

type historyEventResponse struct {
	ID            string  `json:"id"`
	RankName      string  `json:"rank_name"`
	LevelDetected int     `json:"level_detected"`
	RoleID        string  `json:"role_id"`
	Confidence    float64 `json:"confidence"`
	CreatedAt     string  `json:"created_at"`
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	events, err := s.records.HistoryFor(r.Context(), userID, constants.HistoryQueryLimit)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to read verification history")
		writeError(w, http.StatusInternalServerError, "failed to read verification history")
		return
	}

	resp := make([]historyEventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, historyEventResponse{
			ID:            ev.ID,
			RankName:      ev.RankName,
			LevelDetected: ev.LevelDetected,
			RoleID:        ev.RoleID,
			Confidence:    ev.Confidence,
			CreatedAt:     ev.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if s.adminToken == "" {
		writeError(w, http.StatusForbidden, "admin surface disabled")
		return
	}
	token := r.Header.Get("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		writeError(w, http.StatusForbidden, "invalid admin token")
		return
	}

	count, err := s.records.PurgeAll(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("purge failed")
		writeError(w, http.StatusInternalServerError, "purge failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"purged": count})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
