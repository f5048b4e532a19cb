package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/lexyurk/runvibe/internal/middleware"
	"github.com/lexyurk/runvibe/internal/model"
	"github.com/lexyurk/runvibe/internal/race"
)

// ParticipantServiceInterface は参加者ハンドラーが必要とするサービスインターフェース。
type ParticipantServiceInterface interface {
	// UpdateParticipant は1人の参加者への操作をストアの最新状態に適用して永続化する。
	UpdateParticipant(ctx context.Context, sessionID, participantID string, action race.Action) (*model.Session, error)
}

// ParticipantHandler は参加者更新のHTTPハンドラー。
type ParticipantHandler struct {
	service ParticipantServiceInterface
}

// NewParticipantHandler はParticipantHandlerを生成する。
func NewParticipantHandler(service ParticipantServiceInterface) *ParticipantHandler {
	return &ParticipantHandler{service: service}
}

// updateParticipantRequest は参加者更新リクエストのボディ。
type updateParticipantRequest struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Action        string `json:"action"`
}

// UpdateParticipant は参加者への操作（addLap / finish）を処理する。
// PUT /api/participants
func (h *ParticipantHandler) UpdateParticipant(w http.ResponseWriter, r *http.Request) {
	var req updateParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("request body must be valid JSON"))
		return
	}

	if req.SessionID == "" || req.ParticipantID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("sessionId and participantId are required"))
		return
	}

	action, err := race.ParseAction(req.Action)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	session, err := h.service.UpdateParticipant(r.Context(), req.SessionID, req.ParticipantID, action)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeSessionResponse(w, http.StatusOK, session)
}
