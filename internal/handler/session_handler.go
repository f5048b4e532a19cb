// Package handler はレースセッションAPIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lexyurk/runvibe/internal/middleware"
	"github.com/lexyurk/runvibe/internal/model"
	"github.com/lexyurk/runvibe/internal/race"
)

// SessionServiceInterface はセッションハンドラーが必要とするサービスインターフェース。
// reconcileパッケージのReconcilerが実装する。
type SessionServiceInterface interface {
	// CreateSession はセッションを作成して永続化する。
	CreateSession(ctx context.Context, name string, totalLaps int, participantNames []string) (*model.Session, error)
	// GetSession は指定IDのセッションを取得する。
	GetSession(ctx context.Context, id string) (*model.Session, error)
	// PatchSession はセッションの部分更新を適用して永続化する。
	PatchSession(ctx context.Context, sessionID string, patch race.Patch) (*model.Session, error)
	// SyncSession はクライアントの状態をストアの最新状態にマージして永続化する。
	SyncSession(ctx context.Context, sessionID string, participants []model.Participant, status model.SessionStatus, endTime *time.Time) (*model.Session, error)
}

// SessionHandler はセッション管理のHTTPハンドラー。
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// createSessionRequest はセッション作成リクエストのボディ。
type createSessionRequest struct {
	Name             string   `json:"name"`
	TotalLaps        int      `json:"totalLaps"`
	ParticipantNames []string `json:"participantNames"`
}

// patchSessionRequest はセッション部分更新リクエストのボディ。
// 指定されたフィールドのみ更新する。
type patchSessionRequest struct {
	Name      *string              `json:"name"`
	Status    *model.SessionStatus `json:"status"`
	StartTime *time.Time           `json:"startTime"`
	EndTime   *time.Time           `json:"endTime"`
}

// syncSessionRequest はセッション同期リクエストのボディ。
type syncSessionRequest struct {
	SessionID    string              `json:"sessionId"`
	Participants []model.Participant `json:"participants"`
	Status       model.SessionStatus `json:"status"`
	EndTime      *time.Time          `json:"endTime"`
}

// sessionResponse はセッションのAPIレスポンス。
type sessionResponse struct {
	Session *model.Session `json:"session"`
}

// syncResponse はセッション同期のAPIレスポンス。
type syncResponse struct {
	Success bool           `json:"success"`
	Session *model.Session `json:"session"`
}

// CreateSession はセッション作成を処理する。
// POST /api/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("request body must be valid JSON"))
		return
	}

	session, err := h.service.CreateSession(r.Context(), req.Name, req.TotalLaps, req.ParticipantNames)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeSessionResponse(w, http.StatusCreated, session)
}

// GetSession はセッション詳細を取得する。
// GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := h.service.GetSession(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeSessionResponse(w, http.StatusOK, session)
}

// PatchSession はセッションの部分更新を処理する。
// ステータス遷移はsetup → running → finishedの前方向のみ許可する。
// PUT /api/sessions/{id}
func (h *SessionHandler) PatchSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req patchSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("request body must be valid JSON"))
		return
	}

	session, err := h.service.PatchSession(r.Context(), id, race.Patch{
		Name:      req.Name,
		Status:    req.Status,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeSessionResponse(w, http.StatusOK, session)
}

// SyncSession はクライアント状態のマージ同期を処理する。
// PUT /api/sessions/sync
func (h *SessionHandler) SyncSession(w http.ResponseWriter, r *http.Request) {
	var req syncSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("request body must be valid JSON"))
		return
	}

	if req.SessionID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("sessionId is required"))
		return
	}

	session, err := h.service.SyncSession(r.Context(), req.SessionID, req.Participants, req.Status, req.EndTime)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(syncResponse{Success: true, Session: session})
}

// --- ヘルパー関数 ---

// writeSessionResponse はセッションをレスポンスとして書き込む。
func writeSessionResponse(w http.ResponseWriter, statusCode int, session *model.Session) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(sessionResponse{Session: session})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidTransition:
		return http.StatusBadRequest
	case model.ErrCodeSessionNotFound, model.ErrCodeParticipantNotFound:
		return http.StatusNotFound
	case model.ErrCodeLoadFailed, model.ErrCodeSaveFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
