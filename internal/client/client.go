// Package client はレースセッションAPIのHTTPクライアントを提供する。
// mirrorパッケージのSyncerインターフェースを実装し、
// 楽観的ミラーのサーバー同期経路として使われる。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lexyurk/runvibe/internal/model"
	"github.com/lexyurk/runvibe/internal/race"
)

// Client はレースセッションAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLは末尾スラッシュなしのサーバーアドレス（例: http://localhost:8080）。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

type createSessionRequest struct {
	Name             string   `json:"name"`
	TotalLaps        int      `json:"totalLaps"`
	ParticipantNames []string `json:"participantNames"`
}

type updateParticipantRequest struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Action        string `json:"action"`
}

type syncSessionRequest struct {
	SessionID    string              `json:"sessionId"`
	Participants []model.Participant `json:"participants"`
	Status       model.SessionStatus `json:"status"`
	EndTime      *time.Time          `json:"endTime,omitempty"`
}

type patchSessionRequest struct {
	Name      *string              `json:"name,omitempty"`
	Status    *model.SessionStatus `json:"status,omitempty"`
	StartTime *time.Time           `json:"startTime,omitempty"`
	EndTime   *time.Time           `json:"endTime,omitempty"`
}

type sessionResponse struct {
	Session *model.Session `json:"session"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CreateSession は新しいセッションを作成する。
func (c *Client) CreateSession(ctx context.Context, name string, totalLaps int, participantNames []string) (*model.Session, error) {
	body := createSessionRequest{
		Name:             name,
		TotalLaps:        totalLaps,
		ParticipantNames: participantNames,
	}
	return c.doSession(ctx, http.MethodPost, "/api/sessions", body)
}

// GetSession は指定IDのセッションを取得する。
func (c *Client) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return c.doSession(ctx, http.MethodGet, "/api/sessions/"+id, nil)
}

// StartSession はセッションをrunningに遷移させる。
func (c *Client) StartSession(ctx context.Context, id string) (*model.Session, error) {
	running := model.StatusRunning
	body := patchSessionRequest{Status: &running}
	return c.doSession(ctx, http.MethodPut, "/api/sessions/"+id, body)
}

// UpdateParticipant は1人の参加者への操作をサーバーに適用させる。
func (c *Client) UpdateParticipant(ctx context.Context, sessionID, participantID string, action race.Action) (*model.Session, error) {
	body := updateParticipantRequest{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Action:        string(action),
	}
	return c.doSession(ctx, http.MethodPut, "/api/participants", body)
}

// Sync はミラーの参加者リストとステータスをサーバーへマージさせ、
// 権威あるセッションを返す。mirror.Syncerを実装する。
func (c *Client) Sync(ctx context.Context, sessionID string, participants []model.Participant, status model.SessionStatus, endTime *time.Time) (*model.Session, error) {
	body := syncSessionRequest{
		SessionID:    sessionID,
		Participants: participants,
		Status:       status,
		EndTime:      endTime,
	}
	return c.doSession(ctx, http.MethodPut, "/api/sessions/sync", body)
}

// doSession はリクエストを送信し、セッションレスポンスをデコードする。
// サーバーが統一エラーフォーマットを返した場合は*model.APIErrorとして返す。
func (c *Client) doSession(ctx context.Context, method, path string, body any) (*model.Session, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Code != "" {
			return nil, &model.APIError{Code: apiErr.Code, Message: apiErr.Error}
		}
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var result sessionResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if result.Session == nil {
		return nil, fmt.Errorf("response has no session")
	}
	return result.Session, nil
}
