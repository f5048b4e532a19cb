// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// HTTPレスポンスに載せるエラーコードとメッセージ、
// リトライ判定に使う原因カテゴリを含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ（APIクライアント向け、英語）
	Category string // カテゴリ: validation, session, storage, system
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeSessionNotFound     = "SESSION_NOT_FOUND"
	ErrCodeParticipantNotFound = "PARTICIPANT_NOT_FOUND"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeLoadFailed          = "LOAD_FAILED"
	ErrCodeSaveFailed          = "SAVE_FAILED"
)

// NewInvalidRequestError は作成・更新リクエストのバリデーションエラーを生成する。
// リトライ対象外（4xx）。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request data: %s", reason),
		Category: "validation",
	}
}

// NewSessionNotFoundError はセッション未検出エラーを生成する。
// リトライ対象外（404）。
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  "Session not found",
		Category: "session",
	}
}

// NewParticipantNotFoundError は参加者未検出エラーを生成する。
// リトライ対象外（404）。
func NewParticipantNotFoundError(participantID string) *APIError {
	return &APIError{
		Code:     ErrCodeParticipantNotFound,
		Message:  "Participant not found",
		Category: "session",
	}
}

// NewInvalidTransitionError は不正な状態遷移エラーを生成する。
// setup → running → finished 以外の遷移を要求された場合に返す。
func NewInvalidTransitionError(from, to SessionStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("Invalid status transition: %s -> %s", from, to),
		Category: "validation",
	}
}

// NewLoadFailedError はストアからの読み出し失敗エラーを生成する。
// リコンサイラ内でリトライされ、試行回数を使い切った場合のみ表面化する（5xx）。
func NewLoadFailedError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeLoadFailed,
		Message:  fmt.Sprintf("Failed to load session: %v", err),
		Category: "storage",
	}
}

// NewSaveFailedError はストアへの書き込み失敗エラーを生成する。
// リコンサイラ内でリトライされ、試行回数を使い切った場合のみ表面化する（5xx）。
func NewSaveFailedError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeSaveFailed,
		Message:  fmt.Sprintf("Failed to save session: %v", err),
		Category: "storage",
	}
}
