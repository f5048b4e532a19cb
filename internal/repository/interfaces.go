// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/lexyurk/runvibe/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
//
// 背後のblobストアは読み書きの一貫性を保証しないため、Loadの結果は
// 古い可能性があり、Save直後のLoadが保存前の状態を返すことがある。
// その前提での再試行と検証はreconcileパッケージの責務。
type SessionRepository interface {
	// Load は指定IDのセッションを取得する。見つからない場合はnilを返す。
	Load(ctx context.Context, id string) (*model.Session, error)

	// Save はセッション全体のスナップショットを上書き保存する。
	// 同一IDへの再保存は冪等。
	Save(ctx context.Context, session *model.Session) error

	// ListIDs は保存されている全セッションのIDを返す。
	ListIDs(ctx context.Context) ([]string, error)

	// Delete は指定IDのセッションを削除する。
	Delete(ctx context.Context, id string) error
}
