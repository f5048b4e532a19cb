package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lexyurk/runvibe/internal/blob"
	"github.com/lexyurk/runvibe/internal/model"
)

// sessionKeyPrefix はセッションドキュメントのキープレフィックス。
// 1セッションにつき sessions/{id}.json キーのJSONドキュメント1つ。
const sessionKeyPrefix = "sessions/"

// SessionKey はセッションIDに対応するblobキーを返す。
func SessionKey(id string) string {
	return fmt.Sprintf("%s%s.json", sessionKeyPrefix, id)
}

// BlobSessionRepo はblob.Storeの上にセッションのJSONドキュメントを
// 永続化するSessionRepository実装。
type BlobSessionRepo struct {
	store blob.Store
}

// NewBlobSessionRepo はBlobSessionRepoを生成する。
func NewBlobSessionRepo(store blob.Store) *BlobSessionRepo {
	return &BlobSessionRepo{store: store}
}

// Load は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *BlobSessionRepo) Load(ctx context.Context, id string) (*model.Session, error) {
	data, err := r.store.Get(ctx, SessionKey(id))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &session, nil
}

// Save はセッション全体のスナップショットをJSONとして上書き保存する。
func (r *BlobSessionRepo) Save(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session has no id")
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.ID, err)
	}

	if err := r.store.Put(ctx, SessionKey(session.ID), data); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

// ListIDs は保存されている全セッションのIDを返す。
func (r *BlobSessionRepo) ListIDs(ctx context.Context) ([]string, error) {
	keys, err := r.store.List(ctx, sessionKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, sessionKeyPrefix)
		id = strings.TrimSuffix(id, ".json")
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Delete は指定IDのセッションドキュメントを削除する。
func (r *BlobSessionRepo) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, SessionKey(id)); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}
