// Package mirror はサーバー状態の楽観的ローカルミラーを提供する。
// ユーザー操作をローカルの状態機械で先に適用して即座に反映し、
// サーバーへの同期が成功したら権威ある応答で置き換え、
// 失敗したら操作前のスナップショットへ巻き戻す。
package mirror

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lexyurk/runvibe/internal/model"
	"github.com/lexyurk/runvibe/internal/race"
)

var (
	// ErrNoSession はセッション未ロードのミラーを操作した場合に返す。
	ErrNoSession = errors.New("mirror: no session loaded")

	// ErrUpdateInFlight は同一参加者への更新が送信中の場合に返す。
	// 同じ参加者に対する二重送信を拒否するためのガード。
	ErrUpdateInFlight = errors.New("mirror: update already in flight for participant")
)

// Syncer はミラーの状態をサーバーへ送信し、権威あるセッションを返す。
// clientパッケージのClientが実装する。
type Syncer interface {
	Sync(ctx context.Context, sessionID string, participants []model.Participant, status model.SessionStatus, endTime *time.Time) (*model.Session, error)
}

// SyncOutcome は楽観的更新の二相目の結果を表す。
// 成功時はSessionに権威あるセッションが入り、失敗時はRevertedが
// trueになりミラーは操作前の状態へ巻き戻されている。
type SyncOutcome struct {
	Session  *model.Session
	Reverted bool
	Err      error
}

// Mirror はサーバーが最後に返したセッションのローカルコピーを保持する。
// すべてのメソッドは複数ゴルーチンから安全に呼び出せる。
type Mirror struct {
	mu       sync.Mutex
	session  *model.Session
	inFlight map[string]struct{}

	syncer Syncer
	logger *slog.Logger

	now func() time.Time
}

// NewMirror はミラーを生成する。セッションはReplaceで設定する。
func NewMirror(syncer Syncer, logger *slog.Logger) *Mirror {
	return &Mirror{
		inFlight: make(map[string]struct{}),
		syncer:   syncer,
		logger:   logger,
		now:      time.Now,
	}
}

// Replace はミラーを権威あるセッションで置き換える。
// 初回ロード時やサーバーからの再取得時に呼ぶ。
func (m *Mirror) Replace(session *model.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = session.Clone()
}

// Snapshot は現在のミラー内容のコピーを返す。未ロードならnil。
func (m *Mirror) Snapshot() *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return m.session.Clone()
}

// InFlight は指定参加者の更新が送信中かどうかを返す。
func (m *Mirror) InFlight(participantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inFlight[participantID]
	return ok
}

// UpdateParticipant は参加者への操作を楽観的に適用する。
// ローカルの状態機械で遷移を先に適用してミラーを更新し、その結果を
// サーバーへ同期する。成功したらサーバーの権威ある応答でミラーを
// 置き換え、失敗したら操作前のスナップショットへ巻き戻す。
// 送信中マークは成功・失敗どちらの経路でも必ず解除される。
func (m *Mirror) UpdateParticipant(ctx context.Context, participantID string, action race.Action) SyncOutcome {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return SyncOutcome{Err: ErrNoSession}
	}
	if _, busy := m.inFlight[participantID]; busy {
		m.mu.Unlock()
		return SyncOutcome{Err: ErrUpdateInFlight}
	}

	before := m.session
	tentative, err := race.ApplyLap(m.session, participantID, action, m.now())
	if err != nil {
		m.mu.Unlock()
		return SyncOutcome{Err: err}
	}
	m.session = tentative
	m.inFlight[participantID] = struct{}{}
	m.mu.Unlock()

	return m.confirmOrRevert(ctx, participantID, before, tentative)
}

// StartRace はセッションの開始を楽観的に適用し、サーバーへ同期する。
func (m *Mirror) StartRace(ctx context.Context) SyncOutcome {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return SyncOutcome{Err: ErrNoSession}
	}

	before := m.session
	tentative, err := race.Start(m.session, m.now())
	if err != nil {
		m.mu.Unlock()
		return SyncOutcome{Err: err}
	}
	m.session = tentative
	m.mu.Unlock()

	return m.confirmOrRevert(ctx, "", before, tentative)
}

// confirmOrRevert は二相目: 暫定状態をサーバーへ送信し、
// 応答に応じてミラーを確定または巻き戻す。
func (m *Mirror) confirmOrRevert(ctx context.Context, participantID string, before, tentative *model.Session) SyncOutcome {
	authoritative, err := m.syncer.Sync(ctx, tentative.ID, tentative.Participants, tentative.Status, tentative.EndTime)

	m.mu.Lock()
	defer m.mu.Unlock()
	if participantID != "" {
		delete(m.inFlight, participantID)
	}

	if err != nil {
		m.session = before
		m.logger.Warn("sync failed, reverting optimistic update",
			slog.String("session_id", tentative.ID),
			slog.String("participant_id", participantID),
			slog.String("error", err.Error()),
		)
		return SyncOutcome{Session: before.Clone(), Reverted: true, Err: err}
	}

	m.session = authoritative.Clone()
	return SyncOutcome{Session: authoritative.Clone()}
}
