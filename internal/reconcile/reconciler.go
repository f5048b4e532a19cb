// Package reconcile は純粋な状態機械と弱い一貫性のストアの間を取り持つ
// リコンサイラを提供する。ストアには排他制御もcompare-and-swapもないため、
// すべての変更操作は「最新をロード → 自分の差分だけを適用 → 保存 → 検証」
// のサイクルを有限回リトライする。クライアントから渡されたドキュメントを
// 古いベースの上に丸ごと書き込むことはない。
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/lexyurk/runvibe/internal/model"
	"github.com/lexyurk/runvibe/internal/race"
	"github.com/lexyurk/runvibe/internal/repository"
)

// Collector はリコンサイラが記録するメトリクスのインターフェース。
// metricsパッケージのCollectorが実装する。
type Collector interface {
	RecordLapUpdate(action string)
	RecordSaveRetry()
	RecordSaveFailure()
	RecordVerifyMismatch()
	RecordReconcileLatency(duration time.Duration)
}

// Config はリコンサイラの動作設定。
type Config struct {
	// MaxAttempts はロード→適用→保存サイクルの最大試行回数。
	MaxAttempts int
	// RetryBackoff はリトライ間の基準待ち時間。
	// n回目の失敗後は n*RetryBackoff 待つ（線形増加）。
	RetryBackoff time.Duration
	// VerifyWrites は保存後に再読み込みして書き込み内容を検証するかどうか。
	VerifyWrites bool
}

// DefaultConfig はデフォルトのリコンサイラ設定を返す。
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		RetryBackoff: 100 * time.Millisecond,
		VerifyWrites: true,
	}
}

// Reconciler はセッションに対する全変更操作の唯一の入口。
// 各HTTPエンドポイントが個別にリトライを実装する代わりに、
// 遷移関数をパラメータとする共通のサイクルを使い回す。
type Reconciler struct {
	repo    repository.SessionRepository
	logger  *slog.Logger
	metrics Collector
	config  Config

	// テストで差し替えるためのフック
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewReconciler は新しいReconcilerを生成する。
func NewReconciler(repo repository.SessionRepository, logger *slog.Logger, collector Collector, config Config) *Reconciler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Reconciler{
		repo:    repo,
		logger:  logger,
		metrics: collector,
		config:  config,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// sleepContext はコンテキストのキャンセルを尊重して待機する。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CreateSession は新しいセッションを生成して保存し、保存されたセッションを返す。
func (r *Reconciler) CreateSession(ctx context.Context, name string, totalLaps int, participantNames []string) (*model.Session, error) {
	session, err := race.Create(name, totalLaps, participantNames, r.now())
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := r.repo.Save(ctx, session); err != nil {
			lastErr = err
			r.retryPause(ctx, "create", session.ID, attempt, err)
			continue
		}
		r.logger.Info("session created",
			slog.String("session_id", session.ID),
			slog.Int("total_laps", session.TotalLaps),
			slog.Int("participants", len(session.Participants)),
		)
		return session, nil
	}

	r.metrics.RecordSaveFailure()
	return nil, model.NewSaveFailedError(lastErr)
}

// GetSession は指定IDのセッションを返す。
func (r *Reconciler) GetSession(ctx context.Context, id string) (*model.Session, error) {
	session, err := r.repo.Load(ctx, id)
	if err != nil {
		return nil, model.NewLoadFailedError(err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError()
	}
	return session, nil
}

// UpdateParticipant は1人の参加者への操作をストア上のセッションに適用する。
// 試行のたびに最新のセッションをロードし直し、自分の差分だけを
// そのベースへ適用するため、並行する別参加者の更新を巻き戻さない。
func (r *Reconciler) UpdateParticipant(ctx context.Context, sessionID, participantID string, action race.Action) (*model.Session, error) {
	r.metrics.RecordLapUpdate(string(action))

	return r.reconcile(ctx, sessionID, "participant_update", func(current *model.Session) (*model.Session, error) {
		return race.ApplyLap(current, participantID, action, r.now())
	})
}

// SyncSession は楽観的クライアントが送信した状態をストア上の最新の
// セッションへ参加者ごとにマージする。
func (r *Reconciler) SyncSession(ctx context.Context, sessionID string, participants []model.Participant, status model.SessionStatus, endTime *time.Time) (*model.Session, error) {
	return r.reconcile(ctx, sessionID, "sync", func(current *model.Session) (*model.Session, error) {
		return race.Merge(current, participants, status, endTime, r.now())
	})
}

// PatchSession はセッションレベルのフィールドの部分更新を適用する。
// レースのスタート（status=running化）はこの経路で行われる。
func (r *Reconciler) PatchSession(ctx context.Context, sessionID string, patch race.Patch) (*model.Session, error) {
	return r.reconcile(ctx, sessionID, "patch", func(current *model.Session) (*model.Session, error) {
		return race.ApplyPatch(current, patch, r.now())
	})
}

// reconcile はロード→適用→保存→検証のサイクルを実行する共通ループ。
//
//  1. ロード。セッション不在はリトライせず即座にSessionNotFound。
//  2. 遷移適用。バリデーション系のエラー（APIError）はリトライせず返す。
//  3. 保存。失敗は線形バックオフ付きでステップ1からやり直す。
//  4. 検証（有効時）。再読み込みした内容が書いたはずの内容を満たさない
//     場合は並行書き込みに上書きされた可能性があるため、残り試行が
//     あれば最新ベースへ差分を適用し直す。試行を使い切った場合は
//     警告ログのみで成功として返す（整合性警告は非致命）。
func (r *Reconciler) reconcile(ctx context.Context, sessionID, operation string, transition func(*model.Session) (*model.Session, error)) (*model.Session, error) {
	start := r.now()
	defer func() {
		r.metrics.RecordReconcileLatency(time.Since(start))
	}()

	var lastErr error
	lastErrWasLoad := false
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		current, err := r.repo.Load(ctx, sessionID)
		if err != nil {
			lastErr = err
			lastErrWasLoad = true
			r.retryPause(ctx, operation, sessionID, attempt, err)
			continue
		}
		if current == nil {
			return nil, model.NewSessionNotFoundError()
		}

		candidate, err := transition(current)
		if err != nil {
			// 状態機械が拒否した操作はストアの状態に関係なく失敗する
			return nil, err
		}

		if err := r.repo.Save(ctx, candidate); err != nil {
			lastErr = err
			lastErrWasLoad = false
			r.metrics.RecordSaveRetry()
			r.retryPause(ctx, operation, sessionID, attempt, err)
			continue
		}

		if !r.config.VerifyWrites {
			return candidate, nil
		}

		if r.verify(ctx, candidate) {
			return candidate, nil
		}

		r.metrics.RecordVerifyMismatch()
		if attempt == r.config.MaxAttempts {
			// 非致命: 書き込み自体は成功しており、不一致は並行書き込みか
			// ステイルな読み出しのどちらか。呼び出し元には成功を返す。
			r.logger.Warn("post-write verification mismatch, returning unverified result",
				slog.String("operation", operation),
				slog.String("session_id", sessionID),
				slog.Int("attempt", attempt),
			)
			return candidate, nil
		}
		r.logger.Warn("post-write verification mismatch, reapplying on fresh base",
			slog.String("operation", operation),
			slog.String("session_id", sessionID),
			slog.Int("attempt", attempt),
		)
	}

	r.metrics.RecordSaveFailure()
	r.logger.Error("reconcile exhausted retries",
		slog.String("operation", operation),
		slog.String("session_id", sessionID),
		slog.Int("max_attempts", r.config.MaxAttempts),
		slog.String("error", errString(lastErr)),
	)
	if lastErrWasLoad {
		return nil, model.NewLoadFailedError(lastErr)
	}
	return nil, model.NewSaveFailedError(lastErr)
}

// verify は保存直後に再読み込みし、書いたはずの内容が満たされているかを
// 確認する。ストアは結果整合のため、再読み込みが不在・失敗の場合は
// 検証不能としてログのみ残し成功扱いにする（保存自体は成功している）。
func (r *Reconciler) verify(ctx context.Context, intended *model.Session) bool {
	persisted, err := r.repo.Load(ctx, intended.ID)
	if err != nil || persisted == nil {
		r.logger.Debug("verification read unavailable, assuming eventual visibility",
			slog.String("session_id", intended.ID),
		)
		return true
	}
	return satisfies(persisted, intended)
}

// satisfies は永続化されたセッションが意図した書き込み内容を包含して
// いるかを判定する。意図より進んだ状態（別の書き込みが先に進めた、
// あるいは自分の書き込みがそのまま見えている）は成功とみなし、
// 意図した周回数やゴールフラグが欠けている場合のみ不一致とする。
func satisfies(persisted, intended *model.Session) bool {
	if len(persisted.Participants) != len(intended.Participants) {
		return false
	}
	for i := range intended.Participants {
		ip := &intended.Participants[i]
		idx := persisted.ParticipantIndex(ip.ID)
		if idx == -1 {
			return false
		}
		pp := &persisted.Participants[idx]
		if pp.LapsCompleted < ip.LapsCompleted {
			return false
		}
		if ip.Finished && !pp.Finished {
			return false
		}
	}
	return statusRank(persisted.Status) >= statusRank(intended.Status)
}

func statusRank(s model.SessionStatus) int {
	switch s {
	case model.StatusSetup:
		return 0
	case model.StatusRunning:
		return 1
	case model.StatusFinished:
		return 2
	default:
		return -1
	}
}

// retryPause はリトライ前のログとバックオフ待機を行う。
func (r *Reconciler) retryPause(ctx context.Context, operation, sessionID string, attempt int, err error) {
	r.logger.Warn("store operation failed, will retry",
		slog.String("operation", operation),
		slog.String("session_id", sessionID),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
	if attempt < r.config.MaxAttempts {
		_ = r.sleep(ctx, time.Duration(attempt)*r.config.RetryBackoff)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
