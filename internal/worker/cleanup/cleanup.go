// Package cleanup は終了済みセッションの自動削除ジョブを提供する。
// 保持期間（デフォルト180日）を超過したfinishedのセッションを
// 日次バッチで削除する。進行中のセッションは削除しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lexyurk/runvibe/internal/model"
	"github.com/lexyurk/runvibe/internal/repository"
)

// CleanupJob は保持期間を超過したセッションの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	repo          repository.SessionRepository
	logger        *slog.Logger
	RetentionDays int // セッションの保持日数（デフォルト: 180）

	now func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は180日。
func NewCleanupJob(repo repository.SessionRepository, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		repo:          repo,
		logger:        logger,
		RetentionDays: 180,
		now:           time.Now,
	}
}

// Run は保持期間を超過した終了済みセッションを削除する。
// 終了時刻（未設定の場合は作成時刻）がRetentionDays日前より古い
// finishedのセッションが対象。読み出せないセッションはスキップして
// 処理を続行する。冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.AddDate(0, 0, -j.RetentionDays)

	ids, err := j.repo.ListIDs(ctx)
	if err != nil {
		j.logger.Error("session cleanup failed to list sessions",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	var deleted, skipped int
	for _, id := range ids {
		session, err := j.repo.Load(ctx, id)
		if err != nil {
			j.logger.Warn("session cleanup failed to load session, skipping",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
			skipped++
			continue
		}
		if session == nil {
			continue
		}

		if !expired(session, cutoff) {
			continue
		}

		if err := j.repo.Delete(ctx, id); err != nil {
			j.logger.Warn("session cleanup failed to delete session, skipping",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
			skipped++
			continue
		}
		deleted++
	}

	duration := time.Since(start)
	j.logger.Info("session cleanup completed",
		slog.Int("deleted_count", deleted),
		slog.Int("skipped_count", skipped),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// expired は削除対象かどうかを判定する。
func expired(session *model.Session, cutoff time.Time) bool {
	if session.Status != model.StatusFinished {
		return false
	}
	reference := session.CreatedAt
	if session.EndTime != nil {
		reference = *session.EndTime
	}
	return reference.Before(cutoff)
}
