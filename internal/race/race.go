// Package race はセッション状態機械の純粋関数を提供する。
// すべての遷移は入力セッションを変更せず、コピーに適用して返す。
// I/Oも現在時刻への暗黙依存も持たず、タイムスタンプ用のnowは
// 呼び出し元から注入される。
package race

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexyurk/runvibe/internal/model"
)

// Action は参加者に対する操作の種類を表す。
type Action string

const (
	// ActionAddLap はラップを1周追加する操作。
	ActionAddLap Action = "addLap"
	// ActionFinish はラップ数に関係なくゴール扱いにする操作。
	// 自主的なフィニッシュまたはDNFに相当する。
	ActionFinish Action = "finish"
)

// ParseAction は文字列をActionに変換する。
// addLap、finish以外はバリデーションエラーを返す。
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionAddLap, ActionFinish:
		return Action(s), nil
	default:
		return "", model.NewInvalidRequestError("action must be addLap or finish")
	}
}

// Create は新しいセッションを生成する。
// nameが空、totalLapsが1未満、空白除去後の参加者名が0件の場合は
// バリデーションエラーを返す。セッションと各参加者に新しいUUIDを割り当て、
// 初期状態はsetup、全参加者0周・未ゴールとなる。
func Create(name string, totalLaps int, participantNames []string, now time.Time) (*model.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewInvalidRequestError("name must not be empty")
	}
	if totalLaps < 1 {
		return nil, model.NewInvalidRequestError("totalLaps must be at least 1")
	}

	participants := make([]model.Participant, 0, len(participantNames))
	for _, pn := range participantNames {
		pn = strings.TrimSpace(pn)
		if pn == "" {
			continue
		}
		participants = append(participants, model.Participant{
			ID:   uuid.New().String(),
			Name: pn,
		})
	}
	if len(participants) == 0 {
		return nil, model.NewInvalidRequestError("at least one participant name is required")
	}

	return &model.Session{
		ID:           uuid.New().String(),
		Name:         name,
		TotalLaps:    totalLaps,
		Participants: participants,
		Status:       model.StatusSetup,
		CreatedAt:    now,
	}, nil
}

// Start はセッションをsetupからrunningに遷移させ、startTimeを設定する。
// setup以外の状態からの呼び出しはInvalidTransitionエラーを返し、
// 入力セッションは変更されない。
func Start(s *model.Session, now time.Time) (*model.Session, error) {
	if s.Status != model.StatusSetup {
		return nil, model.NewInvalidTransitionError(s.Status, model.StatusRunning)
	}

	next := s.Clone()
	next.Status = model.StatusRunning
	next.StartTime = &now
	return next, nil
}

// ApplyLap は1人の参加者に対する操作を適用した新しいセッションを返す。
// 参加者が見つからない場合はParticipantNotFoundエラー。
//
// addLap: ゴール済み、またはlapsCompletedがtotalLapsに達している場合は
// 何もしない（超過リクエストは黙って吸収する冪等な飽和）。それ以外は
// 1周加算し、totalLapsに達したらfinished=trueとfinishTimeを設定する。
//
// finish: ラップ数に関係なくfinished=trueにする。finishTimeが未設定の
// 場合のみ設定し、すでにゴール済みなら何も変わらない。
//
// いずれの場合も適用後にセッション完了判定を行う。
func ApplyLap(s *model.Session, participantID string, action Action, now time.Time) (*model.Session, error) {
	idx := s.ParticipantIndex(participantID)
	if idx == -1 {
		return nil, model.NewParticipantNotFoundError(participantID)
	}

	next := s.Clone()
	p := &next.Participants[idx]

	switch action {
	case ActionAddLap:
		if !p.Finished && p.LapsCompleted < next.TotalLaps {
			p.LapsCompleted++
			if p.LapsCompleted >= next.TotalLaps {
				p.Finished = true
				p.FinishTime = &now
			}
		}
	case ActionFinish:
		p.Finished = true
		if p.FinishTime == nil {
			p.FinishTime = &now
		}
	default:
		return nil, model.NewInvalidRequestError("action must be addLap or finish")
	}

	checkCompletion(next, now)
	return next, nil
}

// Merge は楽観的クライアントが送信した参加者配列を、ストア上の最新の
// セッションへ参加者ごとにマージした新しいセッションを返す。
// 配列の丸ごと差し替えではなく単調マージを行うため、並行する別参加者の
// 更新が古いクライアント状態で巻き戻されることはない:
//
//   - lapsCompletedは大きい方を採用（totalLapsで飽和）
//   - finishedは論理和（一度trueになったら戻らない）
//   - finishTimeは早い方を採用
//
// ストア側の参加者の順序と構成は維持され、ストアに存在しないIDの
// 参加者は無視される。statusは前方向の遷移のみ受け付け、running化の
// 際にstartTimeが未設定なら補完する。マージ後に完了判定を行う。
func Merge(stored *model.Session, incoming []model.Participant, status model.SessionStatus, endTime *time.Time, now time.Time) (*model.Session, error) {
	next := stored.Clone()

	for _, in := range incoming {
		idx := next.ParticipantIndex(in.ID)
		if idx == -1 {
			continue
		}
		p := &next.Participants[idx]

		if in.LapsCompleted > p.LapsCompleted {
			p.LapsCompleted = in.LapsCompleted
		}
		if p.LapsCompleted > next.TotalLaps {
			p.LapsCompleted = next.TotalLaps
		}
		if in.Finished {
			p.Finished = true
		}
		if p.LapsCompleted >= next.TotalLaps {
			p.Finished = true
		}
		if in.FinishTime != nil && (p.FinishTime == nil || in.FinishTime.Before(*p.FinishTime)) {
			ft := *in.FinishTime
			p.FinishTime = &ft
		}
		if p.Finished && p.FinishTime == nil {
			p.FinishTime = &now
		}
	}

	if err := advanceStatus(next, status, now); err != nil {
		return nil, err
	}

	if endTime != nil && next.EndTime == nil {
		et := *endTime
		next.EndTime = &et
	}

	checkCompletion(next, now)
	return next, nil
}

// Patch はセッションレベルのフィールドへの部分更新を表す。
// nilのフィールドは変更しない。レースのスタート
// （status=running、startTime設定）はこの経路で行われる。
type Patch struct {
	Name      *string
	Status    *model.SessionStatus
	StartTime *time.Time
	EndTime   *time.Time
}

// ApplyPatch は部分更新を適用した新しいセッションを返す。
// statusは前方向の遷移のみ許可し、同一値への更新は何もしない。
// すでにrunningのセッションに再度runningを要求しても
// startTimeは変わらない。タイムスタンプは一度設定されたら上書きされない。
func ApplyPatch(s *model.Session, patch Patch, now time.Time) (*model.Session, error) {
	next := s.Clone()

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, model.NewInvalidRequestError("name must not be empty")
		}
		next.Name = name
	}

	if patch.StartTime != nil && next.StartTime == nil {
		st := *patch.StartTime
		next.StartTime = &st
	}
	if patch.EndTime != nil && next.EndTime == nil {
		et := *patch.EndTime
		next.EndTime = &et
	}

	if patch.Status != nil {
		if err := advanceStatus(next, *patch.Status, now); err != nil {
			return nil, err
		}
	}

	checkCompletion(next, now)
	return next, nil
}

// advanceStatus はstatusを要求された値へ前進させる。
// 後退する遷移はInvalidTransitionエラー、同一値は何もしない。
func advanceStatus(s *model.Session, status model.SessionStatus, now time.Time) error {
	if status == "" || status == s.Status {
		return nil
	}

	rank := map[model.SessionStatus]int{
		model.StatusSetup:    0,
		model.StatusRunning:  1,
		model.StatusFinished: 2,
	}
	from, ok := rank[s.Status]
	to, ok2 := rank[status]
	if !ok || !ok2 || to < from {
		return model.NewInvalidTransitionError(s.Status, status)
	}

	if status == model.StatusRunning && s.StartTime == nil {
		s.StartTime = &now
	}
	if status == model.StatusFinished && s.EndTime == nil {
		s.EndTime = &now
	}
	s.Status = status
	return nil
}

// checkCompletion は参加者の変更後に毎回呼ばれるセッション完了判定。
// 全参加者がゴール済みでstatusがrunningの場合にfinishedへ遷移し、
// endTimeを設定する。statusがfinishedから戻ることはない。
func checkCompletion(s *model.Session, now time.Time) {
	if s.Status == model.StatusRunning && s.AllFinished() {
		s.Status = model.StatusFinished
		if s.EndTime == nil {
			s.EndTime = &now
		}
	}
}
