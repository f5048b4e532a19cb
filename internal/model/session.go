// Package model はドメインモデルを定義する。
package model

import "time"

// SessionStatus はセッションのライフサイクル状態を表す。
// 遷移は setup → running → finished の一方向のみ。
type SessionStatus string

const (
	// StatusSetup は参加者登録後、スタート前の状態。
	StatusSetup SessionStatus = "setup"
	// StatusRunning はレース進行中の状態。
	StatusRunning SessionStatus = "running"
	// StatusFinished は全参加者がゴールした、または明示的に終了された状態。
	StatusFinished SessionStatus = "finished"
)

// Participant はセッション内の1人の参加者を表す。
// LapsCompletedは単調増加であり、セッションのTotalLapsを超えない。
// Finishedは一度trueになったらfalseに戻らない。
type Participant struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	LapsCompleted int        `json:"lapsCompleted"`
	Finished      bool       `json:"finished"`
	FinishTime    *time.Time `json:"finishTime,omitempty"`
}

// Session は1つのレースセッションを表す。
// 参加者の集合（IDの組）は作成時に固定され、以後追加・削除されない。
// ブロブストアには sessions/{id}.json キーでこの構造体のJSONが
// ドキュメント全体上書きで永続化される。
type Session struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	TotalLaps    int           `json:"totalLaps"`
	Participants []Participant `json:"participants"`
	Status       SessionStatus `json:"status"`
	StartTime    *time.Time    `json:"startTime,omitempty"`
	EndTime      *time.Time    `json:"endTime,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Clone はセッションのディープコピーを返す。
// 状態機械は入力を変更せずコピーに対して遷移を適用するため、
// 参加者スライスまで複製する必要がある。
func (s *Session) Clone() *Session {
	c := *s
	c.Participants = make([]Participant, len(s.Participants))
	copy(c.Participants, s.Participants)
	for i, p := range s.Participants {
		if p.FinishTime != nil {
			ft := *p.FinishTime
			c.Participants[i].FinishTime = &ft
		}
	}
	if s.StartTime != nil {
		st := *s.StartTime
		c.StartTime = &st
	}
	if s.EndTime != nil {
		et := *s.EndTime
		c.EndTime = &et
	}
	return &c
}

// ParticipantIndex は指定IDの参加者のインデックスを返す。
// 見つからない場合は-1を返す。
func (s *Session) ParticipantIndex(participantID string) int {
	for i := range s.Participants {
		if s.Participants[i].ID == participantID {
			return i
		}
	}
	return -1
}

// AllFinished は全参加者がゴール済みかどうかを返す。
// 参加者が0人のセッションは作成時バリデーションで弾かれるため、
// 空スライスに対する呼び出しは想定しない。
func (s *Session) AllFinished() bool {
	for i := range s.Participants {
		if !s.Participants[i].Finished {
			return false
		}
	}
	return true
}
