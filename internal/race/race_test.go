package race

import (
	"testing"
	"time"

	"github.com/lexyurk/runvibe/internal/model"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func mustCreate(t *testing.T, name string, totalLaps int, names []string) *model.Session {
	t.Helper()
	s, err := Create(name, totalLaps, names, testNow)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return s
}

func TestCreate_InitialState(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann", "Bo"})

	if s.Status != model.StatusSetup {
		t.Errorf("Status = %q, want %q", s.Status, model.StatusSetup)
	}
	if s.ID == "" {
		t.Error("session ID should be assigned")
	}
	if !s.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", s.CreatedAt, testNow)
	}
	if s.StartTime != nil || s.EndTime != nil {
		t.Error("StartTime and EndTime should be unset at creation")
	}
	if len(s.Participants) != 2 {
		t.Fatalf("participant count = %d, want 2", len(s.Participants))
	}
	for _, p := range s.Participants {
		if p.ID == "" {
			t.Error("participant ID should be assigned")
		}
		if p.LapsCompleted != 0 {
			t.Errorf("LapsCompleted = %d, want 0", p.LapsCompleted)
		}
		if p.Finished {
			t.Error("Finished should be false at creation")
		}
	}
}

func TestCreate_FiltersBlankNames(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann", "  ", "", "Bo "})

	if len(s.Participants) != 2 {
		t.Fatalf("participant count = %d, want 2", len(s.Participants))
	}
	if s.Participants[0].Name != "Ann" || s.Participants[1].Name != "Bo" {
		t.Errorf("participant names = %q, %q, want Ann, Bo", s.Participants[0].Name, s.Participants[1].Name)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name      string
		session   string
		totalLaps int
		names     []string
	}{
		{"empty name", "", 3, []string{"Ann"}},
		{"blank name", "   ", 3, []string{"Ann"}},
		{"zero laps", "5K", 0, []string{"Ann"}},
		{"negative laps", "5K", -1, []string{"Ann"}},
		{"no participants", "5K", 3, nil},
		{"only blank participants", "5K", 3, []string{"", "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create(tt.session, tt.totalLaps, tt.names, testNow)
			apiErr, ok := err.(*model.APIError)
			if !ok {
				t.Fatalf("expected *model.APIError, got %v", err)
			}
			if apiErr.Code != model.ErrCodeInvalidRequest {
				t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidRequest)
			}
		})
	}
}

func TestStart_FromSetup(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann"})

	started, err := Start(s, testNow)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if started.Status != model.StatusRunning {
		t.Errorf("Status = %q, want %q", started.Status, model.StatusRunning)
	}
	if started.StartTime == nil || !started.StartTime.Equal(testNow) {
		t.Errorf("StartTime = %v, want %v", started.StartTime, testNow)
	}
	// 入力は変更されない
	if s.Status != model.StatusSetup || s.StartTime != nil {
		t.Error("Start mutated its input session")
	}
}

func TestStart_TwiceKeepsFirstStartTime(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann"})

	started, err := Start(s, testNow)
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	later := testNow.Add(time.Minute)
	if _, err := Start(started, later); err == nil {
		t.Fatal("second Start should fail once status advanced")
	}
	if !started.StartTime.Equal(testNow) {
		t.Errorf("StartTime changed on rejected second start: %v", started.StartTime)
	}
}

func TestStart_InvalidFromFinished(t *testing.T) {
	s := mustCreate(t, "5K", 1, []string{"Ann"})
	s.Status = model.StatusFinished

	_, err := Start(s, testNow)
	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.Code != model.ErrCodeInvalidTransition {
		t.Errorf("expected INVALID_TRANSITION, got %v", err)
	}
}

func TestApplyLap_ReachesCapAndSaturates(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann"})
	s, err := Start(s, testNow)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	pid := s.Participants[0].ID

	for i := 1; i <= 3; i++ {
		now := testNow.Add(time.Duration(i) * time.Minute)
		s, err = ApplyLap(s, pid, ActionAddLap, now)
		if err != nil {
			t.Fatalf("ApplyLap %d failed: %v", i, err)
		}
		if s.Participants[0].LapsCompleted != i {
			t.Errorf("after lap %d: LapsCompleted = %d, want %d", i, s.Participants[0].LapsCompleted, i)
		}
	}

	p := s.Participants[0]
	if !p.Finished {
		t.Error("participant should be finished after reaching totalLaps")
	}
	// ラップ上限到達でもfinishTimeを設定する（リーダーボードのソートに必要）
	if p.FinishTime == nil || !p.FinishTime.Equal(testNow.Add(3*time.Minute)) {
		t.Errorf("FinishTime = %v, want %v", p.FinishTime, testNow.Add(3*time.Minute))
	}

	// 上限超過のaddLapは冪等な飽和
	s2, err := ApplyLap(s, pid, ActionAddLap, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("saturating ApplyLap failed: %v", err)
	}
	if s2.Participants[0].LapsCompleted != 3 {
		t.Errorf("LapsCompleted = %d, want 3 after saturation", s2.Participants[0].LapsCompleted)
	}
	if !s2.Participants[0].FinishTime.Equal(testNow.Add(3 * time.Minute)) {
		t.Error("saturating addLap changed the finish time")
	}
}

func TestApplyLap_SoleParticipantFinishesSession(t *testing.T) {
	s := mustCreate(t, "5K", 2, []string{"Ann"})
	s, _ = Start(s, testNow)
	pid := s.Participants[0].ID

	s, err := ApplyLap(s, pid, ActionAddLap, testNow)
	if err != nil {
		t.Fatalf("ApplyLap failed: %v", err)
	}
	if s.Status != model.StatusRunning {
		t.Errorf("Status = %q, want still running after 1/2 laps", s.Status)
	}

	end := testNow.Add(time.Minute)
	s, err = ApplyLap(s, pid, ActionAddLap, end)
	if err != nil {
		t.Fatalf("ApplyLap failed: %v", err)
	}
	if s.Status != model.StatusFinished {
		t.Errorf("Status = %q, want %q once every participant finished", s.Status, model.StatusFinished)
	}
	if s.EndTime == nil || !s.EndTime.Equal(end) {
		t.Errorf("EndTime = %v, want %v", s.EndTime, end)
	}
}

func TestApplyLap_FinishIsVoluntaryAndIdempotent(t *testing.T) {
	s := mustCreate(t, "5K", 5, []string{"Ann", "Bo"})
	s, _ = Start(s, testNow)
	pid := s.Participants[0].ID

	s, err := ApplyLap(s, pid, ActionFinish, testNow)
	if err != nil {
		t.Fatalf("ApplyLap finish failed: %v", err)
	}
	p := s.Participants[0]
	if !p.Finished {
		t.Error("finish should mark the participant finished regardless of laps")
	}
	if p.LapsCompleted != 0 {
		t.Errorf("LapsCompleted = %d, want 0 after DNF-style finish", p.LapsCompleted)
	}
	if p.FinishTime == nil || !p.FinishTime.Equal(testNow) {
		t.Errorf("FinishTime = %v, want %v", p.FinishTime, testNow)
	}

	// 2回目のfinishはfinishTimeを動かさない
	s, err = ApplyLap(s, pid, ActionFinish, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("second finish failed: %v", err)
	}
	if !s.Participants[0].FinishTime.Equal(testNow) {
		t.Error("repeated finish changed the finish time")
	}

	// ゴール済み参加者へのaddLapは黙って吸収される
	s, err = ApplyLap(s, pid, ActionAddLap, testNow)
	if err != nil {
		t.Fatalf("addLap after finish failed: %v", err)
	}
	if s.Participants[0].LapsCompleted != 0 {
		t.Error("addLap after finish should be a no-op")
	}
}

func TestApplyLap_UnknownParticipant(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann"})
	before := s.Clone()

	_, err := ApplyLap(s, "no-such-id", ActionAddLap, testNow)
	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.Code != model.ErrCodeParticipantNotFound {
		t.Fatalf("expected PARTICIPANT_NOT_FOUND, got %v", err)
	}
	if s.Participants[0].LapsCompleted != before.Participants[0].LapsCompleted {
		t.Error("failed ApplyLap mutated the session")
	}
}

func TestApplyLap_LastFinishCompletesSession(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann", "Bo"})
	s, _ = Start(s, testNow)
	ann, bo := s.Participants[0].ID, s.Participants[1].ID

	var err error
	for i := 0; i < 3; i++ {
		s, err = ApplyLap(s, ann, ActionAddLap, testNow)
		if err != nil {
			t.Fatalf("ApplyLap failed: %v", err)
		}
	}
	if s.Status != model.StatusRunning {
		t.Errorf("Status = %q, want running while Bo is unfinished", s.Status)
	}

	s, err = ApplyLap(s, bo, ActionFinish, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("ApplyLap failed: %v", err)
	}
	if s.Status != model.StatusFinished {
		t.Errorf("Status = %q, want finished after last participant", s.Status)
	}
	if s.EndTime == nil {
		t.Error("EndTime should be set on completion")
	}
}

func TestMerge_TakesMonotonicMaximum(t *testing.T) {
	s := mustCreate(t, "5K", 5, []string{"Ann", "Bo"})
	s, _ = Start(s, testNow)
	s.Participants[0].LapsCompleted = 3 // 並行する別クライアントの更新がストアに到達済み

	// 古いクライアントはAnnの更新を知らずBoだけ進めた状態を送ってくる
	incoming := []model.Participant{
		{ID: s.Participants[0].ID, Name: "Ann", LapsCompleted: 1},
		{ID: s.Participants[1].ID, Name: "Bo", LapsCompleted: 2},
	}

	merged, err := Merge(s, incoming, model.StatusRunning, nil, testNow)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if got := merged.Participants[0].LapsCompleted; got != 3 {
		t.Errorf("Ann laps = %d, want 3 (stored value wins over stale client)", got)
	}
	if got := merged.Participants[1].LapsCompleted; got != 2 {
		t.Errorf("Bo laps = %d, want 2 (client increment survives)", got)
	}
}

func TestMerge_CapsAndFinishes(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann"})
	s, _ = Start(s, testNow)

	incoming := []model.Participant{
		{ID: s.Participants[0].ID, Name: "Ann", LapsCompleted: 7},
	}
	merged, err := Merge(s, incoming, model.StatusRunning, nil, testNow)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	p := merged.Participants[0]
	if p.LapsCompleted != 3 {
		t.Errorf("LapsCompleted = %d, want saturation at totalLaps", p.LapsCompleted)
	}
	if !p.Finished {
		t.Error("participant at lap cap must be finished")
	}
	if merged.Status != model.StatusFinished {
		t.Errorf("Status = %q, want finished (sole participant done)", merged.Status)
	}
}

func TestMerge_IgnoresUnknownParticipants(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann"})
	incoming := []model.Participant{
		{ID: "intruder", Name: "Mallory", LapsCompleted: 3, Finished: true},
	}

	merged, err := Merge(s, incoming, model.StatusSetup, nil, testNow)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(merged.Participants) != 1 {
		t.Errorf("participant count = %d, want 1 (membership fixed at creation)", len(merged.Participants))
	}
}

func TestMerge_RejectsBackwardStatus(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann"})
	s, _ = Start(s, testNow)

	_, err := Merge(s, nil, model.StatusSetup, nil, testNow)
	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.Code != model.ErrCodeInvalidTransition {
		t.Errorf("expected INVALID_TRANSITION for running -> setup, got %v", err)
	}
}

func TestMerge_NeverUnfinishes(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann"})
	s, _ = Start(s, testNow)
	finish := testNow.Add(time.Minute)
	s.Participants[0].Finished = true
	s.Participants[0].FinishTime = &finish

	incoming := []model.Participant{
		{ID: s.Participants[0].ID, Name: "Ann", LapsCompleted: 0, Finished: false},
	}
	merged, err := Merge(s, incoming, model.StatusRunning, nil, testNow)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !merged.Participants[0].Finished {
		t.Error("finished flag must be monotonic under merge")
	}
	if !merged.Participants[0].FinishTime.Equal(finish) {
		t.Error("finish time must survive a stale client push")
	}
}

func TestParseAction(t *testing.T) {
	if _, err := ParseAction("addLap"); err != nil {
		t.Errorf("ParseAction(addLap) failed: %v", err)
	}
	if _, err := ParseAction("finish"); err != nil {
		t.Errorf("ParseAction(finish) failed: %v", err)
	}
	if _, err := ParseAction("teleport"); err == nil {
		t.Error("ParseAction should reject unknown actions")
	}
}

func TestApplyPatch_RenamesSession(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann"})

	name := " Morning 5K "
	updated, err := ApplyPatch(s, Patch{Name: &name}, testNow)
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
	if updated.Name != "Morning 5K" {
		t.Errorf("Name = %q, want %q", updated.Name, "Morning 5K")
	}
	if s.Name != "5K" {
		t.Error("ApplyPatch must not mutate its input")
	}

	empty := "  "
	if _, err := ApplyPatch(s, Patch{Name: &empty}, testNow); err == nil {
		t.Error("ApplyPatch should reject a blank name")
	}
}

func TestApplyPatch_StartsViaStatus(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann"})

	running := model.StatusRunning
	updated, err := ApplyPatch(s, Patch{Status: &running}, testNow)
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
	if updated.Status != model.StatusRunning {
		t.Errorf("Status = %q, want %q", updated.Status, model.StatusRunning)
	}
	if updated.StartTime == nil || !updated.StartTime.Equal(testNow) {
		t.Errorf("StartTime = %v, want %v", updated.StartTime, testNow)
	}
}

func TestApplyPatch_RepeatedStatusIsNoOp(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann"})
	started, err := Start(s, testNow)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	running := model.StatusRunning
	later := testNow.Add(time.Minute)
	updated, err := ApplyPatch(started, Patch{Status: &running}, later)
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
	if !updated.StartTime.Equal(testNow) {
		t.Errorf("StartTime = %v, want original %v", updated.StartTime, testNow)
	}
}

func TestApplyPatch_RejectsBackwardStatus(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann"})
	started, err := Start(s, testNow)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	setup := model.StatusSetup
	_, err = ApplyPatch(started, Patch{Status: &setup}, testNow)
	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.Code != model.ErrCodeInvalidTransition {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
}

func TestApplyPatch_TimestampsAreSetOnce(t *testing.T) {
	s := mustCreate(t, "5K", 3, []string{"Ann"})
	started, err := Start(s, testNow)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	other := testNow.Add(time.Hour)
	updated, err := ApplyPatch(started, Patch{StartTime: &other}, other)
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
	if !updated.StartTime.Equal(testNow) {
		t.Errorf("StartTime = %v, want original %v", updated.StartTime, testNow)
	}

	finished := model.StatusFinished
	ended, err := ApplyPatch(updated, Patch{Status: &finished}, other)
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
	if ended.EndTime == nil || !ended.EndTime.Equal(other) {
		t.Errorf("EndTime = %v, want %v", ended.EndTime, other)
	}

	third := other.Add(time.Hour)
	again, err := ApplyPatch(ended, Patch{EndTime: &third}, third)
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
	if !again.EndTime.Equal(other) {
		t.Errorf("EndTime = %v, want original %v", again.EndTime, other)
	}
}
