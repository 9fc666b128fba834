package game

import (
	"errors"
	"testing"
	"time"
)

func answerFor(g *Game, round int, key string) string {
	return g.Rounds[round].LetterQuestions[key].Answer
}

func TestRevealLetter(t *testing.T) {
	g := playing(t)

	res, p, err := g.RevealLetter(Team1, 0, "A_0", "  "+answerFor(g, 0, "A_0")+" ", t0)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if !res.Correct || res.Delta != LetterRevealReward {
		t.Fatalf("result = %+v", res)
	}
	if g.Team1.Score != 10 || !g.Team1.Revealed(0, "A_0") {
		t.Fatalf("team1 = %+v", g.Team1)
	}
	if p["team1.score"] != 10 {
		t.Errorf("patch score = %v", p["team1.score"])
	}
	if keys, _ := p["team1.revealedLetters.0"].([]string); len(keys) != 1 || keys[0] != "A_0" {
		t.Errorf("patch reveals = %v", p["team1.revealedLetters.0"])
	}

	// Second correct reveal of the same slot is a no-op.
	res, p, err = g.RevealLetter(Team1, 0, "A_0", answerFor(g, 0, "A_0"), t0)
	if err != nil || !res.Correct || !res.AlreadyRevealed || len(p) != 0 {
		t.Fatalf("re-reveal = %+v %v %v", res, p, err)
	}
	if g.Team1.Score != 10 || len(g.Team1.RevealedLetters[0]) != 1 {
		t.Fatalf("re-reveal changed team: %+v", g.Team1)
	}

	// Wrong answers never penalize or change state in simultaneous play.
	res, p, err = g.RevealLetter(Team1, 0, "P_0", "definitely wrong", t0)
	if err != nil || res.Correct || len(p) != 0 || g.Team1.Score != 10 {
		t.Fatalf("wrong reveal = %+v %v %v score=%d", res, p, err, g.Team1.Score)
	}

	// The other team acts independently.
	if res, _, _ := g.RevealLetter(Team2, 0, "A_0", answerFor(g, 0, "A_0"), t0); !res.Correct || g.Team2.Score != 10 {
		t.Fatalf("team2 reveal = %+v", res)
	}
}

func TestRevealLetterPreconditions(t *testing.T) {
	g := playing(t)
	if _, _, err := g.RevealLetter(Team1, 0, "Z_0", "x", t0); !errors.Is(err, ErrUnknownSlot) {
		t.Errorf("unknown slot err = %v", err)
	}
	if _, _, err := g.RevealLetter(Team1, 5, "A_0", "x", t0); !errors.Is(err, ErrInvalidRound) {
		t.Errorf("bad round err = %v", err)
	}
	g.Status = StatusPaused
	_, _, err := g.RevealLetter(Team1, 0, "A_0", "x", t0)
	if !errors.Is(err, ErrInvalidStatus) || !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("paused err = %v", err)
	}
}

func TestRevealLetterTurnRestricted(t *testing.T) {
	g := playing(t)
	g.TurnRestricted = true
	g.CurrentTurn = Team1

	if _, _, err := g.RevealLetter(Team2, 0, "A_0", answerFor(g, 0, "A_0"), t0); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("err = %v, want ErrNotYourTurn", err)
	}
	res, p, err := g.RevealLetter(Team1, 0, "A_0", "nope", t0)
	if err != nil || res.Correct || res.Delta != -TurnRevealPenalty {
		t.Fatalf("wrong turn reveal = %+v %v", res, err)
	}
	if g.CurrentTurn != Team2 || p["currentTurn"] != Team2 || g.Team1.Score != -TurnRevealPenalty {
		t.Fatalf("turn not passed: turn=%s score=%d", g.CurrentTurn, g.Team1.Score)
	}
	if res, _, _ := g.RevealLetter(Team2, 0, "A_0", answerFor(g, 0, "A_0"), t0); !res.Correct || g.CurrentTurn != Team2 {
		t.Fatalf("correct reveal should keep turn: %+v turn=%s", res, g.CurrentTurn)
	}
}

func TestDecayedPoints(t *testing.T) {
	tests := []struct {
		start   int
		elapsed time.Duration
		want    int
	}{
		{1000, 0, 1000},
		{1000, 4999 * time.Millisecond, 1000},
		{1000, 12 * time.Second, 980},
		{1000, 500 * time.Second, 0},
		{1000, 24 * time.Hour, 0},
		{30, 15 * time.Second, 0},
		{1000, -time.Second, 1000},
	}
	for _, tt := range tests {
		if got := DecayedPoints(tt.start, tt.elapsed); got != tt.want {
			t.Errorf("DecayedPoints(%d, %s) = %d, want %d", tt.start, tt.elapsed, got, tt.want)
		}
	}
	if Decay(5) != 0 || Decay(0) != 0 || Decay(640) != 630 {
		t.Errorf("Decay floor broken")
	}
}

func TestSubmitMainAnswer(t *testing.T) {
	g := playing(t)
	g.Team1.Score = 100
	g.Rounds[0].CurrentPoints = 640

	res, _, err := g.SubmitMainAnswer(Submission{Team: Team1, RoundIndex: 0, Answer: "wrong"}, t0)
	if err != nil || res.Correct || g.Team1.Score != 80 || g.Team1.CurrentRoundIndex != 0 {
		t.Fatalf("wrong submit: %+v %v team=%+v", res, err, g.Team1)
	}

	g.Team1.Score = 100
	res, p, err := g.SubmitMainAnswer(Submission{Team: Team1, RoundIndex: 0, Answer: " Paris "}, t0)
	if err != nil || !res.Correct || res.Delta != 640 {
		t.Fatalf("correct submit: %+v %v", res, err)
	}
	if g.Team1.Score != 740 || g.Team1.CurrentRoundIndex != 1 {
		t.Fatalf("team1 = %+v", g.Team1)
	}
	if p["rounds.0.currentPoints"] != 640 || p["team1.currentRoundIndex"] != 1 || p["rounds.0.winner"] != Team1 {
		t.Errorf("patch = %v", p)
	}

	if _, _, err := g.SubmitMainAnswer(Submission{Team: Team1, RoundIndex: 0, Answer: "PARIS"}, t0); !errors.Is(err, ErrRoundCompleted) {
		t.Errorf("resubmit err = %v", err)
	}
	if _, _, err := g.SubmitMainAnswer(Submission{Team: Team2, RoundIndex: 1, Answer: "ALLY"}, t0); !errors.Is(err, ErrRoundNotReached) {
		t.Errorf("skip-ahead err = %v", err)
	}
}

func TestSubmitLivePointsCannotInflate(t *testing.T) {
	g := playing(t)
	g.Rounds[0].CurrentPoints = 500

	high := 900
	res, _, _ := g.SubmitMainAnswer(Submission{Team: Team1, RoundIndex: 0, Answer: "PARIS", LivePoints: &high}, t0)
	if res.Delta != 500 {
		t.Errorf("inflated live points awarded %d", res.Delta)
	}
	low := 470
	res, _, _ = g.SubmitMainAnswer(Submission{Team: Team2, RoundIndex: 0, Answer: "PARIS", LivePoints: &low}, t0)
	if res.Delta != 470 || g.Rounds[0].CurrentPoints != 470 {
		t.Errorf("live points = %d, round = %d", res.Delta, g.Rounds[0].CurrentPoints)
	}
}

func TestSubmitWithoutLivePoints(t *testing.T) {
	g := playing(t)
	res, _, err := g.SubmitMainAnswer(Submission{Team: Team1, RoundIndex: 0, Answer: "PARIS"}, t0.Add(time.Hour))
	if err != nil || res.Delta != InitialRoundPoints {
		t.Fatalf("delta = %d, err = %v", res.Delta, err)
	}
}

func TestScoreFormula(t *testing.T) {
	g := playing(t)
	keys := SlotKeys(g.Rounds[0].MainAnswer)
	n := 3
	for _, k := range keys[:n] {
		g.RevealLetter(Team1, 0, k, answerFor(g, 0, k), t0)
	}
	m := 2
	for i := 0; i < m; i++ {
		g.SubmitMainAnswer(Submission{Team: Team1, RoundIndex: 0, Answer: "LONDON"}, t0)
	}
	g.Rounds[0].CurrentPoints = 870
	g.SubmitMainAnswer(Submission{Team: Team1, RoundIndex: 0, Answer: "PARIS"}, t0)

	if want := 10*n - 20*m + 870; g.Team1.Score != want {
		t.Errorf("score = %d, want %d", g.Team1.Score, want)
	}
}

func TestFinishWhenBothTeamsDone(t *testing.T) {
	g := playing(t)
	solve := func(team TeamID, round int, answer string) SubmitResult {
		t.Helper()
		res, _, err := g.SubmitMainAnswer(Submission{Team: team, RoundIndex: round, Answer: answer}, t0)
		if err != nil {
			t.Fatalf("%s round %d: %v", team, round, err)
		}
		return res
	}
	solve(Team1, 0, "PARIS")
	solve(Team1, 1, "ALLY")
	if g.Status != StatusInProgress {
		t.Fatalf("finished with one team done")
	}
	solve(Team2, 0, "PARIS")
	g.Rounds[1].CurrentPoints = 10
	res := solve(Team2, 1, "ALLY")
	if !res.Finished || g.Status != StatusFinished || g.FinishedAt == nil {
		t.Fatalf("game not finished: %+v status=%s", res, g.Status)
	}
	if g.Winner != Team1 {
		t.Errorf("winner = %q, want team1 (scores %d vs %d)", g.Winner, g.Team1.Score, g.Team2.Score)
	}
}

func TestFinalizeDraw(t *testing.T) {
	g := playing(t)
	g.Team1.CurrentRoundIndex, g.Team2.CurrentRoundIndex = 2, 2
	g.Team1.Score, g.Team2.Score = 300, 300
	if p := g.Finalize(t0); p == nil || g.Status != StatusFinished || g.Winner != "" {
		t.Fatalf("draw: status=%s winner=%q", g.Status, g.Winner)
	}
	if g.Finalize(t0) != nil {
		t.Errorf("second Finalize should be a no-op")
	}
}

func TestLifecycle(t *testing.T) {
	g := playing(t)

	if p, err := g.Pause(t0); err != nil || p["status"] != StatusPaused {
		t.Fatalf("pause: %v %v", p, err)
	}
	if p, _ := g.Pause(t0); p != nil {
		t.Errorf("double pause should be a no-op")
	}
	if _, err := g.Resume(t0); err != nil || g.Status != StatusInProgress {
		t.Fatalf("resume: %v", err)
	}

	if _, err := g.SkipRound(t0); err != nil || g.CurrentRoundIndex != 1 || g.Status != StatusInProgress {
		t.Fatalf("skip 1: idx=%d status=%s err=%v", g.CurrentRoundIndex, g.Status, err)
	}
	if g.Team1.CurrentRoundIndex != 0 {
		t.Errorf("skip moved team pointer")
	}
	if _, err := g.SkipRound(t0); err != nil || g.Status != StatusFinished {
		t.Fatalf("skip past last round: status=%s err=%v", g.Status, err)
	}
	if _, err := g.SkipRound(t0); !errors.Is(err, ErrGameFinished) {
		t.Errorf("skip after finish err = %v", err)
	}
	if p, err := g.Pause(t0); p != nil || err != nil || g.Status != StatusFinished {
		t.Errorf("pause after finish should be a no-op")
	}
	if _, err := g.Start(t0); !errors.Is(err, ErrGameFinished) {
		t.Errorf("start after finish err = %v", err)
	}
}

func TestPauseFromLobby(t *testing.T) {
	g, _ := New(testDefinition(), "admin", t0, nil)
	if _, err := g.Pause(t0); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("err = %v", err)
	}
	if _, err := g.Start(t0); err != nil || g.Status != StatusInProgress || g.StartedAt == nil {
		t.Errorf("admin start: %v", err)
	}
}

func TestForfeitAndDisqualify(t *testing.T) {
	g := playing(t)
	g.Team2.Score = 999
	p, err := g.Forfeit(Team2, t0)
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != StatusFinished || g.Winner != Team1 || g.ForfeitedBy != Team2 || p["forfeitedBy"] != Team2 {
		t.Fatalf("forfeit: status=%s winner=%s by=%s", g.Status, g.Winner, g.ForfeitedBy)
	}
	if _, err := g.Forfeit(Team1, t0); !errors.Is(err, ErrGameFinished) {
		t.Errorf("forfeit after finish err = %v", err)
	}

	g = playing(t)
	if _, err := g.Disqualify(Team1, t0); err != nil || g.Winner != Team2 || g.ForfeitedBy != Team1 {
		t.Fatalf("disqualify: winner=%s err=%v", g.Winner, err)
	}
	if _, err := playing(t).Forfeit("team3", t0); !errors.Is(err, ErrUnknownTeam) {
		t.Errorf("bad team err = %v", err)
	}
}

func TestForfeitInLobby(t *testing.T) {
	g, _ := New(testDefinition(), "admin", t0, nil)
	if _, _, err := g.Join("Red", "u1", t0); err != nil {
		t.Fatal(err)
	}
	p, err := g.Forfeit(Team1, t0)
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != StatusFinished || g.Winner != "" {
		t.Fatalf("lobby forfeit: status=%s winner=%q", g.Status, g.Winner)
	}
	if _, ok := p["winner"]; ok {
		t.Errorf("patch names a winner for an empty slot: %v", p)
	}
}

func TestExpire(t *testing.T) {
	lobby, _ := New(testDefinition(), "admin", t0, nil)
	if p := lobby.Expire(t0); p == nil || lobby.Status != StatusFinished || lobby.Winner != "" {
		t.Errorf("lobby expire: %v status=%s", p, lobby.Status)
	}

	paused := playing(t)
	if _, err := paused.Pause(t0); err != nil {
		t.Fatal(err)
	}
	if p := paused.Expire(t0); p == nil || paused.Status != StatusFinished {
		t.Errorf("paused expire: %v status=%s", p, paused.Status)
	}

	running := playing(t)
	if p := running.Expire(t0); p != nil || running.Status != StatusInProgress {
		t.Errorf("in-progress game expired: %v status=%s", p, running.Status)
	}
}

func TestJoin(t *testing.T) {
	g, _ := New(testDefinition(), "admin", t0, nil)

	slot, p, err := g.Join(" Red ", "u1", t0)
	if err != nil || slot != Team1 || p == nil || g.Status != StatusLobby {
		t.Fatalf("first join: %s %v %v", slot, p, err)
	}
	if slot, p, err := g.Join("red", "u9", t0); err != nil || slot != Team1 || p != nil {
		t.Fatalf("rejoin: %s %v %v", slot, p, err)
	}
	slot, p, err = g.Join("Blue", "u2", t0)
	if err != nil || slot != Team2 {
		t.Fatalf("second join: %s %v", slot, err)
	}
	if g.Status != StatusInProgress || p["status"] != StatusInProgress || p["startedAt"] == nil {
		t.Fatalf("second join did not start the game: %v", p)
	}

	g.Team2.Score = 42
	if slot, p, err := g.Join("Blue", "", t0); err != nil || slot != Team2 || p != nil || g.Team2.Score != 42 {
		t.Fatalf("reconnect after start: %s %v %v", slot, p, err)
	}
	if _, _, err := g.Join("Green", "u3", t0); !errors.Is(err, ErrGameNotJoinable) {
		t.Errorf("late join err = %v", err)
	}
	if _, _, err := g.Join("  ", "u3", t0); !errors.Is(err, ErrInvalidName) {
		t.Errorf("blank name err = %v", err)
	}
}

func TestJoinFull(t *testing.T) {
	g, _ := New(testDefinition(), "admin", t0, nil)
	g.Team1 = &Team{Name: "A"}
	g.Team2 = &Team{Name: "B"}
	if _, _, err := g.Join("C", "", t0); !errors.Is(err, ErrGameFull) {
		t.Errorf("err = %v, want ErrGameFull", err)
	}
}

func TestClone(t *testing.T) {
	g := playing(t)
	g.RevealLetter(Team1, 0, "P_0", answerFor(g, 0, "P_0"), t0)
	c := g.Clone()
	c.Team1.RevealedLetters[0][0] = "X_0"
	c.Rounds[0].CurrentPoints = 1
	c.Team2.Score = 77
	if g.Team1.RevealedLetters[0][0] != "P_0" || g.Rounds[0].CurrentPoints != InitialRoundPoints || g.Team2.Score != 0 {
		t.Errorf("Clone shares state with original")
	}
}
