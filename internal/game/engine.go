// internal/game/engine.go
//
// Scoring and reveal engine for a TimeLine game.
// Responsibilities:
//   - Validate and apply letter reveals (idempotent per slot key).
//   - Compute point decay for the live round value.
//   - Validate and apply main-answer submissions, advancing team progress.
//
// Notes:
//   - Every rule mutates the receiver and returns the equivalent Patch.
//     The same call runs against the optimistic local mirror and again,
//     inside a store transaction, against the canonical document.
//   - Wrong guesses are results, not errors.

package game

import (
	"strconv"
	"strings"
	"time"
)

const (
	InitialRoundPoints      = 1000
	LetterRevealReward      = 10
	PointsDecrementAmount   = 10
	PointsDecrementInterval = 5000 * time.Millisecond
	IncorrectAnswerPenalty  = 20
	// TurnRevealPenalty is only charged in turn-restricted games.
	TurnRevealPenalty = LetterRevealReward
)

// RevealResult describes the outcome of a letter reveal.
type RevealResult struct {
	Correct         bool `json:"correct"`
	AlreadyRevealed bool `json:"alreadyRevealed,omitempty"`
	Delta           int  `json:"delta"`
}

// SubmitResult describes the outcome of a main-answer submission.
type SubmitResult struct {
	Correct  bool `json:"correct"`
	Delta    int  `json:"delta"`
	Finished bool `json:"finished,omitempty"` // this submission ended the game
}

// Submission is a main-answer attempt. LivePoints, when set, carries the
// round value the client saw at submit time; the awarded value never
// exceeds what the document holds.
type Submission struct {
	Team       TeamID `json:"team"`
	RoundIndex int    `json:"roundIndex"`
	Answer     string `json:"answer"`
	LivePoints *int   `json:"points,omitempty"`
}

// MatchAnswer compares a submission against the stored answer ignoring
// case and surrounding whitespace.
func MatchAnswer(submitted, expected string) bool {
	return strings.EqualFold(strings.TrimSpace(submitted), strings.TrimSpace(expected))
}

// DecayedPoints returns start minus one decrement per full interval elapsed, floored at 0.
func DecayedPoints(start int, elapsed time.Duration) int {
	if elapsed <= 0 {
		return max(start, 0)
	}
	steps := int(elapsed / PointsDecrementInterval)
	return max(start-steps*PointsDecrementAmount, 0)
}

// Decay applies a single decrement step.
func Decay(points int) int { return max(points-PointsDecrementAmount, 0) }

// RevealLetter checks answer against the question bound to slot in round
// roundIndex. A correct answer awards LetterRevealReward once per slot.
func (g *Game) RevealLetter(team TeamID, roundIndex int, slot, answer string, now time.Time) (RevealResult, Patch, error) {
	t, err := g.playingTeam(team)
	if err != nil {
		return RevealResult{}, nil, err
	}
	if g.TurnRestricted && g.CurrentTurn != "" && g.CurrentTurn != team {
		return RevealResult{}, nil, ErrNotYourTurn
	}
	if roundIndex < 0 || roundIndex >= len(g.Rounds) {
		return RevealResult{}, nil, ErrInvalidRound
	}
	q, ok := g.Rounds[roundIndex].LetterQuestions[slot]
	if !ok {
		return RevealResult{}, nil, ErrUnknownSlot
	}

	p := Patch{}
	prefix := string(team) + "."

	if !MatchAnswer(answer, q.Answer) {
		if !g.TurnRestricted {
			return RevealResult{}, p, nil
		}
		t.Score -= TurnRevealPenalty
		g.CurrentTurn = team.Other()
		g.LastActivityAt = now
		p[prefix+"score"] = t.Score
		p["currentTurn"] = g.CurrentTurn
		p.touch(now)
		return RevealResult{Delta: -TurnRevealPenalty}, p, nil
	}

	if t.Revealed(roundIndex, slot) {
		return RevealResult{Correct: true, AlreadyRevealed: true}, p, nil
	}
	if t.RevealedLetters == nil {
		t.RevealedLetters = make(map[int][]string)
	}
	t.RevealedLetters[roundIndex] = append(t.RevealedLetters[roundIndex], slot)
	t.Score += LetterRevealReward
	g.LastActivityAt = now

	p[prefix+"score"] = t.Score
	p[prefix+"revealedLetters."+strconv.Itoa(roundIndex)] = append([]string(nil), t.RevealedLetters[roundIndex]...)
	p.touch(now)
	return RevealResult{Correct: true, Delta: LetterRevealReward}, p, nil
}

// SubmitMainAnswer checks a main answer for the submitting team's current
// round. Correct answers award the round's live points and advance the
// team; wrong answers cost IncorrectAnswerPenalty and may be retried.
func (g *Game) SubmitMainAnswer(sub Submission, now time.Time) (SubmitResult, Patch, error) {
	t, err := g.playingTeam(sub.Team)
	if err != nil {
		return SubmitResult{}, nil, err
	}
	ri := sub.RoundIndex
	if ri < 0 || ri >= len(g.Rounds) {
		return SubmitResult{}, nil, ErrInvalidRound
	}
	switch {
	case t.CurrentRoundIndex > ri:
		return SubmitResult{}, nil, ErrRoundCompleted
	case t.CurrentRoundIndex < ri:
		return SubmitResult{}, nil, ErrRoundNotReached
	}

	round := &g.Rounds[ri]
	prefix := string(sub.Team) + "."
	p := Patch{}

	if !MatchAnswer(sub.Answer, round.MainAnswer) {
		t.Score -= IncorrectAnswerPenalty
		g.LastActivityAt = now
		p[prefix+"score"] = t.Score
		p.touch(now)
		return SubmitResult{Delta: -IncorrectAnswerPenalty}, p, nil
	}

	points := round.CurrentPoints
	if sub.LivePoints != nil && *sub.LivePoints < points {
		points = max(*sub.LivePoints, 0)
	}
	round.CurrentPoints = points
	t.Score += points
	t.CurrentRoundIndex++
	g.LastActivityAt = now

	roundPath := "rounds." + strconv.Itoa(ri) + "."
	p[roundPath+"currentPoints"] = points
	if round.Winner == "" {
		round.Winner = sub.Team
		round.Status = RoundCompleted
		p[roundPath+"winner"] = round.Winner
		p[roundPath+"status"] = round.Status
	}
	p[prefix+"score"] = t.Score
	p[prefix+"currentRoundIndex"] = t.CurrentRoundIndex
	p.touch(now)

	res := SubmitResult{Correct: true, Delta: points}
	if fp := g.Finalize(now); len(fp) > 0 {
		for k, v := range fp {
			p[k] = v
		}
		res.Finished = true
	}
	return res, p, nil
}

// Done reports whether team has solved every round.
func (g *Game) Done(team TeamID) bool {
	t := g.Team(team)
	return t != nil && t.CurrentRoundIndex >= len(g.Rounds)
}

// playingTeam returns the team in slot id once the game is in progress.
func (g *Game) playingTeam(id TeamID) (*Team, error) {
	if g.Status != StatusInProgress {
		if g.Status == StatusFinished {
			return nil, ErrGameFinished
		}
		return nil, ErrInvalidStatus
	}
	t := g.Team(id)
	if t == nil {
		return nil, ErrUnknownTeam
	}
	return t, nil
}
