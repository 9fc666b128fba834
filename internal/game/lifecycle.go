// internal/game/lifecycle.go
//
// Game lifecycle state machine.
//
//	lobby → in_progress ⇄ paused
//	{lobby, in_progress, paused} → finished (terminal)
//
// Admin checks live in the caller; these rules only guard state.

package game

import "time"

// Start moves a lobby game into play.
func (g *Game) Start(now time.Time) (Patch, error) {
	switch g.Status {
	case StatusFinished:
		return nil, ErrGameFinished
	case StatusLobby:
	default:
		return nil, ErrGameNotJoinable
	}
	g.Status = StatusInProgress
	g.StartedAt = &now
	g.LastActivityAt = now
	p := Patch{"status": g.Status, "startedAt": now}
	if g.TurnRestricted && g.CurrentTurn == "" {
		g.CurrentTurn = Team1
		p["currentTurn"] = g.CurrentTurn
	}
	p.touch(now)
	return p, nil
}

// Pause suspends an in-progress game. Pausing a finished or already
// paused game is a no-op.
func (g *Game) Pause(now time.Time) (Patch, error) {
	switch g.Status {
	case StatusFinished, StatusPaused:
		return nil, nil
	case StatusInProgress:
	default:
		return nil, ErrInvalidStatus
	}
	g.Status = StatusPaused
	g.LastActivityAt = now
	p := Patch{"status": g.Status}
	p.touch(now)
	return p, nil
}

// Resume continues a paused game. Resuming a finished or running game is a no-op.
func (g *Game) Resume(now time.Time) (Patch, error) {
	switch g.Status {
	case StatusFinished, StatusInProgress:
		return nil, nil
	case StatusPaused:
	default:
		return nil, ErrInvalidStatus
	}
	g.Status = StatusInProgress
	g.LastActivityAt = now
	p := Patch{"status": g.Status}
	p.touch(now)
	return p, nil
}

// SkipRound advances the master round pointer, finishing the game when it
// is already on the last round. Team progress pointers are untouched.
func (g *Game) SkipRound(now time.Time) (Patch, error) {
	if g.Status == StatusFinished {
		return nil, ErrGameFinished
	}
	if g.CurrentRoundIndex >= len(g.Rounds)-1 {
		p := g.finish(g.leader(), now)
		return p, nil
	}
	g.CurrentRoundIndex++
	g.LastActivityAt = now
	p := Patch{"currentRoundIndex": g.CurrentRoundIndex}
	p.touch(now)
	return p, nil
}

// Forfeit ends the game with team conceding; the other slot wins when
// it is occupied.
func (g *Game) Forfeit(team TeamID, now time.Time) (Patch, error) {
	if !team.Valid() {
		return nil, ErrUnknownTeam
	}
	if g.Status == StatusFinished {
		return nil, ErrGameFinished
	}
	if g.Team(team) == nil {
		return nil, ErrUnknownTeam
	}
	g.ForfeitedBy = team
	// nobody holds the other slot before a lobby game fills up
	winner := team.Other()
	if g.Team(winner) == nil {
		winner = ""
	}
	p := g.finish(winner, now)
	p["forfeitedBy"] = team
	return p, nil
}

// Disqualify has the same effect as Forfeit but is admin-initiated.
func (g *Game) Disqualify(team TeamID, now time.Time) (Patch, error) {
	return g.Forfeit(team, now)
}

// Finalize finishes the game once both teams have solved every round.
// It returns nil when nothing changes.
func (g *Game) Finalize(now time.Time) Patch {
	if g.Status == StatusFinished || !g.Done(Team1) || !g.Done(Team2) {
		return nil
	}
	return g.finish(g.leader(), now)
}

// Expire finishes an abandoned lobby or paused game without a winner.
// Games in play are never expired.
func (g *Game) Expire(now time.Time) Patch {
	if g.Status != StatusLobby && g.Status != StatusPaused {
		return nil
	}
	return g.finish("", now)
}

// leader returns the team with the higher score, or "" on a draw.
func (g *Game) leader() TeamID {
	switch {
	case g.Team1 == nil && g.Team2 == nil:
		return ""
	case g.Team2 == nil:
		return Team1
	case g.Team1 == nil:
		return Team2
	case g.Team1.Score > g.Team2.Score:
		return Team1
	case g.Team2.Score > g.Team1.Score:
		return Team2
	}
	return ""
}

func (g *Game) finish(winner TeamID, now time.Time) Patch {
	g.Status = StatusFinished
	g.Winner = winner
	g.FinishedAt = &now
	g.LastActivityAt = now
	p := Patch{"status": g.Status, "finishedAt": now}
	if winner != "" {
		p["winner"] = winner
	}
	p.touch(now)
	return p
}
