// internal/game/types.go
//
// Core type definitions for the TimeLine game engine.
// Defines:
//   - Status: game lifecycle state (lobby/in_progress/paused/finished).
//   - TeamID: the two team slots ("team1"/"team2").
//   - Round, Team, Game: the persisted game document shape.
//   - Patch: field-path updates produced by every rule in this package.

package game

import "time"

// Status is the lifecycle state of a game.
type Status string

const (
	StatusLobby      Status = "lobby"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusFinished   Status = "finished"
)

// TeamID names one of the two team slots of a game.
type TeamID string

const (
	Team1 TeamID = "team1"
	Team2 TeamID = "team2"
)

// Other returns the opposing slot.
func (t TeamID) Other() TeamID {
	if t == Team1 {
		return Team2
	}
	return Team1
}

// Valid reports whether t is one of the two slots.
func (t TeamID) Valid() bool { return t == Team1 || t == Team2 }

// RoundStatus is legacy round-level bookkeeping; per-team progress is authoritative.
type RoundStatus string

const (
	RoundActive    RoundStatus = "active"
	RoundCompleted RoundStatus = "completed"
)

// LetterQuestion is a question whose answer reveals one letter slot.
type LetterQuestion struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Round is one riddle of a game. LetterQuestions is keyed by letter-slot key.
type Round struct {
	MainQuestion    string                    `json:"mainQuestion"`
	MainAnswer      string                    `json:"mainAnswer"`
	LetterQuestions map[string]LetterQuestion `json:"letterQuestions"`
	Pool            []LetterQuestion          `json:"unassignedLetterQuestions,omitempty"`
	CurrentPoints   int                       `json:"currentPoints"`
	Status          RoundStatus               `json:"status"`
	Winner          TeamID                    `json:"winner,omitempty"`
}

// Team is one joined slot. RevealedLetters maps round index to the
// letter-slot keys this team revealed for that round, in reveal order.
type Team struct {
	Name              string           `json:"name"`
	PlayerID          string           `json:"playerId,omitempty"`
	Score             int              `json:"score"`
	CurrentRoundIndex int              `json:"currentRoundIndex"`
	RevealedLetters   map[int][]string `json:"revealedLetters"`
}

// CompletedRound reports whether this team has already solved round i.
func (t *Team) CompletedRound(i int) bool { return t.CurrentRoundIndex > i }

// Revealed reports whether the slot key was revealed by this team in round i.
func (t *Team) Revealed(i int, key string) bool {
	for _, k := range t.RevealedLetters[i] {
		if k == key {
			return true
		}
	}
	return false
}

// Game is the single shared document of a session, keyed by its 4-character code.
type Game struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	CreatorID         string     `json:"creatorId"`
	Rounds            []Round    `json:"rounds"`
	CurrentRoundIndex int        `json:"currentRoundIndex"`
	Status            Status     `json:"status"`
	Team1             *Team      `json:"team1,omitempty"`
	Team2             *Team      `json:"team2,omitempty"`
	ForfeitedBy       TeamID     `json:"forfeitedBy,omitempty"`
	Winner            TeamID     `json:"winner,omitempty"`
	TurnRestricted    bool       `json:"turnRestricted,omitempty"`
	CurrentTurn       TeamID     `json:"currentTurn,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	FinishedAt        *time.Time `json:"finishedAt,omitempty"`
	LastActivityAt    time.Time  `json:"lastActivityAt"`
}

// Team returns the team in slot id, or nil if the slot is empty.
func (g *Game) Team(id TeamID) *Team {
	switch id {
	case Team1:
		return g.Team1
	case Team2:
		return g.Team2
	}
	return nil
}

// IsAdmin reports whether uid created this game.
func (g *Game) IsAdmin(uid string) bool { return uid != "" && uid == g.CreatorID }

// Patch maps dot-separated field paths to their new values.
// Rules mutate the in-memory Game and describe the same change as a Patch
// so the store can apply it without overwriting sibling fields.
type Patch map[string]any

func (p Patch) touch(now time.Time) { p["lastActivityAt"] = now }

// Clone returns a deep copy of g.
func (g *Game) Clone() *Game {
	c := *g
	c.Rounds = make([]Round, len(g.Rounds))
	for i, r := range g.Rounds {
		c.Rounds[i] = r.clone()
	}
	c.Team1 = g.Team1.clone()
	c.Team2 = g.Team2.clone()
	if g.StartedAt != nil {
		t := *g.StartedAt
		c.StartedAt = &t
	}
	if g.FinishedAt != nil {
		t := *g.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func (r Round) clone() Round {
	c := r
	if r.LetterQuestions != nil {
		c.LetterQuestions = make(map[string]LetterQuestion, len(r.LetterQuestions))
		for k, v := range r.LetterQuestions {
			c.LetterQuestions[k] = v
		}
	}
	if r.Pool != nil {
		c.Pool = append([]LetterQuestion(nil), r.Pool...)
	}
	return c
}

func (t *Team) clone() *Team {
	if t == nil {
		return nil
	}
	c := *t
	if t.RevealedLetters != nil {
		c.RevealedLetters = make(map[int][]string, len(t.RevealedLetters))
		for k, v := range t.RevealedLetters {
			c.RevealedLetters[k] = append([]string(nil), v...)
		}
	}
	return &c
}
