// internal/game/definition.go
//
// Game definitions: the JSON import/export format used by the authoring
// surface, and the one-time build step that turns a definition into a
// playable Game (answer normalization + random letter-slot binding).

package game

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"strings"
	"time"
)

// Definition is the exported/imported game format.
type Definition struct {
	Title          string            `json:"title"`
	TurnRestricted bool              `json:"turnRestricted,omitempty"`
	Rounds         []RoundDefinition `json:"rounds"`
}

// RoundDefinition is one authored round with its letter-question pool.
type RoundDefinition struct {
	MainQuestion    string           `json:"mainQuestion"`
	MainAnswer      string           `json:"mainAnswer"`
	LetterQuestions []PoolDefinition `json:"letterQuestions"`
}

// PoolDefinition is one authored letter question. Letter is informational;
// binding to slots is by shuffle, not by letter.
type PoolDefinition struct {
	Letter   string `json:"letter,omitempty"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ParseDefinition decodes a JSON definition.
func ParseDefinition(r io.Reader) (Definition, error) {
	var def Definition
	dec := json.NewDecoder(r)
	if err := dec.Decode(&def); err != nil {
		return Definition{}, &DefinitionError{Round: -1, Msg: err.Error()}
	}
	return def, nil
}

// Validate checks the shape of a definition without binding letters.
func (d Definition) Validate() error {
	if len(d.Rounds) == 0 {
		return &DefinitionError{Round: -1, Msg: "at least one round is required"}
	}
	for i, r := range d.Rounds {
		if strings.TrimSpace(r.MainQuestion) == "" {
			return &DefinitionError{Round: i, Msg: "main question is required"}
		}
		if !ValidMainAnswer(NormalizeAnswer(r.MainAnswer)) {
			return &DefinitionError{Round: i, Msg: "main answer may only contain letters, spaces and apostrophes"}
		}
		for j, q := range r.LetterQuestions {
			if strings.TrimSpace(q.Question) == "" || strings.TrimSpace(q.Answer) == "" {
				return &DefinitionError{Round: i, Msg: fmt.Sprintf("letter question %d needs a question and an answer", j+1)}
			}
		}
	}
	return nil
}

// BuildRounds validates d and binds every round's pool to its letter slots.
func (d Definition) BuildRounds(rng *mrand.Rand) ([]Round, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	rounds := make([]Round, len(d.Rounds))
	for i, rd := range d.Rounds {
		answer := NormalizeAnswer(rd.MainAnswer)
		pool := make([]LetterQuestion, len(rd.LetterQuestions))
		for j, q := range rd.LetterQuestions {
			pool[j] = LetterQuestion{Question: strings.TrimSpace(q.Question), Answer: strings.TrimSpace(q.Answer)}
		}
		bound, rest, err := AssignLetterQuestions(i, answer, pool, rng)
		if err != nil {
			return nil, err
		}
		rounds[i] = Round{
			MainQuestion:    strings.TrimSpace(rd.MainQuestion),
			MainAnswer:      answer,
			LetterQuestions: bound,
			Pool:            rest,
			CurrentPoints:   InitialRoundPoints,
			Status:          RoundActive,
		}
	}
	return rounds, nil
}

// New builds a lobby game from d. The code is assigned later by the caller.
func New(d Definition, creatorID string, now time.Time, rng *mrand.Rand) (*Game, error) {
	rounds, err := d.BuildRounds(rng)
	if err != nil {
		return nil, err
	}
	return &Game{
		Title:          strings.TrimSpace(d.Title),
		CreatorID:      creatorID,
		Rounds:         rounds,
		Status:         StatusLobby,
		TurnRestricted: d.TurnRestricted,
		CreatedAt:      now,
		LastActivityAt: now,
	}, nil
}

// Definition exports g back into the authoring format. Bound questions are
// listed in slot order followed by any unassigned pool entries.
func (g *Game) Definition() Definition {
	d := Definition{Title: g.Title, TurnRestricted: g.TurnRestricted, Rounds: make([]RoundDefinition, len(g.Rounds))}
	for i, r := range g.Rounds {
		rd := RoundDefinition{MainQuestion: r.MainQuestion, MainAnswer: r.MainAnswer}
		for _, k := range SlotKeys(r.MainAnswer) {
			if q, ok := r.LetterQuestions[k]; ok {
				rd.LetterQuestions = append(rd.LetterQuestions, PoolDefinition{Letter: SlotLetter(k), Question: q.Question, Answer: q.Answer})
			}
		}
		for _, q := range r.Pool {
			rd.LetterQuestions = append(rd.LetterQuestions, PoolDefinition{Question: q.Question, Answer: q.Answer})
		}
		d.Rounds[i] = rd
	}
	return d
}

// ReplaceRounds swaps the rounds of a lobby game. rounds must already be bound.
func (g *Game) ReplaceRounds(title string, rounds []Round, now time.Time) (Patch, error) {
	if g.Status != StatusLobby {
		return nil, ErrGameNotJoinable
	}
	g.Title = strings.TrimSpace(title)
	g.Rounds = rounds
	g.CurrentRoundIndex = 0
	g.LastActivityAt = now
	p := Patch{"title": g.Title, "rounds": rounds, "currentRoundIndex": 0}
	p.touch(now)
	return p, nil
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// CodeLength is the length of a game code.
const CodeLength = 4

// NewCode returns a random game code drawn from [A-Z0-9].
func NewCode() string {
	var b [CodeLength]byte
	_, _ = rand.Read(b[:])
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b[:])
}

// NormalizeCode uppercases and trims a user-entered code.
func NormalizeCode(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
