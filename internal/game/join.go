package game

import (
	"strings"
	"time"
)

// Join assigns a participant to the first free slot. A name that already
// matches a slot is a reconnect and returns that slot with a nil Patch.
// Filling team2 starts the game in the same Patch.
func (g *Game) Join(name, playerID string, now time.Time) (TeamID, Patch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, ErrInvalidName
	}
	for _, id := range []TeamID{Team1, Team2} {
		if t := g.Team(id); t != nil && strings.EqualFold(t.Name, name) {
			return id, nil, nil
		}
	}
	if g.Status != StatusLobby {
		return "", nil, ErrGameNotJoinable
	}

	var slot TeamID
	switch {
	case g.Team1 == nil:
		slot = Team1
	case g.Team2 == nil:
		slot = Team2
	default:
		return "", nil, ErrGameFull
	}

	t := &Team{Name: name, PlayerID: playerID, RevealedLetters: map[int][]string{}}
	if slot == Team1 {
		g.Team1 = t
	} else {
		g.Team2 = t
	}
	g.LastActivityAt = now
	p := Patch{string(slot): t.clone()}
	p.touch(now)

	if g.Team1 != nil && g.Team2 != nil {
		sp, err := g.Start(now)
		if err != nil {
			return "", nil, err
		}
		for k, v := range sp {
			p[k] = v
		}
	}
	return slot, p, nil
}
