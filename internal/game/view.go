package game

// Public returns a copy of g with every answer blanked, for participants
// and spectators that are not the creator.
func (g *Game) Public() *Game {
	c := g.Clone()
	for i := range c.Rounds {
		r := &c.Rounds[i]
		r.MainAnswer = ""
		for k, q := range r.LetterQuestions {
			q.Answer = ""
			r.LetterQuestions[k] = q
		}
		for j := range r.Pool {
			r.Pool[j].Answer = ""
		}
	}
	return c
}
