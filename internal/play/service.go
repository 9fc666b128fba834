// internal/play/service.go
//
// Transactional game service.
// Every operation reads the canonical game document inside a store
// transaction, applies the matching rule from the game package and writes
// back only the fields that rule touched.
//
// Notes:
//   - Transaction bodies can run more than once. Anything random (letter
//     binding, code generation) happens before the body, not inside it.
//   - Admin operations compare the caller's uid against game.CreatorID.

package play

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/timeline/internal/game"
	"github.com/robalobadob/timeline/internal/store"
)

// Collection holds one document per game, keyed by game code.
const Collection = "games"

// codeAttempts bounds how many fresh codes Create tries before giving up.
const codeAttempts = 10

var ErrNoFreeCode = errors.New("could not allocate a free game code")

var policy = bluemonday.StrictPolicy()

// Service runs game operations against a document store.
type Service struct {
	store   store.Store
	now     func() time.Time
	rng     *rand.Rand
	newCode func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRand sets the source used to shuffle letter questions.
func WithRand(r *rand.Rand) Option { return func(s *Service) { s.rng = r } }

// WithCodeGenerator replaces game.NewCode.
func WithCodeGenerator(fn func() string) Option { return func(s *Service) { s.newCode = fn } }

// New constructs a Service.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, now: func() time.Time { return time.Now().UTC() }, newCode: game.NewCode}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Store exposes the underlying store.
func (s *Service) Store() store.Store { return s.store }

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }

// Sanitize strips markup from user-provided text. The result is plain
// text; entities escaped by the policy are decoded again.
func Sanitize(in string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(in)))
}

func decode(doc store.Document) (*game.Game, error) {
	var g game.Game
	if err := store.Decode(doc, &g); err != nil {
		return nil, fmt.Errorf("decode game: %w", err)
	}
	return &g, nil
}

func mapErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return game.ErrGameNotFound
	}
	return err
}

// Get loads a game.
func (s *Service) Get(ctx context.Context, code string) (*game.Game, error) {
	doc, err := s.store.Get(ctx, Collection, game.NormalizeCode(code))
	if err != nil {
		return nil, mapErr(err)
	}
	return decode(doc)
}

// Subscribe calls fn with every committed version of the game.
func (s *Service) Subscribe(ctx context.Context, code string, fn func(*game.Game)) (func(), error) {
	code = game.NormalizeCode(code)
	return s.store.Subscribe(ctx, Collection, code, func(doc store.Document) {
		g, err := decode(doc)
		if err != nil {
			log.Warn().Err(err).Str("code", code).Msg("skipping undecodable game push")
			return
		}
		fn(g)
	})
}

// mutate runs rule against the current game inside a transaction and
// writes the returned patch. It returns the game as the rule left it.
func (s *Service) mutate(ctx context.Context, code string, rule func(g *game.Game, now time.Time) (game.Patch, error)) (*game.Game, error) {
	code = game.NormalizeCode(code)
	var out *game.Game
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		doc, err := tx.Get(ctx, Collection, code)
		if err != nil {
			return mapErr(err)
		}
		g, err := decode(doc)
		if err != nil {
			return err
		}
		p, err := rule(g, s.now())
		if err != nil {
			return err
		}
		if len(p) > 0 {
			tx.Update(Collection, code, p)
		}
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Create builds a game from def and stores it under a fresh code.
func (s *Service) Create(ctx context.Context, creatorID string, def game.Definition) (*game.Game, error) {
	def.Title = Sanitize(def.Title)
	g, err := game.New(def, creatorID, s.now(), s.rng)
	if err != nil {
		return nil, err
	}

	for i := 0; i < codeAttempts; i++ {
		code := s.newCode()
		taken := false
		err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.Get(ctx, Collection, code); err == nil {
				taken = true
				return nil
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			taken = false
			g.ID = code
			doc, err := store.Encode(g)
			if err != nil {
				return err
			}
			tx.Set(Collection, code, doc)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if !taken {
			log.Info().Str("code", code).Str("creator", creatorID).Int("rounds", len(g.Rounds)).Msg("game created")
			return g, nil
		}
		log.Debug().Str("code", code).Msg("game code taken, retrying")
	}
	return nil, ErrNoFreeCode
}

// Join assigns name to a team slot; see game.Game.Join.
func (s *Service) Join(ctx context.Context, code, name, playerID string) (game.TeamID, error) {
	name = Sanitize(name)
	var slot game.TeamID
	_, err := s.mutate(ctx, code, func(g *game.Game, now time.Time) (game.Patch, error) {
		id, p, err := g.Join(name, playerID, now)
		slot = id
		return p, err
	})
	if err != nil {
		return "", err
	}
	return slot, nil
}

// RevealLetter answers a letter question for team.
func (s *Service) RevealLetter(ctx context.Context, code string, team game.TeamID, roundIndex int, slot, answer string) (game.RevealResult, error) {
	var res game.RevealResult
	_, err := s.mutate(ctx, code, func(g *game.Game, now time.Time) (game.Patch, error) {
		r, p, err := g.RevealLetter(team, roundIndex, slot, answer, now)
		res = r
		return p, err
	})
	return res, err
}

// SubmitMainAnswer answers the main riddle of a round for sub.Team.
func (s *Service) SubmitMainAnswer(ctx context.Context, code string, sub game.Submission) (game.SubmitResult, error) {
	var res game.SubmitResult
	_, err := s.mutate(ctx, code, func(g *game.Game, now time.Time) (game.Patch, error) {
		r, p, err := g.SubmitMainAnswer(sub, now)
		res = r
		return p, err
	})
	return res, err
}

// Forfeit concedes the game for team.
func (s *Service) Forfeit(ctx context.Context, code string, team game.TeamID) error {
	_, err := s.mutate(ctx, code, func(g *game.Game, now time.Time) (game.Patch, error) {
		return g.Forfeit(team, now)
	})
	return err
}

// Finalize finishes the game if both teams have solved every round.
func (s *Service) Finalize(ctx context.Context, code string) (*game.Game, error) {
	return s.mutate(ctx, code, func(g *game.Game, now time.Time) (game.Patch, error) {
		return g.Finalize(now), nil
	})
}

func admin(uid string, rule func(g *game.Game, now time.Time) (game.Patch, error)) func(*game.Game, time.Time) (game.Patch, error) {
	return func(g *game.Game, now time.Time) (game.Patch, error) {
		if !g.IsAdmin(uid) {
			return nil, game.ErrNotAdmin
		}
		return rule(g, now)
	}
}

// Start moves a lobby game into play.
func (s *Service) Start(ctx context.Context, code, uid string) (*game.Game, error) {
	return s.mutate(ctx, code, admin(uid, (*game.Game).Start))
}

// SkipRound advances the master round pointer.
func (s *Service) SkipRound(ctx context.Context, code, uid string) (*game.Game, error) {
	return s.mutate(ctx, code, admin(uid, (*game.Game).SkipRound))
}

// Disqualify ends the game against team.
func (s *Service) Disqualify(ctx context.Context, code, uid string, team game.TeamID) (*game.Game, error) {
	return s.mutate(ctx, code, admin(uid, func(g *game.Game, now time.Time) (game.Patch, error) {
		return g.Disqualify(team, now)
	}))
}

// Pause suspends play. The status check and the write share one
// transaction, so a game finished concurrently stays finished.
func (s *Service) Pause(ctx context.Context, code, uid string) (*game.Game, error) {
	return s.mutate(ctx, code, admin(uid, (*game.Game).Pause))
}

// Resume continues a paused game.
func (s *Service) Resume(ctx context.Context, code, uid string) (*game.Game, error) {
	return s.mutate(ctx, code, admin(uid, (*game.Game).Resume))
}

// ReplaceRounds swaps the rounds of a lobby game with a new definition.
func (s *Service) ReplaceRounds(ctx context.Context, code, uid string, def game.Definition) (*game.Game, error) {
	rounds, err := def.BuildRounds(s.rng)
	if err != nil {
		return nil, err
	}
	title := Sanitize(def.Title)
	return s.mutate(ctx, code, admin(uid, func(g *game.Game, now time.Time) (game.Patch, error) {
		return g.ReplaceRounds(title, rounds, now)
	}))
}

// ExpireStale finishes every lobby or paused game idle for longer than maxIdle.
// It returns how many games were expired.
func (s *Service) ExpireStale(ctx context.Context, maxIdle time.Duration) (int, error) {
	ids, err := s.store.List(ctx, Collection)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		changed := false
		_, err := s.mutate(ctx, id, func(g *game.Game, now time.Time) (game.Patch, error) {
			changed = false
			if now.Sub(g.LastActivityAt) < maxIdle {
				return nil, nil
			}
			p := g.Expire(now)
			changed = len(p) > 0
			return p, nil
		})
		if err != nil {
			log.Warn().Err(err).Str("code", id).Msg("expire game")
			continue
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}
