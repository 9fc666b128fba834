// internal/mirror/session.go
//
// Client-side game mirror for one team.
// Responsibilities:
//   - Keep a local copy of the game in sync with the store subscription.
//   - Apply the team's actions to the local copy immediately and commit
//     them in the background through the play service.
//   - Run the live point decay of the team's current round.
//
// Notes:
//   - The local copy is only rebased onto a pushed document when no write
//     is in flight; pushes that arrive mid-write are applied once it settles.
//   - A failed write rolls the local copy back to the last pushed document
//     and reports a *SyncError. Locally decayed points survive the rollback.

package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/timeline/internal/game"
	"github.com/robalobadob/timeline/internal/play"
)

var ErrClosed = errors.New("mirror session closed")

// SyncError reports a background write that the store rejected.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string { return fmt.Sprintf("sync %s: %v", e.Op, e.Err) }
func (e *SyncError) Unwrap() error { return e.Err }

// Option configures a Session.
type Option func(*Session)

// WithDecayInterval overrides game.PointsDecrementInterval for the local ticker.
func WithDecayInterval(d time.Duration) Option { return func(s *Session) { s.interval = d } }

// OnChange registers fn to receive a copy of the local game after every
// change. fn must not call Session actions synchronously.
func OnChange(fn func(*game.Game)) Option { return func(s *Session) { s.onChange = fn } }

// OnError registers fn to receive rejected background writes.
func OnError(fn func(error)) Option { return func(s *Session) { s.onError = fn } }

// Session mirrors one game for one team. An empty team opens a read-only
// session (admin dashboards, spectators) that never decays points.
type Session struct {
	svc      *play.Service
	code     string
	team     game.TeamID
	interval time.Duration
	onChange func(*game.Game)
	onError  func(error)

	mu         sync.Mutex
	server     *game.Game // last pushed document
	local      *game.Game // server plus in-flight local changes
	pending    int
	stale      bool // a push arrived while writes were pending
	finalizing bool
	closed     bool

	notifyMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()
	stop   chan struct{}
	ticker sync.WaitGroup
	writes sync.WaitGroup
}

// Open loads the game, subscribes to it and starts the decay ticker.
func Open(ctx context.Context, svc *play.Service, code string, team game.TeamID, opts ...Option) (*Session, error) {
	code = game.NormalizeCode(code)
	g, err := svc.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if team != "" && g.Team(team) == nil {
		return nil, game.ErrUnknownTeam
	}

	s := &Session{
		svc:      svc,
		code:     code,
		team:     team,
		interval: game.PointsDecrementInterval,
		server:   g,
		local:    g.Clone(),
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	unsub, err := svc.Subscribe(s.ctx, code, s.receive)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.unsub = unsub

	if team != "" && s.interval > 0 {
		s.ticker.Add(1)
		go s.decayLoop()
	}
	return s, nil
}

// Code returns the game code.
func (s *Session) Code() string { return s.code }

// Team returns the mirrored team slot.
func (s *Session) Team() game.TeamID { return s.team }

// Game returns a copy of the local game.
func (s *Session) Game() *game.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local.Clone()
}

// Authoritative returns a copy of the last pushed document.
func (s *Session) Authoritative() *game.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server.Clone()
}

// Pending returns the number of writes still in flight.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Wait blocks until every in-flight write has settled.
func (s *Session) Wait() { s.writes.Wait() }

// Close stops the subscription and the ticker and waits for in-flight
// writes. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.unsub()
	close(s.stop)
	s.ticker.Wait()
	s.writes.Wait()
	s.cancel()
}

// RevealLetter answers the letter question bound to slot in roundIndex.
func (s *Session) RevealLetter(roundIndex int, slot, answer string) (game.RevealResult, error) {
	var res game.RevealResult
	err := s.apply("reveal", func(g *game.Game, now time.Time) (game.Patch, error) {
		r, p, err := g.RevealLetter(s.team, roundIndex, slot, answer, now)
		res = r
		return p, err
	}, func(ctx context.Context) error {
		_, err := s.svc.RevealLetter(ctx, s.code, s.team, roundIndex, slot, answer)
		return err
	})
	return res, err
}

// SubmitMainAnswer answers the main riddle of the team's current round.
// The live local points are sent along so the award matches what the
// team saw.
func (s *Session) SubmitMainAnswer(answer string) (game.SubmitResult, error) {
	var (
		res game.SubmitResult
		sub game.Submission
	)
	err := s.apply("submit", func(g *game.Game, now time.Time) (game.Patch, error) {
		t := g.Team(s.team)
		if t == nil {
			return nil, game.ErrUnknownTeam
		}
		sub = game.Submission{Team: s.team, RoundIndex: t.CurrentRoundIndex, Answer: answer}
		if ri := t.CurrentRoundIndex; ri < len(g.Rounds) {
			live := g.Rounds[ri].CurrentPoints
			sub.LivePoints = &live
		}
		r, p, err := g.SubmitMainAnswer(sub, now)
		res = r
		return p, err
	}, func(ctx context.Context) error {
		_, err := s.svc.SubmitMainAnswer(ctx, s.code, sub)
		return err
	})
	return res, err
}

// Forfeit concedes the game for the team.
func (s *Session) Forfeit() error {
	return s.apply("forfeit", func(g *game.Game, now time.Time) (game.Patch, error) {
		return g.Forfeit(s.team, now)
	}, func(ctx context.Context) error {
		return s.svc.Forfeit(ctx, s.code, s.team)
	})
}

// apply runs rule against the local game. Rule errors are returned as-is;
// a non-empty patch is committed in the background.
func (s *Session) apply(op string, rule func(*game.Game, time.Time) (game.Patch, error), commit func(context.Context) error) error {
	if s.team == "" {
		return game.ErrUnknownTeam
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	p, err := rule(s.local, s.svc.Now())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if len(p) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.pending++
	s.writes.Add(1)
	s.mu.Unlock()
	s.notify()

	go func() {
		defer s.writes.Done()
		s.settle(op, commit(s.ctx))
	}()
	return nil
}

func (s *Session) settle(op string, err error) {
	s.mu.Lock()
	s.pending--
	if err != nil {
		s.rebase()
		s.stale = false
	} else if s.pending == 0 && s.stale {
		s.rebase()
		s.stale = false
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		serr := &SyncError{Op: op, Err: err}
		log.Warn().Err(err).Str("code", s.code).Str("team", string(s.team)).Str("op", op).Msg("mirror write rejected, rolled back")
		if s.onError != nil {
			s.onError(serr)
		}
	}
}

func (s *Session) receive(g *game.Game) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.server = g
	if s.pending == 0 {
		s.rebase()
	} else {
		s.stale = true
	}
	finalize := !s.finalizing && g.Status != game.StatusFinished && g.Done(game.Team1) && g.Done(game.Team2)
	if finalize {
		s.finalizing = true
		s.writes.Add(1)
	}
	s.mu.Unlock()
	s.notify()

	if finalize {
		go func() {
			defer s.writes.Done()
			if _, err := s.svc.Finalize(s.ctx, s.code); err != nil {
				log.Warn().Err(err).Str("code", s.code).Msg("finalize game")
			}
			s.mu.Lock()
			s.finalizing = false
			s.mu.Unlock()
		}()
	}
}

// rebase replaces the local game with the last pushed document, keeping
// any points the local ticker already decayed. Callers hold s.mu.
func (s *Session) rebase() {
	next := s.server.Clone()
	if s.local != nil && next.Status != game.StatusLobby {
		for i := range next.Rounds {
			if i < len(s.local.Rounds) {
				next.Rounds[i].CurrentPoints = min(next.Rounds[i].CurrentPoints, s.local.Rounds[i].CurrentPoints)
			}
		}
	}
	s.local = next
}

func (s *Session) decayLoop() {
	defer s.ticker.Done()
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			if s.tick() {
				s.notify()
			}
		}
	}
}

// tick decays the round the team is working on. Points are kept per round
// index, so both teams decay the same round value while on that round.
func (s *Session) tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local.Status != game.StatusInProgress {
		return false
	}
	t := s.local.Team(s.team)
	if t == nil || t.CurrentRoundIndex >= len(s.local.Rounds) {
		return false
	}
	r := &s.local.Rounds[t.CurrentRoundIndex]
	next := game.Decay(r.CurrentPoints)
	if next == r.CurrentPoints {
		return false
	}
	r.CurrentPoints = next
	return true
}

// notify hands the current local game to onChange. notifyMu keeps
// deliveries in order across goroutines.
func (s *Session) notify() {
	if s.onChange == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.onChange(s.Game())
}
