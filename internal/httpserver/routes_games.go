// internal/httpserver/routes_games.go
//
// Game endpoints.
//
// Endpoints:
//   - POST /auth/anonymous          → { uid, token, expiresAt } + session cookie
//   - POST /games                   → create from a definition   (auth)
//   - GET  /games/{code}            → game view (answers hidden unless admin)
//   - POST /games/{code}/join       → { team }
//   - POST /games/{code}/reveal     → RevealResult
//   - POST /games/{code}/answer     → SubmitResult
//   - POST /games/{code}/forfeit    → game view
//   - GET  /games/{code}/export     → definition JSON            (admin)
//   - POST /games/{code}/start|pause|resume|skip|disqualify       (admin)
//   - PUT  /games/{code}/rounds     → replace rounds in lobby    (admin)

package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/robalobadob/timeline/internal/game"
	"github.com/robalobadob/timeline/internal/identity"
)

type signInRes struct {
	UID       string    `json:"uid"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type createRes struct {
	Code string     `json:"code"`
	Game *game.Game `json:"game"`
}

type joinReq struct {
	Name string `json:"name"`
}
type joinRes struct {
	Team game.TeamID `json:"team"`
}

type revealReq struct {
	Team       game.TeamID `json:"team"`
	RoundIndex int         `json:"roundIndex"`
	Slot       string      `json:"slot"`
	Answer     string      `json:"answer"`
}

type teamReq struct {
	Team game.TeamID `json:"team"`
}

func code(r *http.Request) string { return game.NormalizeCode(chi.URLParam(r, "code")) }

// view hides answers from everyone but the game creator.
func view(g *game.Game, uid string) *game.Game {
	if g.IsAdmin(uid) {
		return g
	}
	return g.Public()
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "bad_json", err.Error())
		return false
	}
	return true
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	u, tok, exp, err := s.iss.SignInAnonymously(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	identity.SetCookie(w, tok, exp, s.opts.SecureCookies)
	writeJSON(w, http.StatusOK, signInRes{UID: u.UID, Token: tok, ExpiresAt: exp})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	def, err := game.ParseDefinition(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.svc.Create(r.Context(), identity.UID(r.Context()), def)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createRes{Code: g.ID, Game: g})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	g, err := s.svc.Get(r.Context(), code(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(g, identity.UID(r.Context())))
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinReq
	if !decodeBody(w, r, &req) {
		return
	}
	team, err := s.svc.Join(r.Context(), code(r), req.Name, identity.UID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, joinRes{Team: team})
}

// authorizeTeam rejects callers acting for a slot someone else joined.
// Slots joined without a session are open to anyone holding the code.
func (s *Server) authorizeTeam(ctx context.Context, c string, team game.TeamID) error {
	g, err := s.svc.Get(ctx, c)
	if err != nil {
		return err
	}
	t := g.Team(team)
	if t == nil {
		return game.ErrUnknownTeam
	}
	if t.PlayerID != "" && t.PlayerID != identity.UID(ctx) {
		return errNotYourTeam
	}
	return nil
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	var req revealReq
	if !decodeBody(w, r, &req) {
		return
	}
	c := code(r)
	if err := s.authorizeTeam(r.Context(), c, req.Team); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.svc.RevealLetter(r.Context(), c, req.Team, req.RoundIndex, req.Slot, req.Answer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleAnswer submits a main answer. Decay runs in the client, so the
// optional "points" field is the value the team saw; it can only lower
// the award. Without it the stored round value is awarded as-is.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var sub game.Submission
	if !decodeBody(w, r, &sub) {
		return
	}
	c := code(r)
	if err := s.authorizeTeam(r.Context(), c, sub.Team); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.svc.SubmitMainAnswer(r.Context(), c, sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleForfeit(w http.ResponseWriter, r *http.Request) {
	var req teamReq
	if !decodeBody(w, r, &req) {
		return
	}
	c := code(r)
	if err := s.authorizeTeam(r.Context(), c, req.Team); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Forfeit(r.Context(), c, req.Team); err != nil {
		writeError(w, r, err)
		return
	}
	s.respondGame(w, r, c)
}

func (s *Server) respondGame(w http.ResponseWriter, r *http.Request, c string) {
	g, err := s.svc.Get(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(g, identity.UID(r.Context())))
}

// ------------------------------- ADMIN -------------------------------------

func (s *Server) adminAction(op func(ctx context.Context, code, uid string) (*game.Game, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := op(r.Context(), code(r), identity.UID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	}
}

func (s *Server) handleDisqualify(w http.ResponseWriter, r *http.Request) {
	var req teamReq
	if !decodeBody(w, r, &req) {
		return
	}
	g, err := s.svc.Disqualify(r.Context(), code(r), identity.UID(r.Context()), req.Team)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleReplaceRounds(w http.ResponseWriter, r *http.Request) {
	def, err := game.ParseDefinition(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.svc.ReplaceRounds(r.Context(), code(r), identity.UID(r.Context()), def)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	g, err := s.svc.Get(r.Context(), code(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !g.IsAdmin(identity.UID(r.Context())) {
		writeError(w, r, game.ErrNotAdmin)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="timeline-`+g.ID+`.json"`)
	writeJSON(w, http.StatusOK, g.Definition())
}
