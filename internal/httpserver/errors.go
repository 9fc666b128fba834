package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/robalobadob/timeline/internal/game"
	"github.com/robalobadob/timeline/internal/play"
	"github.com/robalobadob/timeline/internal/store"
)

var errNotYourTeam = errors.New("you did not join as that team")

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, code, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: code, Message: msg})
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		defErr  *game.DefinitionError
		poolErr *game.InsufficientQuestionPoolError
	)
	status, code, msg := http.StatusInternalServerError, "internal", "something went wrong"
	switch {
	case errors.Is(err, game.ErrNotAdmin), errors.Is(err, errNotYourTeam):
		status, code, msg = http.StatusForbidden, "forbidden", err.Error()
	case errors.Is(err, game.ErrNotFound):
		status, code, msg = http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, game.ErrPreconditionFailed):
		status, code, msg = http.StatusConflict, "precondition_failed", err.Error()
	case errors.As(err, &defErr), errors.As(err, &poolErr):
		status, code, msg = http.StatusBadRequest, "invalid_definition", err.Error()
	case errors.Is(err, store.ErrConflict), errors.Is(err, play.ErrNoFreeCode):
		status, code, msg = http.StatusServiceUnavailable, "conflict", "the game is busy, try again"
	}
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}
