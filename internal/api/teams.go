/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/friendsincode/jukebox/internal/jukebox"
)

const (
	teamsCommandPrefix = "play "
	teamsDefaultUser   = "Teams User"
)

type teamsHookRequest struct {
	Text string `json:"text"`
	User string `json:"user"`
}

type teamsHookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// handleTeamsHook accepts chat messages such as {"text":"play despacito",
// "user":"Vijay"} from a bot relay.
func (a *API) handleTeamsHook(w http.ResponseWriter, r *http.Request) {
	var req teamsHookRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeJSON(w, http.StatusOK, teamsHookResponse{Status: "ignored", Reason: "no text"})
		return
	}
	if !strings.HasPrefix(strings.ToLower(text), teamsCommandPrefix) {
		writeJSON(w, http.StatusOK, teamsHookResponse{Status: "ignored", Reason: "command not recognized"})
		return
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		user = teamsDefaultUser
	}
	query := strings.TrimSpace(text[len(teamsCommandPrefix):])

	res, err := a.jukebox.Enqueue(r.Context(), query, user)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, teamsHookResponse{Status: "success", Message: "Queued: " + res.Track.Title})
	case errors.Is(err, jukebox.ErrNotFound), errors.Is(err, jukebox.ErrInvalidInput):
		writeJSON(w, http.StatusOK, teamsHookResponse{Status: "failed", Message: "Could not find song"})
	default:
		a.logger.Error().Err(err).Str("user", user).Msg("teams hook failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
