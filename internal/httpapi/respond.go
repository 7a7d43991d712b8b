package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/CristianFreitas/maple-story-party/internal/buff"
	"github.com/CristianFreitas/maple-story-party/internal/model"
	"github.com/CristianFreitas/maple-story-party/internal/remote"
	"github.com/CristianFreitas/maple-story-party/internal/session"
	"github.com/CristianFreitas/maple-story-party/internal/synccode"
)

// envelope mirrors the backend's response shape so the UI speaks one dialect
// whether it talks to us or through us.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: err.Error()})
}

func respondBadRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidProfile),
		errors.Is(err, model.ErrInvalidParty),
		errors.Is(err, model.ErrInvalidBuff):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrPartyNotFound),
		errors.Is(err, buff.ErrScheduleNotFound),
		errors.Is(err, synccode.ErrCodeNotFound),
		errors.Is(err, remote.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, synccode.ErrCodeExpired):
		return http.StatusGone
	case errors.Is(err, session.ErrNoProfile),
		errors.Is(err, session.ErrPartyFull),
		errors.Is(err, session.ErrAlreadyMember),
		errors.Is(err, session.ErrNotMember),
		errors.Is(err, session.ErrNotHost),
		errors.Is(err, buff.ErrAlreadyScheduled),
		errors.Is(err, buff.ErrDuplicateVote),
		errors.Is(err, buff.ErrNotOwner),
		errors.Is(err, remote.ErrRejected):
		return http.StatusConflict
	case errors.Is(err, session.ErrRemoteRequired),
		errors.Is(err, remote.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
