// Package httpapi is the loopback surface the UI talks to: JSON endpoints
// over the session store, sync-code exchange, buff service and notification
// dispatcher, plus the websocket bridge for live state and party chat.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/CristianFreitas/maple-story-party/internal/buff"
	"github.com/CristianFreitas/maple-story-party/internal/model"
	"github.com/CristianFreitas/maple-story-party/internal/notify"
	"github.com/CristianFreitas/maple-story-party/internal/realtime"
	"github.com/CristianFreitas/maple-story-party/internal/session"
	"github.com/CristianFreitas/maple-story-party/internal/synccode"
)

// Server bundles the services the routes dispatch into.
type Server struct {
	Session *session.Store
	Sync    *synccode.Exchange
	Buffs   *buff.Service
	Chat    *realtime.Channel
	Notify  *notify.Dispatcher
	Feed    *ChatFeed
	Log     *zap.Logger
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// --- profile ---

type profileRequest struct {
	Name                string   `json:"name"`
	Level               int      `json:"level"`
	Job                 string   `json:"job"`
	Server              string   `json:"server"`
	FavoriteClasses     []string `json:"favoriteClasses"`
	PreferredDifficulty string   `json:"preferredDifficulty"`
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Session.Snapshot(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if snap.Profile == nil {
		respondError(w, session.ErrNoProfile)
		return
	}
	respondData(w, http.StatusOK, snap.Profile)
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "malformed profile payload")
		return
	}
	profile, err := s.Session.CreateProfile(r.Context(), session.ProfileInput{
		Name:                req.Name,
		Level:               req.Level,
		Job:                 req.Job,
		Server:              req.Server,
		FavoriteClasses:     req.FavoriteClasses,
		PreferredDifficulty: model.Difficulty(req.PreferredDifficulty),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusCreated, profile)
}

type profilePatch struct {
	Name                *string   `json:"name"`
	Level               *int      `json:"level"`
	Job                 *string   `json:"job"`
	Server              *string   `json:"server"`
	FavoriteClasses     *[]string `json:"favoriteClasses"`
	PreferredDifficulty *string   `json:"preferredDifficulty"`
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req profilePatch
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "malformed profile payload")
		return
	}
	update := session.ProfileUpdate{
		Name:            req.Name,
		Level:           req.Level,
		Job:             req.Job,
		Server:          req.Server,
		FavoriteClasses: req.FavoriteClasses,
	}
	if req.PreferredDifficulty != nil {
		d := model.Difficulty(*req.PreferredDifficulty)
		update.PreferredDifficulty = &d
	}
	profile, err := s.Session.UpdateProfile(r.Context(), update)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, profile)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.Logout(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, nil)
}

type reputationRequest struct {
	Change     int    `json:"change"`
	Reason     string `json:"reason"`
	FromPlayer string `json:"fromPlayer"`
}

func (s *Server) addReputation(w http.ResponseWriter, r *http.Request) {
	var req reputationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "malformed reputation payload")
		return
	}
	entry, err := s.Session.AddReputationChange(r.Context(), req.Change, req.Reason, req.FromPlayer)
	if err != nil {
		respondError(w, err)
		return
	}
	if profile, perr := s.currentProfile(r); perr == nil {
		s.Notify.ReputationChange(r.Context(), entry, profile.Reputation)
	}
	respondData(w, http.StatusOK, entry)
}

// --- parties ---

type partyRequest struct {
	BossName       string     `json:"bossName"`
	Difficulty     string     `json:"difficulty"`
	MaxMembers     int        `json:"maxMembers"`
	ScheduledTime  *time.Time `json:"scheduledTime"`
	Server         string     `json:"server"`
	Requirements   string     `json:"requirements"`
	Description    string     `json:"description"`
	IsPrivate      bool       `json:"isPrivate"`
	AllowedPlayers []string   `json:"allowedPlayers"`
}

func (s *Server) listParties(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := s.Session.Refresh(r.Context()); err != nil {
			respondError(w, err)
			return
		}
	}
	snap, err := s.Session.Snapshot(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{
		"parties":   snap.Parties,
		"myParties": snap.MyParties,
	})
}

func (s *Server) createParty(w http.ResponseWriter, r *http.Request) {
	var req partyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "malformed party payload")
		return
	}
	party, err := s.Session.CreateParty(r.Context(), session.PartyInput{
		BossName:       req.BossName,
		Difficulty:     model.Difficulty(req.Difficulty),
		MaxMembers:     req.MaxMembers,
		ScheduledTime:  req.ScheduledTime,
		Server:         req.Server,
		Requirements:   req.Requirements,
		Description:    req.Description,
		IsPrivate:      req.IsPrivate,
		AllowedPlayers: req.AllowedPlayers,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusCreated, party)
}

func (s *Server) joinParty(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.JoinParty(r.Context(), chi.URLParam(r, "partyID")); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, nil)
}

func (s *Server) leaveParty(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.LeaveParty(r.Context(), chi.URLParam(r, "partyID")); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, nil)
}

func (s *Server) deleteParty(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.DeleteParty(r.Context(), chi.URLParam(r, "partyID")); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, nil)
}

type inviteRequest struct {
	PlayerName string `json:"playerName"`
}

func (s *Server) inviteToParty(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil || req.PlayerName == "" {
		respondBadRequest(w, "playerName is required")
		return
	}
	if err := s.Session.InviteToParty(r.Context(), chi.URLParam(r, "partyID"), req.PlayerName); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, nil)
}

func (s *Server) myInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := s.Session.MyInvites(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	for _, inv := range invites {
		if inv.Status == model.InvitePending {
			s.Notify.PartyInvite(r.Context(), inv)
		}
	}
	respondData(w, http.StatusOK, invites)
}

type respondInviteRequest struct {
	Accept bool `json:"accept"`
}

func (s *Server) respondToInvite(w http.ResponseWriter, r *http.Request) {
	var req respondInviteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "malformed response payload")
		return
	}
	inviteID := chi.URLParam(r, "inviteID")
	if err := s.Session.RespondToInvite(r.Context(), inviteID, req.Accept); err != nil {
		respondError(w, err)
		return
	}
	s.Notify.ClearInvite(inviteID)
	respondData(w, http.StatusOK, nil)
}

// --- buffs ---

type buffRequest struct {
	BuffType      string    `json:"buffType"`
	ScheduledTime time.Time `json:"scheduledTime"`
	Location      string    `json:"location"`
	Description   string    `json:"description"`
}

func (s *Server) listBuffs(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.Buffs.List(r.Context(),
		r.URL.Query().Get("server"),
		model.BuffType(r.URL.Query().Get("buffType")))
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, schedules)
}

func (s *Server) createBuff(w http.ResponseWriter, r *http.Request) {
	var req buffRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "malformed buff payload")
		return
	}
	profile, err := s.currentProfile(r)
	if err != nil {
		respondError(w, err)
		return
	}
	sched, err := s.Buffs.Create(r.Context(), buff.CreateInput{
		PlayerID:      profile.ID,
		PlayerName:    profile.Name,
		Server:        profile.Server,
		BuffType:      model.BuffType(req.BuffType),
		ScheduledTime: req.ScheduledTime,
		Location:      req.Location,
		Description:   req.Description,
		Reputation:    profile.Reputation,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	armed := s.Notify.ScheduleBuffReminders(*sched)
	s.Log.Debug("buff reminders armed", zap.String("schedule", sched.ID), zap.Int("count", armed))
	respondData(w, http.StatusCreated, sched)
}

type voteRequest struct {
	VoteType string `json:"voteType"`
	Reason   string `json:"reason"`
}

func (s *Server) voteBuff(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "malformed vote payload")
		return
	}
	profile, err := s.currentProfile(r)
	if err != nil {
		respondError(w, err)
		return
	}
	err = s.Buffs.Vote(r.Context(), chi.URLParam(r, "scheduleID"), profile.ID,
		model.VoteType(req.VoteType), req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, nil)
}

func (s *Server) confirmBuff(w http.ResponseWriter, r *http.Request) {
	profile, err := s.currentProfile(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.Buffs.Confirm(r.Context(), chi.URLParam(r, "scheduleID"), profile.ID); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, nil)
}

func (s *Server) cancelBuff(w http.ResponseWriter, r *http.Request) {
	profile, err := s.currentProfile(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.Buffs.Cancel(r.Context(), chi.URLParam(r, "scheduleID"), profile.ID); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, nil)
}

func (s *Server) buffStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Buffs.Stats(r.Context(), r.URL.Query().Get("server"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, stats)
}

// --- sync codes ---

func (s *Server) syncUpload(w http.ResponseWriter, r *http.Request) {
	profile, err := s.currentProfile(r)
	if err != nil {
		respondError(w, err)
		return
	}
	code, err := s.Sync.Upload(r.Context(), *profile)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusCreated, map[string]string{"code": code})
}

type restoreRequest struct {
	Code string `json:"code"`
}

func (s *Server) syncRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" {
		respondBadRequest(w, "code is required")
		return
	}
	profile, err := s.Sync.Download(r.Context(), req.Code)
	if err != nil {
		respondError(w, err)
		return
	}
	installed, err := s.Session.ImportProfile(r.Context(), profile)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, installed)
}

func (s *Server) syncHistory(w http.ResponseWriter, r *http.Request) {
	profile, err := s.currentProfile(r)
	if err != nil {
		respondError(w, err)
		return
	}
	history, err := s.Sync.History(r.Context(), profile.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, history)
}

func (s *Server) pendingSync(w http.ResponseWriter, r *http.Request) {
	pending, err := s.Session.PendingSync(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, pending)
}

// --- notifications ---

func (s *Server) getPermission(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]string{"permission": string(s.Notify.Permission())})
}

func (s *Server) requestPermission(w http.ResponseWriter, r *http.Request) {
	p := s.Notify.RequestPermission(r.Context())
	respondData(w, http.StatusOK, map[string]string{"permission": string(p)})
}

// --- chat ---

func (s *Server) chatLog(w http.ResponseWriter, r *http.Request) {
	log, err := s.Chat.RoomLog(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		respondError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	respondData(w, http.StatusOK, log)
}

func (s *Server) currentProfile(r *http.Request) (*model.PlayerProfile, error) {
	snap, err := s.Session.Snapshot(r.Context())
	if err != nil {
		return nil, err
	}
	if snap.Profile == nil {
		return nil, session.ErrNoProfile
	}
	return snap.Profile, nil
}
