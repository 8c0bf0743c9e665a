package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/ljungh/tandem/internal/session"
)

// RestAPI is the request/response control surface. The event surface stays
// on the websocket; everything here is plain JSON over HTTP.
type RestAPI struct {
	coord Coordinator
}

// NewRestAPI creates the control surface handler set.
func NewRestAPI(coord Coordinator) *RestAPI {
	return &RestAPI{coord: coord}
}

// RegisterRoutes mounts the control surface on a router.
func (api *RestAPI) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/sessions", api.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}", api.handleGetState).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", api.handleEnd).Methods(http.MethodDelete)
	r.HandleFunc("/api/sessions/{id}/join", api.handleJoin).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}/offset", api.handleOffset).Methods(http.MethodPut)
}

type createSessionRequest struct {
	HostUserID string `json:"host_user_id"`
}

func (api *RestAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, session.ErrInvalid)
		return
	}

	view, err := api.coord.CreateSession(req.HostUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

type joinSessionRequest struct {
	UserID string `json:"user_id"`
}

func (api *RestAPI) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, session.ErrInvalid)
		return
	}

	// REST joins register membership only; the correction channel opens once
	// the client binds its websocket with join_session.
	result, err := api.coord.JoinSession(mux.Vars(r)["id"], req.UserID, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type updateOffsetRequest struct {
	UserID   string `json:"user_id"`
	OffsetMs int64  `json:"offset_ms"`
}

type updateOffsetResponse struct {
	OffsetMs int64 `json:"offset_ms"`
}

func (api *RestAPI) handleOffset(w http.ResponseWriter, r *http.Request) {
	var req updateOffsetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, session.ErrInvalid)
		return
	}

	clamped, err := api.coord.UpdateOffset(mux.Vars(r)["id"], req.UserID, req.OffsetMs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updateOffsetResponse{OffsetMs: clamped})
}

func (api *RestAPI) handleGetState(w http.ResponseWriter, r *http.Request) {
	view, err := api.coord.GetState(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *RestAPI) handleEnd(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, session.ErrInvalid)
		return
	}

	if err := api.coord.EndSession(mux.Vars(r)["id"], userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

// writeError maps the session error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, session.ErrSessionFull), errors.Is(err, session.ErrCapacityExceeded):
		status = http.StatusConflict
	case errors.Is(err, session.ErrSessionEnded):
		status = http.StatusGone
	case errors.Is(err, session.ErrInvalid):
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}
