package townsvc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"townsquare.app/internal/protocol"
)

type createTownRequest struct {
	FriendlyName   string `json:"friendlyName"`
	PubliclyListed bool   `json:"publiclyListed"`
}

type createTownResponse struct {
	TownID         string `json:"townId"`
	UpdatePassword string `json:"updatePassword"`
}

type townListEntry struct {
	TownID       string `json:"townId"`
	FriendlyName string `json:"friendlyName"`
	Occupancy    int    `json:"occupancy"`
	Capacity     int    `json:"capacity"`
}

type listTownsResponse struct {
	Towns []townListEntry `json:"towns"`
}

type updateTownRequest struct {
	UpdatePassword string `json:"updatePassword"`
	FriendlyName   string `json:"friendlyName"`
	PubliclyListed bool   `json:"publiclyListed"`
}

type deleteTownRequest struct {
	UpdatePassword string `json:"updatePassword"`
}

type joinTownRequest struct {
	UserName string `json:"userName"`
}

type joinTownResponse struct {
	Token          string                    `json:"token"`
	PlayerID       string                    `json:"playerId"`
	FriendlyName   string                    `json:"friendlyName"`
	PubliclyListed bool                      `json:"publiclyListed"`
	CurrentPlayers []protocol.PlayerSnapshot `json:"currentPlayers"`
}

// Register wires the town management endpoints onto the mux:
//
//	POST   /towns                create a town
//	GET    /towns                list public towns
//	PATCH  /towns/{id}           update listing (password-gated)
//	DELETE /towns/{id}           destroy the town (password-gated)
//	POST   /towns/{id}/sessions  issue a join session
func (c *Coordinator) Register(mux *http.ServeMux) {
	mux.HandleFunc("/towns", c.handleTowns)
	mux.HandleFunc("/towns/", c.handleTown)
}

func (c *Coordinator) handleTowns(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createTownRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.FriendlyName) == "" {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest)
			return
		}
		info, err := c.CreateTown(req.FriendlyName, req.PubliclyListed)
		if err != nil {
			writeError(rw, http.StatusInternalServerError, protocol.ErrInternal)
			return
		}
		writeJSON(rw, http.StatusOK, createTownResponse{TownID: info.TownID, UpdatePassword: info.UpdatePassword})

	case http.MethodGet:
		resp := listTownsResponse{Towns: []townListEntry{}}
		for _, t := range c.ListTowns() {
			resp.Towns = append(resp.Towns, townListEntry{
				TownID:       t.TownID,
				FriendlyName: t.FriendlyName,
				Occupancy:    t.Occupancy,
				Capacity:     t.Capacity,
			})
		}
		writeJSON(rw, http.StatusOK, resp)

	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (c *Coordinator) handleTown(rw http.ResponseWriter, r *http.Request) {
	// Patterns: /towns/{id} and /towns/{id}/sessions
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/towns/"), "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		c.handleTownByID(rw, r, parts[0])
	case len(parts) == 2 && parts[1] == "sessions":
		c.handleJoinTown(rw, r, parts[0])
	default:
		http.NotFound(rw, r)
	}
}

func (c *Coordinator) handleTownByID(rw http.ResponseWriter, r *http.Request, townID string) {
	switch r.Method {
	case http.MethodPatch:
		var req updateTownRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.FriendlyName) == "" {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest)
			return
		}
		writeTownError(rw, c.UpdateTown(townID, req.UpdatePassword, req.FriendlyName, req.PubliclyListed))

	case http.MethodDelete:
		var req deleteTownRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest)
			return
		}
		writeTownError(rw, c.DeleteTown(townID, req.UpdatePassword))

	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (c *Coordinator) handleJoinTown(rw http.ResponseWriter, r *http.Request, townID string) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req joinTownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.UserName) == "" {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest)
		return
	}
	info, err := c.IssueSession(townID, req.UserName)
	if err != nil {
		writeTownError(rw, err)
		return
	}
	if info.CurrentPlayers == nil {
		info.CurrentPlayers = []protocol.PlayerSnapshot{}
	}
	writeJSON(rw, http.StatusOK, joinTownResponse{
		Token:          info.Token,
		PlayerID:       info.PlayerID,
		FriendlyName:   info.FriendlyName,
		PubliclyListed: info.PubliclyListed,
		CurrentPlayers: info.CurrentPlayers,
	})
}

func writeTownError(rw http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(rw, http.StatusOK, struct{}{})
	case errors.Is(err, ErrTownNotFound):
		writeError(rw, http.StatusNotFound, protocol.ErrTownNotFound)
	case errors.Is(err, ErrBadPassword):
		writeError(rw, http.StatusUnauthorized, protocol.ErrBadPassword)
	case errors.Is(err, ErrTownFull):
		writeError(rw, http.StatusConflict, protocol.ErrTownFull)
	default:
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code string) {
	writeJSON(rw, status, map[string]string{"error": code})
}
