package api

import (
	"encoding/json"
	"net/http"

	"github.com/mtr002/jobpulse/internal/auth"
	"github.com/mtr002/jobpulse/internal/interfaces"
	"github.com/mtr002/jobpulse/internal/users"
)

// createUser is open: profiles are registered by the identity provider's
// signup hook before the caller holds a token
func (h *handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req interfaces.UserCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	user, err := h.users.Register(r.Context(), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *handlers) getMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Me(r.Context(), auth.OwnerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handlers) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handlers) updateUser(w http.ResponseWriter, r *http.Request) {
	var req interfaces.UserUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	user, err := h.users.Update(r.Context(), auth.OwnerFrom(r.Context()), r.PathValue("id"), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", users.DefaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.users.List(r.Context(), skip, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*interfaces.User{}
	}
	writeJSON(w, http.StatusOK, list)
}
