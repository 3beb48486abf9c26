package api

import (
	"net/http"

	"github.com/platinummonkey/backoffice/pkg/httputil"
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/users"
)

type roleChangeRequest struct {
	RoleID int64 `json:"role_id"`
}

type statusChangeRequest struct {
	Status models.UserStatus `json:"status"`
}

type reauthRequest struct {
	Password string `json:"password"`
}

// createUser handles POST /v1/users
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req users.CreateRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	c := caller(r)
	user, err := s.services.Users.CreateUser(r.Context(), c.Session, c.ActorID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// listUsers handles GET /v1/tenants/{id}/users
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	list, err := s.services.Users.List(r.Context(), caller(r).ActorID, tenantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"users": list,
		"count": len(list),
	})
}

// getUser handles GET /v1/users/{id}
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	user, err := s.services.Users.Get(r.Context(), caller(r).ActorID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// changeUserRole handles PUT /v1/users/{id}/role
func (s *Server) changeUserRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req roleChangeRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	c := caller(r)
	user, err := s.services.Users.ChangeUserRole(r.Context(), c.Session, c.ActorID, id, req.RoleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// changeUserStatus handles PUT /v1/users/{id}/status
func (s *Server) changeUserStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req statusChangeRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	c := caller(r)
	user, err := s.services.Users.ChangeUserStatus(r.Context(), c.Session, c.ActorID, id, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// impersonate handles POST /v1/users/{id}/impersonate. The returned session
// is handed back to the gateway, which issues the impersonation credential.
func (s *Server) impersonate(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	c := caller(r)
	imp, err := s.services.Users.Impersonate(r.Context(), c.Session, c.ActorID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, imp)
}

// reauthenticate handles POST /v1/session/reauth
func (s *Server) reauthenticate(w http.ResponseWriter, r *http.Request) {
	var req reauthRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	c := caller(r)
	if err := s.services.Users.Reauthenticate(r.Context(), c.Session, c.ActorID, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
