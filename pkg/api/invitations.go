package api

import (
	"net/http"

	"github.com/platinummonkey/backoffice/pkg/httputil"
	"github.com/platinummonkey/backoffice/pkg/invitations"
)

type acceptRequest struct {
	Token string `json:"token"`
	invitations.AcceptPayload
}

// createInvitation handles POST /v1/invitations
func (s *Server) createInvitation(w http.ResponseWriter, r *http.Request) {
	var req invitations.CreateRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	c := caller(r)
	inv, err := s.services.Invitations.Create(r.Context(), c.Session, c.ActorID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	inv.Token = ""
	httputil.WriteCreated(w, inv)
}

// listInvitations handles GET /v1/invitations?tenant_id=
func (s *Server) listInvitations(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.ParseQueryInt64Ptr(r, "tenant_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	list, err := s.services.Invitations.List(r.Context(), caller(r).ActorID, tenantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"invitations": list,
		"count":       len(list),
	})
}

// getInvitation handles GET /v1/invitations/{id}
func (s *Server) getInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	inv, err := s.services.Invitations.Get(r.Context(), caller(r).ActorID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, inv)
}

// resendInvitation handles POST /v1/invitations/{id}/resend
func (s *Server) resendInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	c := caller(r)
	inv, err := s.services.Invitations.Resend(r.Context(), c.Session, c.ActorID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	inv.Token = ""
	httputil.WriteSuccess(w, inv)
}

// cancelInvitation handles POST /v1/invitations/{id}/cancel
func (s *Server) cancelInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	c := caller(r)
	inv, err := s.services.Invitations.Cancel(r.Context(), c.Session, c.ActorID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	inv.Token = ""
	httputil.WriteSuccess(w, inv)
}

// acceptInvitation handles POST /v1/invitations/accept. The token is the
// credential, so this route needs no caller.
func (s *Server) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.services.Invitations.Accept(r.Context(), requestSession(r), req.Token, req.AcceptPayload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, user)
}
