package api

import (
	"net/http"

	"github.com/platinummonkey/backoffice/pkg/httputil"
	"github.com/platinummonkey/backoffice/pkg/tenants"
)

type seatLimitRequest struct {
	SeatLimit int `json:"seat_limit"`
}

// createTenant handles POST /v1/tenants
func (s *Server) createTenant(w http.ResponseWriter, r *http.Request) {
	var req tenants.CreateRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	c := caller(r)
	tenant, err := s.services.Tenants.Create(r.Context(), c.Session, c.ActorID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, tenant)
}

// listTenants handles GET /v1/tenants
func (s *Server) listTenants(w http.ResponseWriter, r *http.Request) {
	includeDeleted, err := httputil.ParseQueryBool(r, "include_deleted", false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	list, err := s.services.Tenants.List(r.Context(), caller(r).ActorID, includeDeleted)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"tenants": list,
		"count":   len(list),
	})
}

// getTenant handles GET /v1/tenants/{id}
func (s *Server) getTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	tenant, err := s.services.Tenants.Get(r.Context(), caller(r).ActorID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}

// updateTenant handles PATCH /v1/tenants/{id}
func (s *Server) updateTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req tenants.UpdateRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	c := caller(r)
	tenant, err := s.services.Tenants.Update(r.Context(), c.Session, c.ActorID, id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}

// updateSeatLimit handles PUT /v1/tenants/{id}/seat-limit
func (s *Server) updateSeatLimit(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req seatLimitRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	c := caller(r)
	tenant, err := s.services.Tenants.UpdateSeatLimit(r.Context(), c.Session, c.ActorID, id, req.SeatLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}

// suspendTenant handles POST /v1/tenants/{id}/suspend
func (s *Server) suspendTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	c := caller(r)
	tenant, err := s.services.Tenants.Suspend(r.Context(), c.Session, c.ActorID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}

// resumeTenant handles POST /v1/tenants/{id}/resume
func (s *Server) resumeTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	c := caller(r)
	tenant, err := s.services.Tenants.Resume(r.Context(), c.Session, c.ActorID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}

// deleteTenant handles DELETE /v1/tenants/{id}
func (s *Server) deleteTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	c := caller(r)
	if err := s.services.Tenants.Delete(r.Context(), c.Session, c.ActorID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// getSeats handles GET /v1/tenants/{id}/seats. Anyone who can view the tenant
// can see its seat usage.
func (s *Server) getSeats(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.services.Tenants.Get(r.Context(), caller(r).ActorID, id); err != nil {
		s.writeError(w, r, err)
		return
	}

	usage, err := s.services.Seats.Usage(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, usage)
}
