package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/backoffice/pkg/domainerr"
	"github.com/platinummonkey/backoffice/pkg/httputil"
	"github.com/platinummonkey/backoffice/pkg/invitations"
	"github.com/platinummonkey/backoffice/pkg/seats"
)

// writeError maps err onto a JSON error response. Seat and cooldown errors
// carry their numbers in details; internal errors are logged and masked.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var details map[string]interface{}

	var seatErr *seats.SeatLimitError
	var cooldown *invitations.CooldownError
	switch {
	case errors.As(err, &seatErr):
		details = map[string]interface{}{
			"tenant_id": seatErr.TenantID,
			"used":      seatErr.Used,
			"limit":     seatErr.Limit,
		}
	case errors.As(err, &cooldown):
		w.Header().Set("Retry-After", strconv.Itoa(cooldown.SecondsLeft))
		details = map[string]interface{}{
			"seconds_left": cooldown.SecondsLeft,
			"retry_at":     cooldown.RetryAt.UTC().Format(time.RFC3339),
		}
	}

	if httputil.StatusFor(domainerr.CodeOf(err)) == http.StatusInternalServerError {
		logger := s.logger.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path)
		if c, ok := CallerFromContext(r.Context()); ok {
			logger = logger.WithField("actor_id", c.ActorID)
		}
		logger.Error("request failed with internal error")
	}
	httputil.WriteError(w, err, details)
}
