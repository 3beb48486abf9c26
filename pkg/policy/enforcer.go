package policy

import (
	"context"

	"github.com/platinummonkey/backoffice/pkg/observability"
)

// Enforcer evaluates decisions for services and records them
type Enforcer struct {
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewEnforcer creates an enforcer. Both arguments may be nil.
func NewEnforcer(metrics *observability.Metrics, logger *observability.Logger) *Enforcer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Enforcer{metrics: metrics, logger: logger}
}

// Authorize returns nil when actor may perform action on target, and the
// coded denial otherwise
func (e *Enforcer) Authorize(ctx context.Context, actor Actor, action Action, target Target) error {
	d := Evaluate(actor, action, target)
	e.metrics.RecordDecision(string(action), d.Allowed, string(d.Reason))
	if !d.Allowed {
		e.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"actor_id":    actor.ID,
			"action":      action,
			"target_kind": target.Kind,
			"target_id":   target.ID,
			"reason":      d.Reason,
		}).Info("policy denied")
	}
	return d.Err()
}
