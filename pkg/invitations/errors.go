package invitations

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/platinummonkey/backoffice/pkg/domainerr"
)

// CooldownError is returned when an invitation is resent before the cooldown
// since the previous send has elapsed
type CooldownError struct {
	InvitationID int64
	SecondsLeft  int
	RetryAt      time.Time
}

func newCooldownError(id int64, retryAt, now time.Time) *CooldownError {
	return &CooldownError{
		InvitationID: id,
		SecondsLeft:  int(math.Ceil(retryAt.Sub(now).Seconds())),
		RetryAt:      retryAt,
	}
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("invitation was sent recently, try again in %d seconds", e.SecondsLeft)
}

// ErrorCode implements the domainerr coder interface
func (e *CooldownError) ErrorCode() domainerr.Code {
	return domainerr.CodeCooldownActive
}

// Is matches domainerr sentinels carrying the cooldown code
func (e *CooldownError) Is(target error) bool {
	var de *domainerr.Error
	return errors.As(target, &de) && de.Code == domainerr.CodeCooldownActive
}

// IsCooldownActive checks if an error is a cooldown error
func IsCooldownActive(err error) bool {
	var e *CooldownError
	return errors.As(err, &e)
}
