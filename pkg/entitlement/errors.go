package entitlement

import (
	"errors"
	"fmt"

	"github.com/metergate/metergate/pkg/billing"
)

// LimitExceededError indicates the user's plan cap for a dimension is
// exhausted. It is user-facing: the message names the numeric limit so
// the caller can render an actionable upgrade prompt.
type LimitExceededError struct {
	Dimension billing.Dimension
	Limit     int64
	Used      int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("plan limit reached: %d of %d %s used this billing period; upgrade your plan to continue",
		e.Used, e.Limit, e.Dimension)
}

// IsLimitExceeded checks if an error is a LimitExceededError
func IsLimitExceeded(err error) bool {
	var le *LimitExceededError
	return errors.As(err, &le)
}
