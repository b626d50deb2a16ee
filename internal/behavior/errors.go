package behavior

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransitionNotAllowed = errors.New("phase transition not allowed")
	ErrConsentRequired      = errors.New("consent required")
	ErrUnknownCategory      = errors.New("unknown behavior category")
	ErrProfileNotFound      = errors.New("behavior profile not found")
)

// PolicyError is a refusal by a rule, not a failure. Reasons lists what blocked it.
type PolicyError struct {
	Op         string
	Err        error
	Reasons    []string
	ConsentKey string // set for ErrConsentRequired
}

func (e *PolicyError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, strings.Join(e.Reasons, "; "))
}

func (e *PolicyError) Unwrap() error { return e.Err }

// IsPolicy reports whether err is (or wraps) a PolicyError.
func IsPolicy(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}
