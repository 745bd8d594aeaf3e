package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tdowney/isolab/internal/store"
)

// MisuseError signals an action issued to an actor in an illegal state,
// such as a commit before begin. It marks a harness or scenario bug, not
// a store behavior, and always aborts the run.
type MisuseError struct {
	Role   string
	Action Action
	State  State
}

// Error implements the error interface.
func (e *MisuseError) Error() string {
	return fmt.Sprintf("ACTOR_MISUSE: actor %s cannot %s in state %s", e.Role, e.Action, e.State)
}

// IsMisuse reports whether the error is an actor state-machine violation.
// Uses errors.As to handle wrapped errors.
func IsMisuse(err error) bool {
	var me *MisuseError
	return errors.As(err, &me)
}

// AssertionError is returned when a scenario assertion fails. It keeps
// expected and actual as rendered strings so the report stays readable.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion %s failed: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// outcomeCode renders the classification of a step failure for the log.
func outcomeCode(err error) string {
	if IsMisuse(err) {
		return "ACTOR_MISUSE"
	}
	return string(store.CodeOf(err))
}

// outcomeMessage renders the human part of a step failure, without the
// code prefix the entry already carries.
func outcomeMessage(err error) string {
	var se *store.StepError
	if errors.As(err, &se) {
		return se.Message
	}
	var me *MisuseError
	if errors.As(err, &me) {
		return fmt.Sprintf("cannot %s in state %s", me.Action, me.State)
	}
	return strings.TrimSpace(err.Error())
}
