package flow

import (
	"fmt"

	"github.com/emolens/emolens/internal/model"
)

// TransitionError reports an operation invoked from a state that does
// not permit it.
type TransitionError struct {
	Op   string
	From model.FlowState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s is not valid while the session is in %q", e.Op, e.From)
}

func (e *TransitionError) Code() string {
	return model.ErrInvalidTransition
}

// NoticeClass distinguishes how a user-facing message should render.
type NoticeClass string

const (
	NoticeInfo  NoticeClass = "info"
	NoticeError NoticeClass = "error"
	// NoticeEmpty is a valid no-data outcome, explicitly not an error.
	NoticeEmpty NoticeClass = "empty"
)

// Notice is the current user-facing message, if any.
type Notice struct {
	Text  string
	Class NoticeClass
	Code  string
}
