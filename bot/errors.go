package bot

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by operations that need the gateway session
// before it reported Ready.
var ErrNotReady = errors.New("bot: session not ready")

// UserError is a command failure whose message is shown to the caller
// verbatim. Other errors are logged and answered with a generic reply.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string { return e.Msg }

// Errorf builds a UserError.
func Errorf(format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}
