package channels

import "fmt"

// ErrChannelNotFound is returned when a message has no destination and the
// sink has no fallback channel configured.
type ErrChannelNotFound struct {
	Channel string
}

func (e *ErrChannelNotFound) Error() string {
	if e.Channel == "" {
		return "channels: no destination channel"
	}
	return fmt.Sprintf("channels: channel not found: %s", e.Channel)
}

// ErrSendFailed is returned when a message could not be delivered to the
// platform.
type ErrSendFailed struct {
	Channel  string
	Platform string
	Cause    error
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("channels: send failed on %s (%s): %v", e.Channel, e.Platform, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }
