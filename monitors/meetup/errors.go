package meetup

import "errors"

var (
	ErrNoRole  = errors.New("meetup: role missing")
	ErrNoEmbed = errors.New("meetup: card has no embed")
)
