package traffic

import "errors"

var (
	ErrBadIP        = errors.New("traffic: invalid ip address")
	ErrTableMissing = errors.New("traffic: no table on page")
	ErrNoRowToday   = errors.New("traffic: no row for today")
	ErrBadTotal     = errors.New("traffic: total is not a number")
)
