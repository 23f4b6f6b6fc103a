package stock

import "errors"

// ErrNoData is returned when the chart API has no bars for a ticker.
var ErrNoData = errors.New("stock: no chart data")
