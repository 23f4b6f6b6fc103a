// Package traffic watches the campus netflow page for IPs whose daily
// traffic crosses a threshold.
package traffic

import (
	"fmt"
	"net/netip"

	"github.com/yu320/NBot/registry"
	"github.com/yu320/NBot/watch"
)

// Domain is the registry and scheduler name of this monitor.
const Domain = "traffic"

// IP states.
const (
	OK        = "OK"
	OverLimit = "OVER_LIMIT"
)

// DefaultThreshold is the daily limit in GB.
const DefaultThreshold = 10.0

// Entry is one watched IP as stored in ip_monitor_list.json.
type Entry struct {
	IP         string      `json:"ip"`
	UserID     registry.ID `json:"user_id"`
	SetBy      string      `json:"set_by"`
	LastStatus string      `json:"last_status,omitempty"`
}

func (e Entry) Key() string { return e.IP }
func (e Entry) Title() string { return e.IP }
func (e Entry) Status() watch.State { return watch.Scalar(e.LastStatus) }

func (e Entry) WithStatus(s watch.State) Entry {
	e.LastStatus = s.Value()
	return e
}

// Snapshot is today's row for one IP.
type Snapshot struct {
	IP      string
	TotalGB float64
	// Updated is the page's "Current Time" stamp, or "N/A".
	Updated string
}

// Rules classifies snapshots against the limit.
type Rules struct {
	Threshold float64
}

// Classify reports OVER_LIMIT strictly above the threshold.
func (r Rules) Classify(s Snapshot) watch.State {
	if s.TotalGB > r.threshold() {
		return watch.Scalar(OverLimit)
	}
	return watch.Scalar(OK)
}

func (r Rules) threshold() float64 {
	if r.Threshold <= 0 {
		return DefaultThreshold
	}
	return r.Threshold
}

// ParseIP validates and normalises an address.
func ParseIP(s string) (string, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadIP, s)
	}
	return addr.String(), nil
}

// StatusLabel renders a stored status for lists.
func StatusLabel(s string) string {
	switch s {
	case OK:
		return "🟢 normal"
	case OverLimit:
		return "🔴 over limit"
	default:
		return "not checked yet"
	}
}
