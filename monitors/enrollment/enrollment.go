// Package enrollment watches course seat availability on the university's
// course query portal and pings a per-course role when seats open up or
// fill again.
package enrollment

import (
	"fmt"

	"github.com/yu320/NBot/registry"
	"github.com/yu320/NBot/watch"
)

// Domain is the registry and scheduler name of this monitor.
const Domain = "enrollment"

// Course states.
const (
	Available = "AVAILABLE"
	Full      = "FULL"
)

// DefaultMax is used when the capacity cell carries no number.
const DefaultMax = 999

// Entry is one watched course as stored in monitor_list.json.
type Entry struct {
	CourseID   string      `json:"course_id"`
	AcadSeme   string      `json:"acad_seme"`
	ChannelID  registry.ID `json:"channel_id"`
	UserID     registry.ID `json:"user_id"`
	RoleID     registry.ID `json:"role_id,omitempty"`
	SetBy      string      `json:"set_by"`
	LastStatus string      `json:"last_status,omitempty"`
	CourseName string      `json:"course_name,omitempty"`
}

func (e Entry) Key() string { return e.CourseID }

func (e Entry) Title() string {
	if e.CourseName != "" {
		return e.CourseName
	}
	return e.CourseID
}

func (e Entry) Status() watch.State { return watch.Scalar(e.LastStatus) }

func (e Entry) WithStatus(s watch.State) Entry {
	e.LastStatus = s.Value()
	return e
}

// Snapshot is one reading of the course row.
type Snapshot struct {
	CourseID string
	Name     string
	Current  int
	Max      int
}

// Classify reports AVAILABLE while enrolment is below capacity.
func Classify(s Snapshot) watch.State {
	if s.Current < s.Max {
		return watch.Scalar(Available)
	}
	return watch.Scalar(Full)
}

// Refresh copies the course name from a reading.
func Refresh(e Entry, s Snapshot) Entry {
	if s.Name != "" {
		e.CourseName = s.Name
	}
	return e
}

// Validate skips entries whose notification role was lost.
func Validate(e Entry) error {
	if e.RoleID == "" {
		return fmt.Errorf("%w: course %s", ErrNoRole, e.CourseID)
	}
	return nil
}
