package enrollment

import "errors"

var (
	ErrNoRole         = errors.New("enrollment: notification role missing")
	ErrNoFormState    = errors.New("enrollment: query page has no form state")
	ErrTableMissing   = errors.New("enrollment: result table not found")
	ErrCourseNotFound = errors.New("enrollment: course not in results")
	ErrBadRow         = errors.New("enrollment: malformed course row")
)
