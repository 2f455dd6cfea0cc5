// Package clock abstracts time so resolution ordering is deterministic in tests.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

// System is the default runtime clock implementation.
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}
