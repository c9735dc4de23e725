package model

import "time"

// Enrolment status values.
const (
	EnrolmentActive    = 0
	EnrolmentSuspended = 1
)

// Enrolment is one user's membership in a course through one instance.
// TimeEnd zero means the enrolment never expires.
type Enrolment struct {
	ID         int64     `json:"id"`
	InstanceID int64     `json:"instance_id"`
	UserID     int64     `json:"user_id"`
	TimeStart  int64     `json:"time_start"`
	TimeEnd    int64     `json:"time_end"`
	Status     int       `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Active reports whether the enrolment is currently active (not suspended).
func (e *Enrolment) Active() bool {
	return e.Status == EnrolmentActive
}

// EnrolmentUser pairs an enrolment with the enrolled user, used by the
// expiry notifier which needs names for ordering and message bodies.
type EnrolmentUser struct {
	Enrolment
	User User `json:"user"`
}
