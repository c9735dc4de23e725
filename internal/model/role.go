package model

import "time"

// Capabilities checked by the enrolment engine. A user holds a capability in
// a course when any role assigned to them there carries it.
const (
	CapEnrolSelf   = "token:enrolself"
	CapUnenrolSelf = "token:unenrolself"
	CapManage      = "token:manage"
	CapHoldKey     = "token:holdkey"
)

// Role is an assignable role. SortOrder ranks authority: lower values mean
// higher authority (used to pick the enroller contact).
type Role struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	SortOrder int    `json:"sort_order"`
}

// Cohort is a named user group usable as an enrolment eligibility filter.
type Cohort struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
