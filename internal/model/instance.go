package model

import "time"

// Instance status values.
const (
	InstanceEnabled  = 0
	InstanceDisabled = 1
)

// Expiry notification modes.
const (
	NotifyNone     = "none"
	NotifyEnroller = "enroller"
	NotifyAll      = "all"
)

// Welcome message send modes. The mode picks the "from" contact on the
// welcome email; WelcomeNone disables the message entirely.
const (
	WelcomeNone          = "none"
	WelcomeCourseContact = "course_contact"
	WelcomeKeyHolder     = "key_holder"
	WelcomeNoReply       = "no_reply"
)

// Expired-enrolment dispositions applied by the reconciliation engine.
const (
	ExpiredKeep    = "keep"
	ExpiredSuspend = "suspend_no_roles"
	ExpiredUnenrol = "unenrol"
)

// Instance is one configured deployment of the token enrolment method on a
// course. Zero means "unset" for EnrolStart, EnrolEnd, EnrolPeriod,
// MaxEnrolled, InactivityTimeout and CohortID.
type Instance struct {
	ID                int64     `json:"id"`
	CourseID          int64     `json:"course_id"`
	Name              string    `json:"name"`
	Status            int       `json:"status"`
	RoleID            int64     `json:"role_id"`
	EnrolStart        int64     `json:"enrol_start"`
	EnrolEnd          int64     `json:"enrol_end"`
	EnrolPeriod       int64     `json:"enrol_period"`
	ExpiryNotify      string    `json:"expiry_notify"`
	ExpiryThreshold   int64     `json:"expiry_threshold"`
	InactivityTimeout int64     `json:"inactivity_timeout"`
	MaxEnrolled       int       `json:"max_enrolled"`
	AllowNew          bool      `json:"allow_new"`
	CohortID          int64     `json:"cohort_id"`
	WelcomeMode       string    `json:"welcome_mode"`
	WelcomeMessage    string    `json:"welcome_message"`
	CreatedAt         time.Time `json:"created_at"`
}

// Enabled reports whether the instance accepts enrolments at all.
func (i *Instance) Enabled() bool {
	return i.Status == InstanceEnabled
}
