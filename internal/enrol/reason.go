// Package enrol implements the token enrolment lifecycle: availability
// checks, token redemption, periodic reconciliation and expiry notification.
package enrol

import (
	"fmt"
	"time"
)

// ReasonCode identifies why self-enrolment was refused. The zero value means
// enrolment is allowed.
type ReasonCode int

const (
	ReasonNone ReasonCode = iota
	ReasonGuest
	ReasonCannotEnrol
	ReasonTooEarly
	ReasonTooLate
	ReasonMaxReached
	ReasonCohortOnly
	ReasonInvalidToken
)

// Reason is the availability verdict: a code plus the user-facing message.
// The zero Reason means "allowed".
type Reason struct {
	Code    ReasonCode `json:"code"`
	Message string     `json:"message"`
}

// Allowed reports whether enrolment may proceed.
func (r Reason) Allowed() bool {
	return r.Code == ReasonNone
}

func reasonGuest() Reason {
	return Reason{ReasonGuest, "Guests cannot access this course. Please log in."}
}

func reasonCannotEnrol() Reason {
	return Reason{ReasonCannotEnrol, "Enrolment is disabled or inactive"}
}

func reasonTooEarly(start int64) Reason {
	return Reason{ReasonTooEarly, fmt.Sprintf("You cannot enrol yet; enrolment starts on %s.", formatDate(start))}
}

func reasonTooLate(end int64) Reason {
	return Reason{ReasonTooLate, fmt.Sprintf("You cannot enrol any more, since enrolment ended on %s.", formatDate(end))}
}

func reasonMaxReached() Reason {
	return Reason{ReasonMaxReached, "Maximum number of users allowed to token-enrol was already reached."}
}

func reasonCohortOnly(name string) Reason {
	return Reason{ReasonCohortOnly, fmt.Sprintf("Only members of cohort '%s' can token-enrol.", name)}
}

func reasonInvalidToken() Reason {
	return Reason{ReasonInvalidToken, "Incorrect enrolment token, please try again"}
}

func formatDate(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2 January 2006, 3:04 PM")
}
