package model

import "time"

// User is a site account. LastAccess is the last time the user accessed the
// site at all (unix seconds, zero if never); per-course access lives in the
// user_lastaccess table.
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Email      string    `json:"email"`
	IsGuest    bool      `json:"is_guest"`
	LastAccess int64     `json:"last_access"`
	CreatedAt  time.Time `json:"created_at"`
}

// FullName returns "First Last" for message bodies.
func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
