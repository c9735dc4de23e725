package model

import "time"

// Course is the minimal course record the enrolment engine needs.
type Course struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"full_name"`
	ShortName string    `json:"short_name"`
	CreatedAt time.Time `json:"created_at"`
}
