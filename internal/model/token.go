package model

import "time"

// Token is a single-use secret that grants enrolment through one instance.
// TimeUsed and UsedBy are zero until the token is redeemed; once set they
// never change.
type Token struct {
	ID         int64     `json:"id"`
	InstanceID int64     `json:"instance_id"`
	Secret     string    `json:"secret"`
	TimeUsed   int64     `json:"time_used"`
	UsedBy     *int64    `json:"used_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// Used reports whether the token has been redeemed.
func (t *Token) Used() bool {
	return t.TimeUsed != 0
}
