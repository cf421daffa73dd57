package model

import "time"

// PortalSession is one browser's session row. MembershipNumber is the last
// member logged in through it.
type PortalSession struct {
	ID               int64     `json:"id"`
	Token            string    `json:"-"`
	MembershipNumber string    `json:"membership_number"`
	ExpiresAt        time.Time `json:"expires_at"`
	LastSeenAt       time.Time `json:"last_seen_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// Activity kinds.
const (
	ActivityLogin   = "login"
	ActivityView    = "view"
	ActivitySelect  = "select"
	ActivityAccept  = "household_accept"
	ActivityDecline = "household_decline"
	ActivityEnroll  = "enroll"
)

// Activity outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Activity is one user action recorded against a portal session.
type Activity struct {
	ID               int64     `json:"id"`
	SessionID        int64     `json:"-"`
	Kind             string    `json:"kind"`
	MembershipNumber string    `json:"membership_number,omitempty"`
	Detail           string    `json:"detail,omitempty"`
	Outcome          string    `json:"outcome"`
	CreatedAt        time.Time `json:"created_at"`
}
