package store

import "time"

// Gatekeeper statuses. Every gatekeeper starts as review-pending; an admin can move
// a record to any status in any order.
const (
	StatusReviewPending = "review-pending"
	StatusApproved      = "approved"
	StatusRejected      = "rejected"
)

func ValidStatus(status string) bool {
	switch status {
	case StatusReviewPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

type GateKeeper struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	DeviceToken string    `json:"deviceToken,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Visit struct {
	ID         string    `json:"id"`
	AnsweredBy *string   `json:"answeredBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Answered reports whether the visit has already been claimed by a gatekeeper.
func (v Visit) Answered() bool {
	return v.AnsweredBy != nil
}
