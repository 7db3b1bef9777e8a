package domain

import (
	"fmt"
	"time"
)

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

func ParseReviewStatus(s string) (ReviewStatus, error) {
	switch st := ReviewStatus(s); st {
	case ReviewPending, ReviewApproved, ReviewRejected:
		return st, nil
	}
	return "", fmt.Errorf("invalid review status %q", s)
}

// Public reports whether a review in this status is shown on property pages.
func (s ReviewStatus) Public() bool { return s == ReviewApproved }

// Review is a guest review as held by a review store.
type Review struct {
	ID           string       `json:"id"`
	PropertyName string       `json:"property_name"`
	GuestName    string       `json:"guest_name"`
	Channel      string       `json:"channel"`
	Rating       float64      `json:"rating"`
	Text         string       `json:"review_text"`
	Status       ReviewStatus `json:"status"`
	SubmittedAt  time.Time    `json:"submitted_at"`
}
