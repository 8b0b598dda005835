package models

import "time"

// TrackingView is the public projection of a submission returned by the
// track-application lookup. It carries no contact details.
type TrackingView struct {
	RequestID     string          `json:"requestId"`
	ServiceType   string          `json:"serviceType"`
	CompanyName   string          `json:"companyName"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"paymentStatus"`
	SubmittedAt   time.Time       `json:"submittedAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Timeline      []TimelineEntry `json:"timeline"`
}

// TimelineEntry is one step of the application timeline.
type TimelineEntry struct {
	Step      string `json:"step"`
	Completed bool   `json:"completed"`
	Current   bool   `json:"current"`
}
